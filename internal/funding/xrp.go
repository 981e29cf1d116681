package funding

import (
	"context"

	"ilpsdk/internal/credential"
	"ilpsdk/pkg/errors"

	"github.com/shopspring/decimal"
)

// DefaultXrpFeeDrops is the transaction cost assumed for PaymentChannelCreate,
// PaymentChannelFund and PaymentChannelClaim.
const DefaultXrpFeeDrops = 12

// dropsToBase converts drops (scale 6) to the xrp-paychan base unit (scale 9).
const dropsToBase = 3

// XrpManager funds XRP ledger payment channels.
type XrpManager struct {
	feeDrops int64
	channels Channels
}

func NewXrpManager(feeDrops int64, channels Channels) *XrpManager {
	if feeDrops <= 0 {
		feeDrops = DefaultXrpFeeDrops
	}
	return &XrpManager{feeDrops: feeDrops, channels: channels}
}

func (m *XrpManager) fee() decimal.Decimal {
	return decimal.NewFromInt(m.feeDrops).Shift(dropsToBase)
}

func (m *XrpManager) DepositFee(_ context.Context, cred credential.Ready) (decimal.Decimal, error) {
	if _, ok := cred.(*credential.XrpCredential); !ok {
		return decimal.Zero, errors.ErrUnknownSettlementType
	}
	return m.fee(), nil
}

func (m *XrpManager) Deposit(ctx context.Context, cred credential.Ready, amount decimal.Decimal) (string, error) {
	if m.channels == nil {
		return "", errors.Wrap(errors.ErrNotSupported, "no xrp channel submitter configured")
	}
	return m.channels.Deposit(ctx, cred, amount)
}

func (m *XrpManager) WithdrawQuote(ctx context.Context, cred credential.Ready) (decimal.Decimal, decimal.Decimal, error) {
	if m.channels == nil {
		return decimal.Zero, decimal.Zero, errors.Wrap(errors.ErrNotSupported, "no xrp channel submitter configured")
	}
	value, err := m.channels.Value(ctx, cred)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return value, m.fee(), nil
}

func (m *XrpManager) Withdraw(ctx context.Context, cred credential.Ready) (string, error) {
	if m.channels == nil {
		return "", errors.Wrap(errors.ErrNotSupported, "no xrp channel submitter configured")
	}
	return m.channels.Withdraw(ctx, cred)
}
