package funding

import (
	"context"
	"math/big"

	"ilpsdk/internal/credential"
	"ilpsdk/pkg/errors"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/params"
	"github.com/shopspring/decimal"
)

// Gas limits of the unidirectional channel contract calls.
const (
	DepositGasLimit  uint64 = 150000
	WithdrawGasLimit uint64 = 100000
)

// GasPricer is the part of an Ethereum client fees are estimated from.
type GasPricer interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

var _ GasPricer = (*ethclient.Client)(nil)

// EthereumManager funds machinomy channels. Each operation is one
// transaction whose fee is gasPrice x gasLimit. A withdrawal claims and
// closes the channel in a single transaction.
type EthereumManager struct {
	gas      GasPricer
	channels Channels
}

func NewEthereumManager(gas GasPricer, channels Channels) *EthereumManager {
	return &EthereumManager{gas: gas, channels: channels}
}

// fee returns gasPrice x gasLimit in gwei, the engine's base unit.
func (m *EthereumManager) fee(ctx context.Context, gasLimit uint64) (decimal.Decimal, error) {
	if m.gas == nil {
		return decimal.Zero, errors.Wrap(errors.ErrNotSupported, "no ethereum rpc configured")
	}
	price, err := m.gas.SuggestGasPrice(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	wei := new(big.Int).Mul(price, new(big.Int).SetUint64(gasLimit))
	return decimal.NewFromBigInt(wei, 0).Div(decimal.NewFromInt(params.GWei)), nil
}

func (m *EthereumManager) DepositFee(ctx context.Context, cred credential.Ready) (decimal.Decimal, error) {
	if _, ok := cred.(*credential.EthereumCredential); !ok {
		return decimal.Zero, errors.ErrUnknownSettlementType
	}
	return m.fee(ctx, DepositGasLimit)
}

func (m *EthereumManager) Deposit(ctx context.Context, cred credential.Ready, amount decimal.Decimal) (string, error) {
	if m.channels == nil {
		return "", errors.Wrap(errors.ErrNotSupported, "no channel contract configured")
	}
	return m.channels.Deposit(ctx, cred, amount)
}

func (m *EthereumManager) WithdrawQuote(ctx context.Context, cred credential.Ready) (decimal.Decimal, decimal.Decimal, error) {
	if m.channels == nil {
		return decimal.Zero, decimal.Zero, errors.Wrap(errors.ErrNotSupported, "no channel contract configured")
	}
	fee, err := m.fee(ctx, WithdrawGasLimit)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	value, err := m.channels.Value(ctx, cred)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return value, fee, nil
}

func (m *EthereumManager) Withdraw(ctx context.Context, cred credential.Ready) (string, error) {
	if m.channels == nil {
		return "", errors.Wrap(errors.ErrNotSupported, "no channel contract configured")
	}
	return m.channels.Withdraw(ctx, cred)
}
