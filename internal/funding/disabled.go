package funding

import (
	"context"
	"fmt"

	"ilpsdk/internal/credential"
	"ilpsdk/internal/domain"
	"ilpsdk/pkg/errors"

	"github.com/shopspring/decimal"
)

// Disabled is the manager for settlement types without on-chain funding
// support in this process.
type Disabled struct {
	settler domain.SettlementType
}

func NewDisabled(t domain.SettlementType) *Disabled {
	return &Disabled{settler: t}
}

func (d *Disabled) err() error {
	return errors.Wrap(errors.ErrNotSupported, fmt.Sprintf("%s funding disabled", d.settler))
}

func (d *Disabled) DepositFee(context.Context, credential.Ready) (decimal.Decimal, error) {
	return decimal.Zero, d.err()
}

func (d *Disabled) Deposit(context.Context, credential.Ready, decimal.Decimal) (string, error) {
	return "", d.err()
}

func (d *Disabled) WithdrawQuote(context.Context, credential.Ready) (decimal.Decimal, decimal.Decimal, error) {
	return decimal.Zero, decimal.Zero, d.err()
}

func (d *Disabled) Withdraw(context.Context, credential.Ready) (string, error) {
	return "", d.err()
}
