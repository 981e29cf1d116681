package ledger

import (
	"fmt"

	"ilpsdk/pkg/errors"

	"github.com/shopspring/decimal"
)

// Limits bounds an uplink's exposure, in base units.
//
// The settlement fields are expressed as credit extended to the peer, where
// credit = -payable. Settlement runs once credit falls to SettleThreshold and
// tops it back up to SettleTo. Outgoing packets may only spend credit above
// Minimum.
type Limits struct {
	MaxPacketAmount decimal.Decimal `json:"max_packet_amount"`
	MaxReceivable   decimal.Decimal `json:"max_receivable"`
	Maximum         decimal.Decimal `json:"maximum"`
	SettleTo        decimal.Decimal `json:"settle_to"`
	SettleThreshold decimal.Decimal `json:"settle_threshold"`
	Minimum         decimal.Decimal `json:"minimum"`
}

// LimitsFromBudget derives default limits from a max-in-flight budget.
func LimitsFromBudget(maxInFlight decimal.Decimal) Limits {
	m := maxInFlight.Floor()
	return Limits{
		MaxPacketAmount: m,
		MaxReceivable:   m,
		Maximum:         m,
		SettleTo:        m,
		SettleThreshold: m,
		Minimum:         decimal.Zero,
	}
}

// Validate enforces maximum >= settleTo >= settleThreshold >= minimum.
func (l Limits) Validate() error {
	if l.MaxPacketAmount.IsNegative() || l.MaxReceivable.IsNegative() {
		return errors.Wrap(errors.ErrInvalidBalanceConfig, "packet and receivable limits must not be negative")
	}
	if l.Maximum.LessThan(l.SettleTo) {
		return errors.Wrap(errors.ErrInvalidBalanceConfig, fmt.Sprintf("maximum %s below settleTo %s", l.Maximum, l.SettleTo))
	}
	if l.SettleTo.LessThan(l.SettleThreshold) {
		return errors.Wrap(errors.ErrInvalidBalanceConfig, fmt.Sprintf("settleTo %s below settleThreshold %s", l.SettleTo, l.SettleThreshold))
	}
	if l.SettleThreshold.LessThan(l.Minimum) {
		return errors.Wrap(errors.ErrInvalidBalanceConfig, fmt.Sprintf("settleThreshold %s below minimum %s", l.SettleThreshold, l.Minimum))
	}
	return nil
}
