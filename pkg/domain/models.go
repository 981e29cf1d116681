package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// SettlementType identifies a settlement backend
type SettlementType string

const (
	Lightning  SettlementType = "lnd"         // Lightning Network via lnd
	Machinomy  SettlementType = "machinomy"   // Ethereum unidirectional channels
	XrpPaychan SettlementType = "xrp-paychan" // XRP ledger payment channels
)

// SettlementTypes lists every supported backend in registry order.
var SettlementTypes = []SettlementType{Lightning, Machinomy, XrpPaychan}

func ParseSettlementType(s string) (SettlementType, error) {
	t := SettlementType(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range SettlementTypes {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown settlement type %q", s)
}

// Unit is an asset denomination. Scale is the number of decimal places
// relative to the unit of exchange (0 for the exchange unit itself).
type Unit struct {
	AssetCode string `json:"asset_code"`
	Scale     int32  `json:"scale"`
}

func (u Unit) String() string {
	return fmt.Sprintf("%s/%d", u.AssetCode, u.Scale)
}

// Rescale converts an amount between two scales of the same asset.
func Rescale(amount decimal.Decimal, from, to Unit) decimal.Decimal {
	return amount.Shift(to.Scale - from.Scale)
}
