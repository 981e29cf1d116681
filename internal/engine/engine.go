// ==============================================================================
// SETTLEMENT ENGINE REGISTRY - internal/engine/engine.go
// ==============================================================================
package engine

import (
	"fmt"
	"sort"
	"sync"

	"ilpsdk/internal/domain"
	"ilpsdk/pkg/errors"

	"github.com/shopspring/decimal"
)

// ConnectorFunc builds the websocket URI of a remote connector for an
// authentication token.
type ConnectorFunc func(token string) string

// SettlementEngine is the static descriptor of one settlement backend.
// One instance exists per type per Registry and is shared by its uplinks.
type SettlementEngine struct {
	Type             domain.SettlementType
	AssetCode        string
	AssetScale       int32
	BaseUnit         domain.Unit
	ExchangeUnit     domain.Unit
	RemoteConnectors map[string]ConnectorFunc
}

// ToBaseUnit converts an amount of exchange units to whole base units, rounding down.
func (e *SettlementEngine) ToBaseUnit(amount decimal.Decimal) decimal.Decimal {
	return domain.Rescale(amount, e.ExchangeUnit, e.BaseUnit).Floor()
}

// ToExchangeUnit converts base units to exchange units.
func (e *SettlementEngine) ToExchangeUnit(amount decimal.Decimal) decimal.Decimal {
	return domain.Rescale(amount, e.BaseUnit, e.ExchangeUnit)
}

// ConnectorURI resolves a named connector to its URI.
func (e *SettlementEngine) ConnectorURI(name, token string) (string, error) {
	fn, ok := e.RemoteConnectors[name]
	if !ok {
		return "", errors.Wrap(errors.ErrUnknownConnector, fmt.Sprintf("%s connector %q", e.Type, name))
	}
	return fn(token), nil
}

// ConnectorNames lists the connectors available to this engine, sorted.
func (e *SettlementEngine) ConnectorNames() []string {
	names := make([]string, 0, len(e.RemoteConnectors))
	for name := range e.RemoteConnectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type descriptor struct {
	assetCode string
	scale     int32
}

var descriptors = map[domain.SettlementType]descriptor{
	domain.Lightning:  {assetCode: "BTC", scale: 8},
	domain.Machinomy:  {assetCode: "ETH", scale: 9},
	domain.XrpPaychan: {assetCode: "XRP", scale: 9},
}

// Assets lists the asset codes of every settlement backend, in settlement
// type order.
func Assets() []string {
	out := make([]string, 0, len(domain.SettlementTypes))
	for _, t := range domain.SettlementTypes {
		out = append(out, descriptors[t].assetCode)
	}
	return out
}

// Registry lazily creates engines for one connector network.
type Registry struct {
	network    string
	connectors map[domain.SettlementType]map[string]ConnectorFunc

	mu      sync.Mutex
	engines map[domain.SettlementType]*SettlementEngine
}

func NewRegistry(network string) (*Registry, error) {
	directory, ok := networks[network]
	if !ok {
		return nil, errors.Wrap(errors.ErrInvalidConfig, fmt.Sprintf("unknown connector network %q", network))
	}
	return &Registry{
		network:    network,
		connectors: directory,
		engines:    make(map[domain.SettlementType]*SettlementEngine),
	}, nil
}

func (r *Registry) Network() string {
	return r.network
}

// Get returns the engine for a settlement type, creating it on first use.
func (r *Registry) Get(t domain.SettlementType) (*SettlementEngine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.engines[t]; ok {
		return e, nil
	}
	d, ok := descriptors[t]
	if !ok {
		return nil, errors.Wrap(errors.ErrUnknownSettlementType, string(t))
	}
	e := &SettlementEngine{
		Type:             t,
		AssetCode:        d.assetCode,
		AssetScale:       d.scale,
		BaseUnit:         domain.Unit{AssetCode: d.assetCode, Scale: d.scale},
		ExchangeUnit:     domain.Unit{AssetCode: d.assetCode, Scale: 0},
		RemoteConnectors: r.connectors[t],
	}
	r.engines[t] = e
	return e, nil
}

// Active lists the engines created so far, in settlement type order.
func (r *Registry) Active() []*SettlementEngine {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*SettlementEngine
	for _, t := range domain.SettlementTypes {
		if e, ok := r.engines[t]; ok {
			out = append(out, e)
		}
	}
	return out
}
