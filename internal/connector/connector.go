// Package connector is an in-process ILP connector. It serves peer
// configuration, routes packets between attached accounts by address prefix
// and converts amounts across assets. Local networks and tests use it as the
// counterparty of uplinks.
package connector

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"ilpsdk/internal/domain"
	"ilpsdk/internal/peerconfig"
	"ilpsdk/internal/rates"
	"ilpsdk/internal/transport"

	"github.com/shopspring/decimal"
)

type account struct {
	name            string
	address         string
	unit            domain.Unit
	end             *transport.PipeEnd
	maxPacketAmount uint64

	mu      sync.Mutex
	settled uint64
}

// Connector routes packets between its accounts.
type Connector struct {
	prefix string
	oracle rates.Oracle
	spread decimal.Decimal

	mu       sync.RWMutex
	accounts map[string]*account
}

// New builds a connector whose accounts live under prefix, e.g. "test.connector".
func New(prefix string, oracle rates.Oracle) *Connector {
	return &Connector{
		prefix:   prefix,
		oracle:   oracle,
		accounts: make(map[string]*account),
	}
}

// SetSpread makes the connector keep a fraction of every converted packet.
func (c *Connector) SetSpread(spread decimal.Decimal) {
	c.spread = spread
}

// Attach creates an account and returns the transport its uplink connects with.
func (c *Connector) Attach(name string, unit domain.Unit) transport.Transport {
	client, server := transport.Pipe(name, c.prefix)
	a := &account{
		name:    name,
		address: c.prefix + "." + name,
		unit:    unit,
		end:     server,
	}
	server.OnIncomingPacket(func(ctx context.Context, p *domain.Prepare) domain.Reply {
		return c.handle(ctx, a, p)
	})
	server.OnIncomingSettlement(func(_ context.Context, amount uint64) {
		a.mu.Lock()
		a.settled += amount
		a.mu.Unlock()
	})
	_ = server.Connect(context.Background())

	c.mu.Lock()
	c.accounts[name] = a
	c.mu.Unlock()
	return client
}

// SetMaxPacketAmount makes the connector reject larger packets from the
// account with F08. Zero removes the limit.
func (c *Connector) SetMaxPacketAmount(name string, limit uint64) {
	c.mu.RLock()
	a, ok := c.accounts[name]
	c.mu.RUnlock()
	if !ok {
		return
	}
	a.mu.Lock()
	a.maxPacketAmount = limit
	a.mu.Unlock()
}

// Settled reports the total settled to the connector by an account.
func (c *Connector) Settled(name string) uint64 {
	c.mu.RLock()
	a, ok := c.accounts[name]
	c.mu.RUnlock()
	if !ok {
		return 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.settled
}

func (c *Connector) handle(ctx context.Context, from *account, p *domain.Prepare) domain.Reply {
	if p.Destination == peerconfig.Destination {
		return peerconfig.Fulfill(peerconfig.PeerConfig{
			ClientAddress: from.address,
			AssetCode:     from.unit.AssetCode,
			AssetScale:    from.unit.Scale,
		})
	}

	from.mu.Lock()
	limit := from.maxPacketAmount
	from.mu.Unlock()
	if limit > 0 && p.Amount > limit {
		return domain.NewAmountTooLarge(c.prefix, p.Amount, limit)
	}

	to := c.route(p.Destination)
	if to == nil {
		return domain.NewReject(domain.CodeUnreachable, c.prefix, fmt.Sprintf("no route to %s", p.Destination))
	}

	amount, err := c.oracle.Convert(fromUint64(p.Amount), from.unit, to.unit)
	if err != nil {
		return domain.NewReject(domain.CodeInternalError, c.prefix, err.Error())
	}
	if c.spread.IsPositive() {
		amount = amount.Mul(decimal.NewFromInt(1).Sub(c.spread))
	}

	next := *p
	next.Amount = uint64(amount.Floor().IntPart())

	reply, err := to.end.SendPacket(ctx, &next)
	if err != nil {
		return domain.NewReject(domain.CodeUnreachable, c.prefix, err.Error())
	}
	return reply
}

func (c *Connector) route(destination string) *account {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, a := range c.accounts {
		if destination == a.address || strings.HasPrefix(destination, a.address+".") {
			return a
		}
	}
	return nil
}

func fromUint64(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}
