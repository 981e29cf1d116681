// ==============================================================================
// BALANCE LEDGER - internal/ledger/ledger.go
// ==============================================================================
package ledger

import (
	"context"
	"encoding/json"
	"math/big"
	"sync"

	"ilpsdk/internal/domain"
	"ilpsdk/internal/transport"
	"ilpsdk/pkg/errors"
	"ilpsdk/pkg/logger"
	"ilpsdk/pkg/metrics"
	"ilpsdk/pkg/store"

	"github.com/shopspring/decimal"
)

// Snapshot is a consistent view of an uplink's balances.
type Snapshot struct {
	Payable       decimal.Decimal `json:"payable"`
	Receivable    decimal.Decimal `json:"receivable"`
	InFlight      decimal.Decimal `json:"in_flight"`
	TotalSent     decimal.Decimal `json:"total_sent"`
	TotalReceived decimal.Decimal `json:"total_received"`
}

// Observer is called, under the ledger lock, after every balance change.
// It must not call back into the ledger.
type Observer func(Snapshot)

type Config struct {
	ID       string
	Settler  domain.SettlementType
	Limits   Limits
	Store    store.Store
	Logger   logger.Logger
	Metrics  *metrics.Metrics
	Observer Observer
}

// Ledger wraps a raw transport, enforcing balance limits on both directions
// and settling with the peer when extended credit runs low. It is itself a
// transport.Transport.
type Ledger struct {
	id       string
	settler  string
	limits   Limits
	next     transport.Transport
	store    store.Store
	logger   logger.Logger
	metrics  *metrics.Metrics
	observer Observer

	mu            sync.Mutex
	payable       decimal.Decimal
	receivable    decimal.Decimal
	inFlight      decimal.Decimal
	totalSent     decimal.Decimal
	totalReceived decimal.Decimal
	settling      bool
	disabled      bool
	draining      int

	handlerMu         sync.RWMutex
	packetHandler     transport.PacketHandler
	settlementHandler transport.SettlementHandler

	wg sync.WaitGroup
}

type persisted struct {
	Payable       decimal.Decimal `json:"payable"`
	Receivable    decimal.Decimal `json:"receivable"`
	TotalSent     decimal.Decimal `json:"total_sent"`
	TotalReceived decimal.Decimal `json:"total_received"`
}

// New validates the limits, restores persisted balances and installs the
// ledger as the packet and settlement handler of next.
func New(ctx context.Context, next transport.Transport, cfg Config) (*Ledger, error) {
	if err := cfg.Limits.Validate(); err != nil {
		return nil, err
	}
	if cfg.Store == nil {
		cfg.Store = store.NewMemory()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}

	l := &Ledger{
		id:       cfg.ID,
		settler:  string(cfg.Settler),
		limits:   cfg.Limits,
		next:     next,
		store:    cfg.Store,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		observer: cfg.Observer,
	}

	if err := l.restore(ctx); err != nil {
		return nil, err
	}

	next.OnIncomingPacket(l.handleIncoming)
	next.OnIncomingSettlement(l.handleSettlement)
	return l, nil
}

func storeKey(id string) string {
	return "ledger:" + id
}

func (l *Ledger) restore(ctx context.Context) error {
	raw, err := l.store.Get(ctx, storeKey(l.id))
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "failed to load balances")
	}

	var p persisted
	if err := json.Unmarshal(raw, &p); err != nil {
		return errors.Wrap(err, "failed to decode balances")
	}
	l.payable = p.Payable
	l.receivable = p.Receivable
	l.totalSent = p.TotalSent
	l.totalReceived = p.TotalReceived

	l.logger.Info("Restored balances", map[string]interface{}{
		"uplink_id":  l.id,
		"payable":    l.payable.String(),
		"receivable": l.receivable.String(),
	})
	return nil
}

// commit persists and publishes the balances. Callers hold l.mu.
func (l *Ledger) commit(ctx context.Context) {
	raw, err := json.Marshal(persisted{
		Payable:       l.payable,
		Receivable:    l.receivable,
		TotalSent:     l.totalSent,
		TotalReceived: l.totalReceived,
	})
	if err == nil {
		err = l.store.Put(context.WithoutCancel(ctx), storeKey(l.id), raw)
	}
	if err != nil {
		l.logger.Error("Failed to persist balances", map[string]interface{}{
			"uplink_id": l.id,
			"error":     err.Error(),
		})
	}

	p, _ := l.payable.Float64()
	r, _ := l.receivable.Float64()
	l.metrics.Balance(l.id, "payable", p)
	l.metrics.Balance(l.id, "receivable", r)

	if l.observer != nil {
		l.observer(l.snapshotLocked())
	}
}

func (l *Ledger) snapshotLocked() Snapshot {
	return Snapshot{
		Payable:       l.payable,
		Receivable:    l.receivable,
		InFlight:      l.inFlight,
		TotalSent:     l.totalSent,
		TotalReceived: l.totalReceived,
	}
}

func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

func (l *Ledger) Limits() Limits {
	return l.limits
}

// AvailableCredit is the amount outgoing packets may still spend.
func (l *Ledger) AvailableCredit() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.availableLocked()
}

func (l *Ledger) availableLocked() decimal.Decimal {
	available := l.payable.Neg().Sub(l.inFlight).Sub(l.limits.Minimum)
	if available.IsNegative() {
		return decimal.Zero
	}
	return available
}

// IncomingCapacity is how much more the peer may send before T04.
func (l *Ledger) IncomingCapacity() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.incomingCapacityLocked()
}

func (l *Ledger) incomingCapacityLocked() decimal.Decimal {
	c := l.limits.MaxReceivable.Sub(l.receivable)
	if c.IsNegative() {
		return decimal.Zero
	}
	return c
}

// SendPacket forwards an outgoing prepare, reserving its amount against
// available credit until the reply arrives.
func (l *Ledger) SendPacket(ctx context.Context, prepare *domain.Prepare) (domain.Reply, error) {
	amount := fromUint64(prepare.Amount)
	if amount.IsZero() {
		return l.next.SendPacket(ctx, prepare)
	}

	l.mu.Lock()
	if amount.GreaterThan(l.availableLocked()) {
		l.mu.Unlock()
		l.metrics.Packet(l.settler, "outgoing", "insufficient_credit")
		return domain.NewReject(domain.CodeInsufficientLiq, l.id, "insufficient credit with peer"), nil
	}
	l.inFlight = l.inFlight.Add(amount)
	l.mu.Unlock()

	reply, err := l.next.SendPacket(ctx, prepare)

	l.mu.Lock()
	l.inFlight = l.inFlight.Sub(amount)
	if err != nil {
		l.mu.Unlock()
		l.metrics.Packet(l.settler, "outgoing", "error")
		return nil, err
	}

	fulfill, ok := reply.(*domain.Fulfill)
	if !ok {
		l.mu.Unlock()
		l.metrics.Packet(l.settler, "outgoing", "rejected")
		return reply, nil
	}
	if !fulfill.Matches(prepare.ExecutionCondition) {
		l.mu.Unlock()
		l.metrics.Packet(l.settler, "outgoing", "wrong_condition")
		l.logger.Warn("Peer returned invalid fulfillment", map[string]interface{}{
			"uplink_id": l.id,
			"amount":    amount.String(),
		})
		return domain.NewReject(domain.CodeWrongCondition, l.id, errors.ErrInvalidFulfillment.Error()), nil
	}

	l.payable = l.payable.Add(amount)
	l.commit(ctx)
	l.mu.Unlock()

	l.metrics.Packet(l.settler, "outgoing", "fulfilled")
	l.triggerSettlement()
	return fulfill, nil
}

func (l *Ledger) handleIncoming(ctx context.Context, prepare *domain.Prepare) domain.Reply {
	l.handlerMu.RLock()
	handler := l.packetHandler
	l.handlerMu.RUnlock()

	if handler == nil {
		return domain.NewReject(domain.CodeUnreachable, l.id, "uplink not accepting packets")
	}

	amount := fromUint64(prepare.Amount)
	if amount.IsZero() {
		return handler(ctx, prepare)
	}

	l.mu.Lock()
	if amount.GreaterThan(l.limits.MaxPacketAmount) {
		l.mu.Unlock()
		l.metrics.Packet(l.settler, "incoming", "too_large")
		return domain.NewAmountTooLarge(l.id, prepare.Amount, toUint64(l.limits.MaxPacketAmount))
	}
	newBalance := l.receivable.Add(amount)
	if newBalance.GreaterThan(l.limits.MaxReceivable) {
		l.mu.Unlock()
		l.metrics.Packet(l.settler, "incoming", "exceeds_balance")
		return domain.NewReject(domain.CodeInsufficientLiq, l.id, "exceeded maximum balance")
	}
	l.receivable = newBalance
	l.commit(ctx)
	l.mu.Unlock()

	reply := handler(ctx, prepare)
	if _, rejected := reply.(*domain.Reject); rejected || reply == nil {
		l.mu.Lock()
		l.receivable = l.receivable.Sub(amount)
		l.commit(ctx)
		l.mu.Unlock()
		l.metrics.Packet(l.settler, "incoming", "rejected")
		if reply == nil {
			reply = domain.NewReject(domain.CodeInternalError, l.id, "no reply")
		}
		return reply
	}

	l.metrics.Packet(l.settler, "incoming", "fulfilled")
	return reply
}

func (l *Ledger) handleSettlement(ctx context.Context, amount uint64) {
	settled := fromUint64(amount)

	l.mu.Lock()
	l.receivable = l.receivable.Sub(settled)
	l.totalReceived = l.totalReceived.Add(settled)
	l.commit(ctx)
	l.mu.Unlock()

	l.metrics.Settlement(l.settler, "incoming", "success")
	l.logger.Debug("Received settlement", map[string]interface{}{
		"uplink_id": l.id,
		"amount":    settled.String(),
	})

	l.handlerMu.RLock()
	handler := l.settlementHandler
	l.handlerMu.RUnlock()
	if handler != nil {
		handler(ctx, amount)
	}
}

// triggerSettlement starts a background settlement unless settlement is
// disabled or a caller is in Wait.
func (l *Ledger) triggerSettlement() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.disabled || l.draining > 0 {
		return
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		_ = l.AttemptSettlement(context.Background())
	}()
}

// AttemptSettlement settles up to SettleTo if credit has fallen to the
// threshold. Only one settlement runs at a time; a successful settlement is
// followed by one more check to cover packets fulfilled meanwhile. Failures
// are left for the next trigger.
func (l *Ledger) AttemptSettlement(ctx context.Context) error {
	for i := 0; i < 2; i++ {
		settled, err := l.settleOnce(ctx)
		if err != nil || !settled {
			return err
		}
	}
	return nil
}

func (l *Ledger) settleOnce(ctx context.Context) (bool, error) {
	l.mu.Lock()
	if l.settling || l.disabled {
		l.mu.Unlock()
		return false, nil
	}
	credit := l.payable.Neg()
	if credit.GreaterThan(l.limits.SettleThreshold) {
		l.mu.Unlock()
		return false, nil
	}
	amount := l.limits.SettleTo.Sub(credit).Floor()
	if !amount.IsPositive() {
		l.mu.Unlock()
		return false, nil
	}
	l.settling = true
	l.mu.Unlock()

	err := l.next.SendSettlement(ctx, toUint64(amount))

	l.mu.Lock()
	l.settling = false
	if err != nil {
		l.mu.Unlock()
		l.metrics.Settlement(l.settler, "outgoing", "failure")
		l.logger.Error("Settlement failed", map[string]interface{}{
			"uplink_id": l.id,
			"amount":    amount.String(),
			"error":     err.Error(),
		})
		return false, err
	}
	l.payable = l.payable.Sub(amount)
	l.totalSent = l.totalSent.Add(amount)
	l.commit(ctx)
	l.mu.Unlock()

	l.metrics.Settlement(l.settler, "outgoing", "success")
	l.logger.Info("Settled with peer", map[string]interface{}{
		"uplink_id": l.id,
		"amount":    amount.String(),
	})
	return true, nil
}

// SendSettlement settles an explicit amount outside the automatic policy.
func (l *Ledger) SendSettlement(ctx context.Context, amount uint64) error {
	if err := l.next.SendSettlement(ctx, amount); err != nil {
		l.metrics.Settlement(l.settler, "outgoing", "failure")
		return err
	}
	settled := fromUint64(amount)
	l.mu.Lock()
	l.payable = l.payable.Sub(settled)
	l.totalSent = l.totalSent.Add(settled)
	l.commit(ctx)
	l.mu.Unlock()
	l.metrics.Settlement(l.settler, "outgoing", "success")
	return nil
}

// DisableSettlement stops automatic settlement, e.g. while draining.
func (l *Ledger) DisableSettlement() {
	l.mu.Lock()
	l.disabled = true
	l.mu.Unlock()
}

func (l *Ledger) EnableSettlement() {
	l.mu.Lock()
	l.disabled = false
	l.mu.Unlock()
}

// Purge deletes the persisted balances of a removed uplink.
func (l *Ledger) Purge(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.store.Delete(ctx, storeKey(l.id)); err != nil && !errors.Is(err, store.ErrNotFound) {
		return errors.Wrap(err, "failed to delete balances")
	}
	return nil
}

// Wait blocks until background settlements have finished. Fulfills seen
// meanwhile do not start new ones; the next trigger picks them up.
func (l *Ledger) Wait() {
	l.mu.Lock()
	l.draining++
	l.mu.Unlock()

	l.wg.Wait()

	l.mu.Lock()
	l.draining--
	l.mu.Unlock()
}

func (l *Ledger) Connect(ctx context.Context) error {
	return l.next.Connect(ctx)
}

func (l *Ledger) Disconnect(ctx context.Context) error {
	return l.next.Disconnect(ctx)
}

func (l *Ledger) IsConnected() bool {
	return l.next.IsConnected()
}

func (l *Ledger) OnIncomingPacket(handler transport.PacketHandler) {
	l.handlerMu.Lock()
	l.packetHandler = handler
	l.handlerMu.Unlock()
}

func (l *Ledger) OnIncomingSettlement(handler transport.SettlementHandler) {
	l.handlerMu.Lock()
	l.settlementHandler = handler
	l.handlerMu.Unlock()
}

func fromUint64(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}

func toUint64(d decimal.Decimal) uint64 {
	if !d.IsPositive() {
		return 0
	}
	b := d.Floor().BigInt()
	if !b.IsUint64() {
		return ^uint64(0)
	}
	return b.Uint64()
}
