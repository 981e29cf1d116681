// ==============================================================================
// UPLINK - internal/uplink/uplink.go
// ==============================================================================
package uplink

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ilpsdk/internal/credential"
	"ilpsdk/internal/domain"
	"ilpsdk/internal/engine"
	"ilpsdk/internal/ledger"
	"ilpsdk/internal/peerconfig"
	"ilpsdk/internal/rates"
	"ilpsdk/internal/transport"
	"ilpsdk/pkg/errors"
	"ilpsdk/pkg/logger"
	"ilpsdk/pkg/metrics"
	"ilpsdk/pkg/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const defaultHandshakeTimeout = 5 * time.Second

// Config is the persisted part of an uplink.
type Config struct {
	ID        string `json:"id"`
	Connector string `json:"connector" validate:"required"`
	// Token authenticates this uplink's account at the connector.
	Token string `json:"token"`
}

type Options struct {
	Store            store.Store
	Logger           logger.Logger
	Metrics          *metrics.Metrics
	HandshakeTimeout time.Duration
}

// Uplink binds a settlement engine, a ready credential and a ledger-wrapped
// transport into one addressable, balance-tracked connection.
type Uplink struct {
	config           Config
	engine           *engine.SettlementEngine
	credential       credential.Ready
	raw              transport.Transport
	ledger           *ledger.Ledger
	limits           ledger.Limits
	logger           logger.Logger
	handshakeTimeout time.Duration

	state            *Observable[State]
	payable          *Observable[decimal.Decimal]
	receivable       *Observable[decimal.Decimal]
	outgoingCapacity *Observable[decimal.Decimal]
	incomingCapacity *Observable[decimal.Decimal]
	totalSent        *Observable[decimal.Decimal]
	totalReceived    *Observable[decimal.Decimal]

	mu            sync.Mutex
	clientAddress string
	handlers      map[[32]byte]transport.PacketHandler
	generation    int
}

// closeNotifier is implemented by transports that can lose their link on
// their own, such as a dialed websocket.
type closeNotifier interface {
	Done() <-chan struct{}
}

// BudgetLimits converts a USD max-in-flight budget into default limits in
// the engine's base unit.
func BudgetLimits(oracle rates.Oracle, eng *engine.SettlementEngine, maxInFlightUSD decimal.Decimal) (ledger.Limits, error) {
	budget, err := oracle.Convert(maxInFlightUSD, domain.Unit{AssetCode: rates.USD}, eng.BaseUnit)
	if err != nil {
		return ledger.Limits{}, errors.Wrap(err, "failed to convert in-flight budget")
	}
	return ledger.LimitsFromBudget(budget), nil
}

// New wires the ledger around raw. Balances persisted under the uplink id
// are restored.
func New(ctx context.Context, cfg Config, eng *engine.SettlementEngine, cred credential.Ready, raw transport.Transport, limits ledger.Limits, opts Options) (*Uplink, error) {
	if cred == nil || cred.SettlementType() != eng.Type {
		return nil, errors.Wrap(errors.ErrInvalidConfig, "uplink credential does not match settlement engine")
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}

	u := &Uplink{
		config:           cfg,
		engine:           eng,
		credential:       cred,
		raw:              raw,
		limits:           limits,
		logger:           opts.Logger,
		handshakeTimeout: opts.HandshakeTimeout,
		state:            NewObservable(Configured),
		payable:          NewObservable(decimal.Zero),
		receivable:       NewObservable(decimal.Zero),
		outgoingCapacity: NewObservable(decimal.Zero),
		incomingCapacity: NewObservable(decimal.Zero),
		totalSent:        NewObservable(decimal.Zero),
		totalReceived:    NewObservable(decimal.Zero),
		handlers:         make(map[[32]byte]transport.PacketHandler),
	}
	u.state.Set(CredentialReady)

	l, err := ledger.New(ctx, raw, ledger.Config{
		ID:       cfg.ID,
		Settler:  eng.Type,
		Limits:   limits,
		Store:    opts.Store,
		Logger:   opts.Logger,
		Metrics:  opts.Metrics,
		Observer: u.onBalance,
	})
	if err != nil {
		u.state.Set(Invalid)
		return nil, err
	}
	u.ledger = l
	l.OnIncomingPacket(u.handleIncoming)
	u.onBalance(l.Snapshot())

	return u, nil
}

func (u *Uplink) onBalance(s ledger.Snapshot) {
	u.payable.Set(s.Payable)
	u.receivable.Set(s.Receivable)
	u.totalSent.Set(s.TotalSent)
	u.totalReceived.Set(s.TotalReceived)
	u.outgoingCapacity.Set(decimal.Max(decimal.Zero, s.Payable.Neg().Sub(s.InFlight).Sub(u.limits.Minimum)))
	u.incomingCapacity.Set(decimal.Max(decimal.Zero, u.limits.MaxReceivable.Sub(s.Receivable)))
}

// Connect connects the transport, runs the capability handshake and, once
// the peer's asset is verified, prefunds the peer.
func (u *Uplink) Connect(ctx context.Context) error {
	switch u.State() {
	case Invalid:
		return errors.Wrap(errors.ErrUplinkNotReady, "uplink is invalid")
	case Ready:
		if u.raw.IsConnected() {
			return nil
		}
	}

	if err := u.ledger.Connect(ctx); err != nil {
		return errors.Wrap(err, "failed to connect transport")
	}
	u.state.Set(TransportConnected)

	peer, err := peerconfig.Fetch(ctx, u.raw, u.handshakeTimeout)
	if err != nil {
		_ = u.ledger.Disconnect(ctx)
		u.state.Set(Disconnected)
		return err
	}

	if peer.AssetCode != u.engine.AssetCode || peer.AssetScale != u.engine.AssetScale {
		_ = u.ledger.Disconnect(ctx)
		u.state.Set(Invalid)
		u.logger.Error("Peer asset mismatch", map[string]interface{}{
			"uplink_id":      u.config.ID,
			"expected_asset": u.engine.AssetCode,
			"expected_scale": u.engine.AssetScale,
			"peer_asset":     peer.AssetCode,
			"peer_scale":     peer.AssetScale,
		})
		return errors.Wrap(errors.ErrAssetMismatch, fmt.Sprintf("peer uses %s/%d, engine %s/%d",
			peer.AssetCode, peer.AssetScale, u.engine.AssetCode, u.engine.AssetScale))
	}

	u.mu.Lock()
	u.clientAddress = peer.ClientAddress
	u.generation++
	gen := u.generation
	u.state.Set(Ready)
	u.mu.Unlock()
	if n, ok := u.raw.(closeNotifier); ok {
		go u.watch(gen, n.Done())
	}

	u.logger.Info("Uplink ready", map[string]interface{}{
		"uplink_id":       u.config.ID,
		"settlement_type": string(u.engine.Type),
		"address":         peer.ClientAddress,
	})

	if err := u.ledger.AttemptSettlement(ctx); err != nil {
		u.logger.Warn("Prefund settlement failed", map[string]interface{}{
			"uplink_id": u.config.ID,
			"error":     err.Error(),
		})
	}
	return nil
}

// watch moves a Ready uplink to Disconnected when its transport drops. A
// later Connect or Disconnect retires the watcher.
func (u *Uplink) watch(gen int, done <-chan struct{}) {
	<-done
	u.mu.Lock()
	defer u.mu.Unlock()
	if gen != u.generation || u.State() != Ready {
		return
	}
	u.state.Set(Disconnected)
	u.logger.Warn("Uplink transport dropped", map[string]interface{}{
		"uplink_id": u.config.ID,
	})
}

// Disconnect stops accepting packets and closes the transport. Background
// settlements are allowed to finish.
func (u *Uplink) Disconnect(ctx context.Context) error {
	if u.State() != Invalid {
		u.state.Set(Disconnected)
	}

	u.mu.Lock()
	u.handlers = make(map[[32]byte]transport.PacketHandler)
	u.generation++
	u.mu.Unlock()

	err := u.ledger.Disconnect(ctx)
	u.ledger.Wait()
	return err
}

// SendPacket sends a prepare through the ledger.
func (u *Uplink) SendPacket(ctx context.Context, prepare *domain.Prepare) (domain.Reply, error) {
	if u.State() != Ready {
		return nil, errors.ErrUplinkNotReady
	}
	return u.ledger.SendPacket(ctx, prepare)
}

// RegisterHandler installs a one-shot handler for incoming packets with the
// given execution condition. It is removed when first invoked.
func (u *Uplink) RegisterHandler(condition [32]byte, handler transport.PacketHandler) {
	u.mu.Lock()
	u.handlers[condition] = handler
	u.mu.Unlock()
}

func (u *Uplink) DeregisterHandler(condition [32]byte) {
	u.mu.Lock()
	delete(u.handlers, condition)
	u.mu.Unlock()
}

func (u *Uplink) handleIncoming(ctx context.Context, prepare *domain.Prepare) domain.Reply {
	u.mu.Lock()
	handler, ok := u.handlers[prepare.ExecutionCondition]
	if ok {
		delete(u.handlers, prepare.ExecutionCondition)
	}
	address := u.clientAddress
	u.mu.Unlock()

	if !ok || u.State() != Ready {
		return domain.NewReject(domain.CodeUnexpectedPayment, address, "no handler for condition")
	}
	return handler(ctx, prepare)
}

func (u *Uplink) ID() string                               { return u.config.ID }
func (u *Uplink) Config() Config                           { return u.config }
func (u *Uplink) SettlementType() domain.SettlementType    { return u.engine.Type }
func (u *Uplink) CredentialID() string                     { return u.credential.UniqueID() }
func (u *Uplink) Credential() credential.Ready             { return u.credential }
func (u *Uplink) Engine() *engine.SettlementEngine         { return u.engine }
func (u *Uplink) Ledger() *ledger.Ledger                   { return u.ledger }
func (u *Uplink) State() State                             { return u.state.Get() }
func (u *Uplink) StateObservable() *Observable[State]      { return u.state }
func (u *Uplink) Payable() *Observable[decimal.Decimal]    { return u.payable }
func (u *Uplink) Receivable() *Observable[decimal.Decimal] { return u.receivable }
func (u *Uplink) TotalSent() *Observable[decimal.Decimal]  { return u.totalSent }

func (u *Uplink) TotalReceived() *Observable[decimal.Decimal] {
	return u.totalReceived
}

func (u *Uplink) OutgoingCapacity() *Observable[decimal.Decimal] {
	return u.outgoingCapacity
}

func (u *Uplink) IncomingCapacity() *Observable[decimal.Decimal] {
	return u.incomingCapacity
}

// AvailableCredit is the base-unit amount outgoing packets may spend now.
func (u *Uplink) AvailableCredit() decimal.Decimal {
	return u.ledger.AvailableCredit()
}

func (u *Uplink) ClientAddress() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.clientAddress
}
