// Package api is the switch: it owns the engines, credentials and uplinks of
// the process and exposes the operations callers drive them with.
//
// ==============================================================================
// SWITCH STATE - internal/api/state.go
// ==============================================================================
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"ilpsdk/internal/credential"
	"ilpsdk/internal/domain"
	"ilpsdk/internal/engine"
	"ilpsdk/internal/funding"
	"ilpsdk/internal/rates"
	"ilpsdk/internal/security"
	"ilpsdk/internal/stream"
	"ilpsdk/internal/transport"
	"ilpsdk/internal/uplink"
	"ilpsdk/pkg/errors"
	"ilpsdk/pkg/logger"
	"ilpsdk/pkg/metrics"
	"ilpsdk/pkg/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// stateKey is where the state document lives in the store.
const stateKey = "switch:state"

// TransportFactory opens the raw transport of an uplink.
type TransportFactory func(ctx context.Context, eng *engine.SettlementEngine, cfg uplink.Config) (transport.Transport, error)

// WebSocketTransports dials the engine's remote connector named by the
// uplink config.
func WebSocketTransports(log logger.Logger) TransportFactory {
	return func(_ context.Context, eng *engine.SettlementEngine, cfg uplink.Config) (transport.Transport, error) {
		uri, err := eng.ConnectorURI(cfg.Connector, cfg.Token)
		if err != nil {
			return nil, err
		}
		return transport.NewWebSocket(uri, log)
	}
}

// Options configures a State. Sealer, when set, encrypts credential secrets
// in the persisted state document. A nil DefaultSlippage leaves the stream
// engine's default in place.
type Options struct {
	Store            store.Store
	Sealer           *security.Sealer
	Engines          *engine.Registry
	Credentials      *credential.Registry
	Oracle           rates.Oracle
	Streams          *stream.Engine
	Funding          *funding.Service
	Transports       TransportFactory
	MaxInFlightUSD   decimal.Decimal
	DefaultSlippage  *decimal.Decimal
	HandshakeTimeout time.Duration
	Logger           logger.Logger
	Metrics          *metrics.Metrics
}

// State is the process-wide switch aggregate. Adding and removing uplinks
// is serialized.
type State struct {
	store            store.Store
	sealer           *security.Sealer
	engines          *engine.Registry
	credentials      *credential.Registry
	oracle           rates.Oracle
	streams          *stream.Engine
	funding          *funding.Service
	transports       TransportFactory
	maxInFlightUSD   decimal.Decimal
	defaultSlippage  *decimal.Decimal
	handshakeTimeout time.Duration
	logger           logger.Logger
	metrics          *metrics.Metrics

	mu         sync.RWMutex
	uplinks    map[string]*uplink.Uplink
	unrestored Document
}

func NewState(opts Options) (*State, error) {
	if opts.Store == nil || opts.Engines == nil || opts.Credentials == nil || opts.Oracle == nil || opts.Transports == nil {
		return nil, errors.Wrap(errors.ErrInvalidConfig, "switch state needs a store, engines, credentials, an oracle and transports")
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	if opts.Streams == nil {
		opts.Streams = stream.New(opts.Oracle, stream.Options{Logger: opts.Logger, Metrics: opts.Metrics})
	}
	if opts.Funding == nil {
		opts.Funding = funding.NewService(nil, opts.Logger)
	}

	return &State{
		store:            opts.Store,
		sealer:           opts.Sealer,
		engines:          opts.Engines,
		credentials:      opts.Credentials,
		oracle:           opts.Oracle,
		streams:          opts.Streams,
		funding:          opts.Funding,
		transports:       opts.Transports,
		maxInFlightUSD:   opts.MaxInFlightUSD,
		defaultSlippage:  opts.DefaultSlippage,
		handshakeTimeout: opts.HandshakeTimeout,
		logger:           opts.Logger,
		metrics:          opts.Metrics,
		uplinks:          make(map[string]*uplink.Uplink),
	}, nil
}

// UplinkRequest creates a new uplink.
type UplinkRequest struct {
	SettlementType domain.SettlementType
	Credential     credential.Config
	// Connector names an entry of the engine's connector directory. Empty
	// picks the first one.
	Connector string
}

// AddUplink validates the credential, connects a new uplink and persists
// the state document.
func (s *State) AddUplink(ctx context.Context, req UplinkRequest) (*uplink.Uplink, error) {
	if req.Credential == nil || req.Credential.SettlementType() != req.SettlementType {
		return nil, errors.Wrap(errors.ErrInvalidConfig, "credential does not match settlement type")
	}
	eng, err := s.engines.Get(req.SettlementType)
	if err != nil {
		return nil, err
	}
	if req.Connector == "" {
		names := eng.ConnectorNames()
		if len(names) == 0 {
			return nil, errors.Wrap(errors.ErrUnknownConnector, string(eng.Type))
		}
		req.Connector = names[0]
	}
	if _, err := eng.ConnectorURI(req.Connector, ""); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cred, err := s.credentials.Setup(ctx, req.Credential)
	if err != nil {
		return nil, err
	}
	if _, err := s.credentials.Acquire(cred.SettlementType(), cred.UniqueID()); err != nil {
		return nil, err
	}

	cfg := uplink.Config{
		ID:        uuid.NewString(),
		Connector: req.Connector,
		Token:     strings.ReplaceAll(uuid.NewString(), "-", ""),
	}
	u, err := s.open(ctx, eng, cred, cfg)
	if err == nil {
		err = u.Connect(ctx)
		if err != nil {
			_ = u.Disconnect(ctx)
			_ = u.Ledger().Purge(ctx)
		}
	}
	if err != nil {
		_ = s.credentials.Release(cred.SettlementType(), cred.UniqueID())
		return nil, err
	}

	s.uplinks[cfg.ID] = u
	s.logger.Info("Uplink added", map[string]interface{}{
		"uplink_id":       cfg.ID,
		"settlement_type": string(eng.Type),
		"credential_id":   cred.UniqueID(),
		"connector":       cfg.Connector,
	})
	return u, s.persistLocked(ctx)
}

func (s *State) open(ctx context.Context, eng *engine.SettlementEngine, cred credential.Ready, cfg uplink.Config) (*uplink.Uplink, error) {
	limits, err := uplink.BudgetLimits(s.oracle, eng, s.maxInFlightUSD)
	if err != nil {
		return nil, err
	}
	raw, err := s.transports(ctx, eng, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open transport")
	}
	return uplink.New(ctx, cfg, eng, cred, raw, limits, uplink.Options{
		Store:            s.store,
		Logger:           s.logger,
		Metrics:          s.metrics,
		HandshakeTimeout: s.handshakeTimeout,
	})
}

// RemoveUplink drains and removes an uplink. Credit extended to the peer is
// streamed back first, then the channel is optionally withdrawn with
// authorize, then the transport is closed and the credential released.
func (s *State) RemoveUplink(ctx context.Context, id string, authorize funding.Authorize) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.uplinks[id]
	if !ok {
		return s.forgetUnrestoredLocked(ctx, id)
	}

	u.Ledger().DisableSettlement()
	u.Ledger().Wait()

	restored, err := s.restoreCredit(ctx, u)
	if err != nil {
		u.Ledger().EnableSettlement()
		return errors.Wrap(err, "failed to restore credit before removal")
	}

	if authorize != nil {
		if _, err := s.funding.Withdraw(ctx, u.Engine(), u.Credential(), authorize); err != nil {
			u.Ledger().EnableSettlement()
			return err
		}
	}

	if err := u.Disconnect(ctx); err != nil {
		s.logger.Warn("Failed to disconnect uplink", map[string]interface{}{
			"uplink_id": id,
			"error":     err.Error(),
		})
	}
	if !restored {
		s.logger.Warn("Keeping balances of invalid uplink", map[string]interface{}{
			"uplink_id": id,
			"credit":    u.AvailableCredit().String(),
		})
	} else if err := u.Ledger().Purge(ctx); err != nil {
		s.logger.Warn("Failed to purge uplink balances", map[string]interface{}{
			"uplink_id": id,
			"error":     err.Error(),
		})
	}
	delete(s.uplinks, id)
	s.metrics.ForgetUplink(id)

	if err := s.credentials.Release(u.SettlementType(), u.CredentialID()); err != nil {
		s.logger.Warn("Failed to release credential", map[string]interface{}{
			"uplink_id":     id,
			"credential_id": u.CredentialID(),
			"error":         err.Error(),
		})
	}

	s.logger.Info("Uplink removed", map[string]interface{}{
		"uplink_id":       id,
		"settlement_type": string(u.SettlementType()),
	})
	return s.persistLocked(ctx)
}

// forgetUnrestoredLocked drops an uplink entry that could not be restored.
func (s *State) forgetUnrestoredLocked(ctx context.Context, id string) error {
	for i, entry := range s.unrestored.Uplinks {
		if entry.Config.ID != id {
			continue
		}
		s.unrestored.Uplinks = append(s.unrestored.Uplinks[:i:i], s.unrestored.Uplinks[i+1:]...)
		s.logger.Info("Unrestored uplink removed", map[string]interface{}{"uplink_id": id})
		return s.persistLocked(ctx)
	}
	return errors.Wrap(errors.ErrUplinkNotFound, id)
}

// restoreCredit streams the uplink's spendable credit back to itself so the
// peer settles it to us. A disconnected uplink holding credit is reconnected
// first. It reports whether the balances may be purged; an invalid uplink
// keeps them so the credit survives in the store.
func (s *State) restoreCredit(ctx context.Context, u *uplink.Uplink) (bool, error) {
	if !u.AvailableCredit().Floor().IsPositive() {
		return true, nil
	}
	switch u.State() {
	case uplink.Ready:
	case uplink.Invalid:
		return false, nil
	default:
		if err := u.Connect(ctx); err != nil {
			return false, errors.Wrap(errors.ErrUplinkNotReady, fmt.Sprintf("uplink holds credit and cannot reconnect: %v", err))
		}
	}

	credit := u.AvailableCredit().Floor()
	if !credit.IsPositive() {
		return true, nil
	}
	_, err := s.streams.StreamMoney(ctx, stream.Request{
		Amount:   u.Engine().ToExchangeUnit(credit),
		Source:   u,
		Dest:     u,
		Slippage: s.defaultSlippage,
	})
	return err == nil, err
}

// StreamRequest moves Amount, in the source's exchange unit, between two
// uplinks. A nil Slippage uses the configured default.
type StreamRequest struct {
	SourceID string
	DestID   string
	Amount   decimal.Decimal
	Slippage *decimal.Decimal
}

func (s *State) StreamMoney(ctx context.Context, req StreamRequest) (*stream.Receipt, error) {
	src, err := s.Uplink(req.SourceID)
	if err != nil {
		return nil, err
	}
	dst, err := s.Uplink(req.DestID)
	if err != nil {
		return nil, err
	}
	slippage := s.defaultSlippage
	if req.Slippage != nil {
		slippage = req.Slippage
	}
	return s.streams.StreamMoney(ctx, stream.Request{
		Amount:   req.Amount,
		Source:   src,
		Dest:     dst,
		Slippage: slippage,
	})
}

// Deposit funds the uplink's channel on-chain.
func (s *State) Deposit(ctx context.Context, id string, amount decimal.Decimal, authorize funding.Authorize) (*funding.Receipt, error) {
	u, err := s.Uplink(id)
	if err != nil {
		return nil, err
	}
	return s.funding.Deposit(ctx, u.Engine(), u.Credential(), amount, authorize)
}

// Withdraw closes the uplink's channel on-chain. The uplink stays registered.
func (s *State) Withdraw(ctx context.Context, id string, authorize funding.Authorize) (*funding.Receipt, error) {
	u, err := s.Uplink(id)
	if err != nil {
		return nil, err
	}
	return s.funding.Withdraw(ctx, u.Engine(), u.Credential(), authorize)
}

func (s *State) Uplink(id string) (*uplink.Uplink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.uplinks[id]
	if !ok {
		return nil, errors.Wrap(errors.ErrUplinkNotFound, id)
	}
	return u, nil
}

// Uplinks lists uplinks ordered by id.
func (s *State) Uplinks() []*uplink.Uplink {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedLocked()
}

func sortUplinks(uplinks []*uplink.Uplink) {
	sort.Slice(uplinks, func(i, j int) bool { return uplinks[i].ID() < uplinks[j].ID() })
}

func (s *State) Engines() *engine.Registry {
	return s.engines
}

func (s *State) Credentials() *credential.Registry {
	return s.credentials
}

// Close disconnects every uplink and closes all credentials. Persisted
// state is left in place for the next start.
func (s *State) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, u := range s.uplinks {
		if err := u.Disconnect(ctx); err != nil {
			s.logger.Warn("Failed to disconnect uplink", map[string]interface{}{
				"uplink_id": id,
				"error":     err.Error(),
			})
		}
	}
	s.uplinks = make(map[string]*uplink.Uplink)
	s.credentials.CloseAll()
	return nil
}

func (s *State) persistLocked(ctx context.Context) error {
	doc, err := s.serializeLocked()
	if err != nil {
		return err
	}
	if err := s.sealDocument(doc); err != nil {
		return err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "failed to encode state document")
	}
	if err := s.store.Put(ctx, stateKey, raw); err != nil {
		return errors.Wrap(err, "failed to persist state document")
	}
	return nil
}

// describe formats an uplink for error messages.
func describe(e UplinkEntry) string {
	return fmt.Sprintf("%s uplink %s", e.SettlementType, e.Config.ID)
}
