// Package stream moves money between two uplinks as a sequence of small
// hash-locked packets, each checked against the reference exchange rate.
//
// ==============================================================================
// STREAMING PAYMENT ENGINE - internal/stream/stream.go
// ==============================================================================
package stream

import (
	"context"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"ilpsdk/internal/domain"
	"ilpsdk/internal/engine"
	"ilpsdk/internal/rates"
	"ilpsdk/internal/transport"
	"ilpsdk/pkg/errors"
	"ilpsdk/pkg/logger"
	"ilpsdk/pkg/metrics"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	DefaultIdleTimeout   = 10 * time.Second
	DefaultPacketExpiry  = 5 * time.Second
	DefaultCreditBackoff = 20 * time.Millisecond
)

// DefaultSlippage is the tolerated per-packet rate drop when the caller
// does not choose one.
var DefaultSlippage = decimal.NewFromFloat(0.01)

// Request describes one transfer. Amount is in the source's exchange unit.
// A nil Slippage uses DefaultSlippage; zero demands the full reference rate.
type Request struct {
	Amount   decimal.Decimal
	Source   Endpoint
	Dest     Endpoint
	Slippage *decimal.Decimal
}

// Receipt summarizes a stream. Amounts are in base units.
type Receipt struct {
	ID               string          `json:"id"`
	PacketsSent      int             `json:"packets_sent"`
	PacketsFulfilled int             `json:"packets_fulfilled"`
	AmountToSend     decimal.Decimal `json:"amount_to_send"`
	AmountFulfilled  decimal.Decimal `json:"amount_fulfilled"`
	AmountDelivered  decimal.Decimal `json:"amount_delivered"`
}

// Error is returned when a stream ends before the full amount was fulfilled.
type Error struct {
	Receipt Receipt
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("stream %s failed: %d of %d packets fulfilled, %s of %s sent: %v",
		e.Receipt.ID, e.Receipt.PacketsFulfilled, e.Receipt.PacketsSent,
		e.Receipt.AmountFulfilled, e.Receipt.AmountToSend, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type Options struct {
	IdleTimeout   time.Duration
	PacketExpiry  time.Duration
	CreditBackoff time.Duration
	Logger        logger.Logger
	Metrics       *metrics.Metrics
}

// Engine runs streams. Streams are independent and may run concurrently;
// within one stream packets are dispatched one at a time.
type Engine struct {
	oracle        rates.Oracle
	idleTimeout   time.Duration
	packetExpiry  time.Duration
	creditBackoff time.Duration
	logger        logger.Logger
	metrics       *metrics.Metrics
}

func New(oracle rates.Oracle, opts Options) *Engine {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.PacketExpiry <= 0 {
		opts.PacketExpiry = DefaultPacketExpiry
	}
	if opts.CreditBackoff <= 0 {
		opts.CreditBackoff = DefaultCreditBackoff
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	return &Engine{
		oracle:        oracle,
		idleTimeout:   opts.IdleTimeout,
		packetExpiry:  opts.PacketExpiry,
		creditBackoff: opts.CreditBackoff,
		logger:        opts.Logger,
		metrics:       opts.Metrics,
	}
}

type session struct {
	receipt   Receipt
	remaining decimal.Decimal
	// maxPacket is zero until the path reports a limit.
	maxPacket decimal.Decimal
	idle      time.Time
}

// StreamMoney delivers req.Amount from req.Source to req.Dest. It returns a
// Receipt only when the full amount was fulfilled; otherwise the error is an
// *Error carrying the partial progress.
func (e *Engine) StreamMoney(ctx context.Context, req Request) (*Receipt, error) {
	started := time.Now()
	s := &session{receipt: Receipt{ID: uuid.NewString(), AmountFulfilled: decimal.Zero, AmountDelivered: decimal.Zero}}

	err := e.run(ctx, req, s)

	outcome := "success"
	if err != nil {
		outcome = "failure"
		if ctx.Err() != nil {
			outcome = "cancelled"
		}
	}
	e.metrics.Stream(outcome, time.Since(started))

	fields := map[string]interface{}{
		"stream_id":         s.receipt.ID,
		"packets_sent":      s.receipt.PacketsSent,
		"packets_fulfilled": s.receipt.PacketsFulfilled,
		"amount_fulfilled":  s.receipt.AmountFulfilled.String(),
		"amount_to_send":    s.receipt.AmountToSend.String(),
	}
	if err != nil {
		fields["error"] = err.Error()
		e.logger.Warn("Stream failed", fields)
		return nil, &Error{Receipt: s.receipt, Err: err}
	}
	e.logger.Info("Stream completed", fields)
	return &s.receipt, nil
}

func (e *Engine) run(ctx context.Context, req Request, s *session) error {
	if req.Source == nil || req.Dest == nil {
		return errors.Wrap(errors.ErrInvalidConfig, "stream needs a source and a destination")
	}
	slippage := DefaultSlippage
	if req.Slippage != nil {
		slippage = *req.Slippage
	}
	if slippage.IsNegative() || slippage.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return errors.Wrap(errors.ErrInvalidConfig, fmt.Sprintf("slippage %s out of range", slippage))
	}

	src, dst := req.Source.Engine(), req.Dest.Engine()
	s.receipt.AmountToSend = src.ToBaseUnit(req.Amount)
	if !s.receipt.AmountToSend.IsPositive() {
		return errors.Wrap(errors.ErrInvalidAmount, fmt.Sprintf("%s %s is less than one base unit", req.Amount, src.AssetCode))
	}
	s.remaining = s.receipt.AmountToSend
	s.idle = time.Now().Add(e.idleTimeout)
	keep := decimal.NewFromInt(1).Sub(slippage)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !s.remaining.IsPositive() {
			return nil
		}
		if time.Now().After(s.idle) {
			return errors.ErrStreamIdle
		}

		credit := req.Source.AvailableCredit().Floor()
		if !credit.IsPositive() {
			if err := e.backoff(ctx); err != nil {
				return err
			}
			continue
		}

		amount := decimal.Min(credit, s.remaining)
		if s.maxPacket.IsPositive() {
			amount = decimal.Min(amount, s.maxPacket)
		}

		expected, err := e.oracle.Convert(amount, src.BaseUnit, dst.BaseUnit)
		if err != nil {
			return err
		}
		minDest := expected.Mul(keep).Floor()

		rejected, err := e.sendPacket(ctx, req, s, amount, minDest)
		if err != nil {
			return err
		}
		if rejected {
			if err := e.backoff(ctx); err != nil {
				return err
			}
		}
	}
}

// sendPacket dispatches one packet and folds its reply into the session.
// It reports whether the packet was rejected for a reason that warrants a
// pause before the next one.
func (e *Engine) sendPacket(ctx context.Context, req Request, s *session, amount, minDest decimal.Decimal) (bool, error) {
	preimage, err := domain.RandomFulfillment()
	if err != nil {
		return false, err
	}
	condition := domain.Condition(preimage)

	var delivered atomic.Uint64
	req.Dest.RegisterHandler(condition, func(_ context.Context, p *domain.Prepare) domain.Reply {
		if p.ExecutionCondition != condition {
			return domain.NewReject(domain.CodeUnexpectedPayment, req.Dest.ClientAddress(), "condition mismatch")
		}
		if fromUint64(p.Amount).LessThan(minDest) {
			return domain.NewReject(domain.CodeApplicationError, req.Dest.ClientAddress(),
				fmt.Sprintf("exchange rate too low: received %d, minimum %s", p.Amount, minDest))
		}
		delivered.Store(p.Amount)
		return &domain.Fulfill{Fulfillment: preimage}
	})
	defer req.Dest.DeregisterHandler(condition)

	prepare := &domain.Prepare{
		Destination:        req.Dest.ClientAddress(),
		Amount:             amount.BigInt().Uint64(),
		ExecutionCondition: condition,
		ExpiresAt:          time.Now().Add(e.packetExpiry),
	}

	// Packets already sent resolve on their own; cancellation only stops new ones.
	reply, err := req.Source.SendPacket(context.WithoutCancel(ctx), prepare)
	s.receipt.PacketsSent++
	if err != nil {
		return false, err
	}

	switch r := reply.(type) {
	case *domain.Fulfill:
		s.receipt.PacketsFulfilled++
		s.receipt.AmountFulfilled = s.receipt.AmountFulfilled.Add(amount)
		s.receipt.AmountDelivered = s.receipt.AmountDelivered.Add(fromUint64(delivered.Load()))
		s.remaining = s.remaining.Sub(amount)
		s.idle = time.Now().Add(e.idleTimeout)
		return false, nil
	case *domain.Reject:
		if r.Code == domain.CodeAmountTooLarge {
			shrunk, err := e.shrink(s, amount, r)
			return !shrunk, err
		}
		e.logger.Debug("Packet rejected", map[string]interface{}{
			"stream_id":    s.receipt.ID,
			"code":         string(r.Code),
			"triggered_by": r.TriggeredBy,
			"message":      r.Message,
		})
		return true, nil
	default:
		return false, errors.Wrap(errors.ErrInvalidFulfillment, "unknown reply type")
	}
}

// shrink lowers the packet ceiling from an F08 reply. Limits reported in the
// foreign unit are scaled by the ratio observed on this packet. The ceiling
// only ever moves down.
func (e *Engine) shrink(s *session, amount decimal.Decimal, r *domain.Reject) (bool, error) {
	tooLarge, err := domain.DecodeAmountTooLarge(r.Data)
	if err != nil || tooLarge.ReceivedAmount == 0 {
		e.logger.Warn("Malformed amount too large payload", map[string]interface{}{
			"stream_id":    s.receipt.ID,
			"triggered_by": r.TriggeredBy,
		})
		return false, nil
	}

	inferred := amount.Mul(fromUint64(tooLarge.MaximumAmount)).
		Div(fromUint64(tooLarge.ReceivedAmount)).Floor()
	if !inferred.LessThan(amount) {
		e.logger.Warn("Peer reported a packet limit above the rejected amount", map[string]interface{}{
			"stream_id":    s.receipt.ID,
			"amount":       amount.String(),
			"received":     tooLarge.ReceivedAmount,
			"maximum":      tooLarge.MaximumAmount,
			"triggered_by": r.TriggeredBy,
		})
		return false, nil
	}
	if !inferred.IsPositive() {
		return false, errors.ErrPacketSizeExhausted
	}

	s.maxPacket = inferred
	e.logger.Debug("Reduced max packet amount", map[string]interface{}{
		"stream_id":  s.receipt.ID,
		"max_packet": inferred.String(),
	})
	return true, nil
}

func (e *Engine) backoff(ctx context.Context) error {
	t := time.NewTimer(e.creditBackoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func fromUint64(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}

// Endpoint is the view of an uplink a stream needs.
type Endpoint interface {
	Engine() *engine.SettlementEngine
	ClientAddress() string
	AvailableCredit() decimal.Decimal
	SendPacket(ctx context.Context, prepare *domain.Prepare) (domain.Reply, error)
	RegisterHandler(condition [32]byte, handler transport.PacketHandler)
	DeregisterHandler(condition [32]byte)
}
