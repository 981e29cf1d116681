package ledger

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ilpsdk/internal/domain"
	"ilpsdk/internal/transport"
	"ilpsdk/pkg/errors"
	"ilpsdk/pkg/logger"
	"ilpsdk/pkg/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

type harness struct {
	ledger  *Ledger
	local   *transport.PipeEnd
	peer    *transport.PipeEnd
	store   *store.Memory
	settled atomic.Uint64
	count   atomic.Int32
}

func newHarness(t *testing.T, limits Limits) *harness {
	t.Helper()
	ctx := context.Background()
	h := &harness{store: store.NewMemory()}
	h.local, h.peer = transport.Pipe("local", "peer")
	require.NoError(t, h.local.Connect(ctx))
	require.NoError(t, h.peer.Connect(ctx))

	h.peer.OnIncomingSettlement(func(_ context.Context, amount uint64) {
		h.settled.Add(amount)
		h.count.Add(1)
	})

	l, err := New(ctx, h.local, Config{
		ID:      "uplink-1",
		Settler: domain.Lightning,
		Limits:  limits,
		Store:   h.store,
		Logger:  logger.NewNop(),
	})
	require.NoError(t, err)
	h.ledger = l
	return h
}

func fulfillAll(preimage [32]byte) transport.PacketHandler {
	return func(context.Context, *domain.Prepare) domain.Reply {
		return &domain.Fulfill{Fulfillment: preimage}
	}
}

func prepare(amount uint64, preimage [32]byte) *domain.Prepare {
	return &domain.Prepare{
		Destination:        "g.peer",
		Amount:             amount,
		ExecutionCondition: domain.Condition(preimage),
		ExpiresAt:          time.Now().Add(time.Second),
	}
}

func TestLimitsValidate(t *testing.T) {
	assert.NoError(t, LimitsFromBudget(dec(1000)).Validate())

	bad := []Limits{
		{Maximum: dec(10), SettleTo: dec(20), SettleThreshold: dec(5)},
		{Maximum: dec(30), SettleTo: dec(20), SettleThreshold: dec(25)},
		{Maximum: dec(30), SettleTo: dec(20), SettleThreshold: dec(10), Minimum: dec(15)},
		{MaxPacketAmount: dec(-1)},
	}
	for _, l := range bad {
		assert.ErrorIs(t, l.Validate(), errors.ErrInvalidBalanceConfig)
	}

	a, _ := transport.Pipe("a", "b")
	_, err := New(context.Background(), a, Config{ID: "x", Limits: bad[0]})
	assert.ErrorIs(t, err, errors.ErrInvalidBalanceConfig)
}

func TestIncomingLimits(t *testing.T) {
	limits := Limits{MaxPacketAmount: dec(50), MaxReceivable: dec(100), Maximum: dec(100), SettleTo: dec(100), SettleThreshold: dec(100)}
	h := newHarness(t, limits)
	ctx := context.Background()

	preimage, _ := domain.RandomFulfillment()
	h.ledger.OnIncomingPacket(fulfillAll(preimage))

	reply, err := h.peer.SendPacket(ctx, prepare(60, preimage))
	require.NoError(t, err)
	reject := reply.(*domain.Reject)
	assert.Equal(t, domain.CodeAmountTooLarge, reject.Code)
	payload, err := domain.DecodeAmountTooLarge(reject.Data)
	require.NoError(t, err)
	assert.Equal(t, uint64(60), payload.ReceivedAmount)
	assert.Equal(t, uint64(50), payload.MaximumAmount)

	for i := 0; i < 2; i++ {
		reply, err = h.peer.SendPacket(ctx, prepare(50, preimage))
		require.NoError(t, err)
		assert.IsType(t, &domain.Fulfill{}, reply)
	}
	assert.True(t, h.ledger.Snapshot().Receivable.Equal(dec(100)))

	reply, err = h.peer.SendPacket(ctx, prepare(1, preimage))
	require.NoError(t, err)
	assert.Equal(t, domain.CodeInsufficientLiq, reply.(*domain.Reject).Code)
	assert.True(t, h.ledger.IncomingCapacity().IsZero())

	// Settling restores room, and may push receivable below zero.
	require.NoError(t, h.peer.SendSettlement(ctx, 130))
	snap := h.ledger.Snapshot()
	assert.True(t, snap.Receivable.Equal(dec(-30)))
	assert.True(t, snap.TotalReceived.Equal(dec(130)))
	assert.True(t, h.ledger.IncomingCapacity().Equal(dec(130)))
}

func TestIncomingRejectReverts(t *testing.T) {
	h := newHarness(t, LimitsFromBudget(dec(100)))
	ctx := context.Background()
	preimage, _ := domain.RandomFulfillment()

	var seen decimal.Decimal
	h.ledger.OnIncomingPacket(func(context.Context, *domain.Prepare) domain.Reply {
		seen = h.ledger.Snapshot().Receivable
		return domain.NewReject(domain.CodeUnreachable, "app", "no route")
	})

	reply, err := h.peer.SendPacket(ctx, prepare(40, preimage))
	require.NoError(t, err)
	assert.Equal(t, domain.CodeUnreachable, reply.(*domain.Reject).Code)
	assert.True(t, seen.Equal(dec(40)), "receivable is committed before forwarding")
	assert.True(t, h.ledger.Snapshot().Receivable.IsZero())
}

func TestIncomingBalanceInvariant(t *testing.T) {
	max := dec(500)
	h := newHarness(t, Limits{MaxPacketAmount: dec(120), MaxReceivable: max, Maximum: dec(10), SettleTo: dec(10), SettleThreshold: dec(10)})
	ctx := context.Background()
	preimage, _ := domain.RandomFulfillment()

	rng := rand.New(rand.NewSource(7))
	h.ledger.OnIncomingPacket(func(context.Context, *domain.Prepare) domain.Reply {
		if rng.Intn(3) == 0 {
			return domain.NewReject(domain.CodeApplicationError, "app", "nope")
		}
		return &domain.Fulfill{Fulfillment: preimage}
	})

	for i := 0; i < 300; i++ {
		amount := uint64(rng.Intn(150) + 1)
		before := h.ledger.Snapshot().Receivable
		reply, err := h.peer.SendPacket(ctx, prepare(amount, preimage))
		require.NoError(t, err)

		after := h.ledger.Snapshot().Receivable
		assert.True(t, after.LessThanOrEqual(max))
		assert.False(t, after.IsNegative())

		wouldExceed := before.Add(dec(int64(amount))).GreaterThan(max)
		if r, ok := reply.(*domain.Reject); ok && r.Code == domain.CodeInsufficientLiq {
			assert.True(t, wouldExceed)
		}
		if amount <= 120 && wouldExceed {
			assert.Equal(t, domain.CodeInsufficientLiq, reply.(*domain.Reject).Code)
		}
		if i%25 == 0 {
			require.NoError(t, h.peer.SendSettlement(ctx, uint64(after.IntPart())))
		}
	}
}

func TestOutgoingCreditAndFulfillment(t *testing.T) {
	h := newHarness(t, LimitsFromBudget(dec(100)))
	ctx := context.Background()
	preimage, _ := domain.RandomFulfillment()
	h.peer.OnIncomingPacket(fulfillAll(preimage))

	// No credit extended yet.
	reply, err := h.ledger.SendPacket(ctx, prepare(10, preimage))
	require.NoError(t, err)
	assert.Equal(t, domain.CodeInsufficientLiq, reply.(*domain.Reject).Code)

	require.NoError(t, h.ledger.AttemptSettlement(ctx))
	assert.Equal(t, uint64(100), h.settled.Load())
	assert.True(t, h.ledger.AvailableCredit().Equal(dec(100)))

	reply, err = h.ledger.SendPacket(ctx, prepare(30, preimage))
	require.NoError(t, err)
	assert.IsType(t, &domain.Fulfill{}, reply)
	h.ledger.Wait()

	// The fulfill triggered a top-up back to settleTo.
	assert.Equal(t, uint64(130), h.settled.Load())
	snap := h.ledger.Snapshot()
	assert.True(t, snap.Payable.Equal(dec(-100)))
	assert.True(t, snap.TotalSent.Equal(dec(130)))

	// A forged fulfillment is rejected and not credited.
	other, _ := domain.RandomFulfillment()
	h.peer.OnIncomingPacket(fulfillAll(other))
	reply, err = h.ledger.SendPacket(ctx, prepare(30, preimage))
	require.NoError(t, err)
	assert.Equal(t, domain.CodeWrongCondition, reply.(*domain.Reject).Code)
	h.ledger.Wait()
	assert.True(t, h.ledger.Snapshot().Payable.Equal(dec(-100)))
}

func TestSettlementThreshold(t *testing.T) {
	limits := Limits{MaxPacketAmount: dec(100), MaxReceivable: dec(100), Maximum: dec(100), SettleTo: dec(100), SettleThreshold: dec(50)}
	h := newHarness(t, limits)
	ctx := context.Background()
	preimage, _ := domain.RandomFulfillment()
	h.peer.OnIncomingPacket(fulfillAll(preimage))

	require.NoError(t, h.ledger.AttemptSettlement(ctx))
	require.Equal(t, int32(1), h.count.Load())

	_, err := h.ledger.SendPacket(ctx, prepare(30, preimage))
	require.NoError(t, err)
	h.ledger.Wait()
	assert.Equal(t, int32(1), h.count.Load(), "credit 70 is above the threshold")

	_, err = h.ledger.SendPacket(ctx, prepare(30, preimage))
	require.NoError(t, err)
	h.ledger.Wait()
	assert.Equal(t, int32(2), h.count.Load())
	assert.Equal(t, uint64(160), h.settled.Load())
	assert.True(t, h.ledger.Snapshot().Payable.Equal(dec(-100)))
}

func TestSettlementFailureIsRetriedOnNextTrigger(t *testing.T) {
	h := newHarness(t, LimitsFromBudget(dec(100)))
	ctx := context.Background()

	var fail atomic.Bool
	fail.Store(true)
	h.local.SetSettlementHook(func(context.Context, uint64) error {
		if fail.Load() {
			return assert.AnError
		}
		return nil
	})

	assert.ErrorIs(t, h.ledger.AttemptSettlement(ctx), assert.AnError)
	assert.True(t, h.ledger.Snapshot().Payable.IsZero())

	fail.Store(false)
	require.NoError(t, h.ledger.AttemptSettlement(ctx))
	assert.True(t, h.ledger.Snapshot().Payable.Equal(dec(-100)))
	assert.Equal(t, int32(1), h.count.Load())
}

func TestSettlementIsSerialized(t *testing.T) {
	h := newHarness(t, LimitsFromBudget(dec(100)))
	ctx := context.Background()

	release := make(chan struct{})
	var calls atomic.Int32
	h.local.SetSettlementHook(func(context.Context, uint64) error {
		calls.Add(1)
		<-release
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.ledger.AttemptSettlement(ctx)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.True(t, h.ledger.Snapshot().Payable.Equal(dec(-100)))
}

func TestDisableSettlement(t *testing.T) {
	h := newHarness(t, LimitsFromBudget(dec(100)))
	h.ledger.DisableSettlement()
	require.NoError(t, h.ledger.AttemptSettlement(context.Background()))
	assert.Equal(t, int32(0), h.count.Load())

	h.ledger.EnableSettlement()
	require.NoError(t, h.ledger.AttemptSettlement(context.Background()))
	assert.Equal(t, int32(1), h.count.Load())
}

func TestWaitWhileFulfilling(t *testing.T) {
	h := newHarness(t, LimitsFromBudget(dec(100)))
	ctx := context.Background()
	preimage, _ := domain.RandomFulfillment()
	h.peer.OnIncomingPacket(fulfillAll(preimage))
	require.NoError(t, h.ledger.AttemptSettlement(ctx))

	var fulfilled atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				reply, err := h.ledger.SendPacket(ctx, prepare(7, preimage))
				if err == nil {
					if _, ok := reply.(*domain.Fulfill); ok {
						fulfilled.Add(7)
					}
				}
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 50; j++ {
			h.ledger.Wait()
		}
	}()
	wg.Wait()

	h.ledger.Wait()
	require.NoError(t, h.ledger.AttemptSettlement(ctx))
	snap := h.ledger.Snapshot()
	assert.True(t, snap.Payable.Equal(dec(-100)), snap.Payable.String())
	assert.True(t, snap.TotalSent.Equal(dec(100+fulfilled.Load())), snap.TotalSent.String())
	assert.Equal(t, uint64(100+fulfilled.Load()), h.settled.Load())
}

func TestBalancesSurviveRestart(t *testing.T) {
	h := newHarness(t, LimitsFromBudget(dec(100)))
	ctx := context.Background()
	preimage, _ := domain.RandomFulfillment()
	h.peer.OnIncomingPacket(fulfillAll(preimage))
	h.ledger.OnIncomingPacket(fulfillAll(preimage))

	require.NoError(t, h.ledger.AttemptSettlement(ctx))
	h.ledger.DisableSettlement()
	_, err := h.ledger.SendPacket(ctx, prepare(25, preimage))
	require.NoError(t, err)
	_, err = h.peer.SendPacket(ctx, prepare(15, preimage))
	require.NoError(t, err)
	h.ledger.Wait()
	before := h.ledger.Snapshot()

	a, _ := transport.Pipe("local", "peer")
	restored, err := New(ctx, a, Config{ID: "uplink-1", Limits: LimitsFromBudget(dec(100)), Store: h.store})
	require.NoError(t, err)
	after := restored.Snapshot()

	assert.True(t, before.Payable.Equal(after.Payable), "%s != %s", before.Payable, after.Payable)
	assert.True(t, before.Receivable.Equal(after.Receivable))
	assert.True(t, before.TotalSent.Equal(after.TotalSent))
	assert.True(t, after.Payable.Equal(dec(-75)))
	assert.True(t, after.Receivable.Equal(dec(15)))
}

func TestObserverSeesEveryChange(t *testing.T) {
	ctx := context.Background()
	local, peer := transport.Pipe("local", "peer")
	_ = local.Connect(ctx)
	_ = peer.Connect(ctx)

	var snaps []Snapshot
	l, err := New(ctx, local, Config{
		ID:       "obs",
		Limits:   LimitsFromBudget(dec(10)),
		Observer: func(s Snapshot) { snaps = append(snaps, s) },
	})
	require.NoError(t, err)

	require.NoError(t, l.AttemptSettlement(ctx))
	require.NoError(t, peer.SendSettlement(ctx, 4))
	require.Len(t, snaps, 2)
	assert.True(t, snaps[0].Payable.Equal(dec(-10)))
	assert.True(t, snaps[1].Receivable.Equal(dec(-4)))
}
