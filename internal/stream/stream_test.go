package stream

import (
	"context"
	"sync"
	"testing"
	"time"

	"ilpsdk/internal/connector"
	"ilpsdk/internal/credential"
	"ilpsdk/internal/domain"
	"ilpsdk/internal/engine"
	"ilpsdk/internal/ledger"
	"ilpsdk/internal/rates"
	"ilpsdk/internal/transport"
	"ilpsdk/internal/uplink"
	"ilpsdk/pkg/errors"
	"ilpsdk/pkg/logger"
	"ilpsdk/pkg/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Scale zero engines keep base and exchange units equal.
func unitEngine(t domain.SettlementType, asset string) *engine.SettlementEngine {
	u := domain.Unit{AssetCode: asset}
	return &engine.SettlementEngine{Type: t, AssetCode: asset, BaseUnit: u, ExchangeUnit: u}
}

type stubCredential struct{ settler domain.SettlementType }

func (s stubCredential) SettlementType() domain.SettlementType { return s.settler }
func (s stubCredential) UniqueID() string                      { return string(s.settler) }
func (s stubCredential) Config() credential.Config             { return nil }
func (s stubCredential) Close() error                          { return nil }

func testOracle(t *testing.T) *rates.Service {
	s := rates.NewService([]rates.PriceProvider{rates.NewStaticProvider(map[string]decimal.Decimal{
		"BTC": decimal.NewFromInt(2),
		"XRP": decimal.NewFromInt(1),
	})}, nil, []string{"BTC", "XRP"}, logger.NewNop())
	require.NoError(t, s.Refresh(context.Background()))
	return s
}

func connectUplink(t *testing.T, conn *connector.Connector, name string, eng *engine.SettlementEngine, budget int64) *uplink.Uplink {
	t.Helper()
	ctx := context.Background()
	raw := conn.Attach(name, eng.BaseUnit)
	u, err := uplink.New(ctx, uplink.Config{ID: name, Connector: "Local"}, eng,
		stubCredential{settler: eng.Type}, raw, ledger.LimitsFromBudget(decimal.NewFromInt(budget)),
		uplink.Options{Store: store.NewMemory(), Logger: logger.NewNop(), HandshakeTimeout: time.Second})
	require.NoError(t, err)
	require.NoError(t, u.Connect(ctx))
	t.Cleanup(func() { _ = u.Disconnect(ctx) })
	return u
}

func slippage(v float64) *decimal.Decimal {
	d := decimal.NewFromFloat(v)
	return &d
}

func newEngine(t *testing.T, idle time.Duration) *Engine {
	return New(testOracle(t), Options{
		IdleTimeout:   idle,
		PacketExpiry:  time.Second,
		CreditBackoff: time.Millisecond,
		Logger:        logger.NewNop(),
	})
}

func TestStreamLimitedByCredit(t *testing.T) {
	conn := connector.New("test.conn", testOracle(t))
	alice := connectUplink(t, conn, "alice", unitEngine(domain.Lightning, "BTC"), 3)
	bob := connectUplink(t, conn, "bob", unitEngine(domain.Machinomy, "BTC"), 100)

	receipt, err := newEngine(t, 5*time.Second).StreamMoney(context.Background(), Request{
		Amount: decimal.NewFromInt(10),
		Source: alice,
		Dest:   bob,
	})
	require.NoError(t, err)
	assert.Equal(t, 4, receipt.PacketsSent)
	assert.Equal(t, 4, receipt.PacketsFulfilled)
	assert.True(t, receipt.AmountFulfilled.Equal(decimal.NewFromInt(10)))
	assert.True(t, receipt.AmountDelivered.Equal(decimal.NewFromInt(10)))
	assert.True(t, bob.Receivable().Get().Equal(decimal.NewFromInt(10)))

	alice.Ledger().Wait()
	// prefund of 3, then every fulfilled packet is settled
	assert.Equal(t, uint64(13), conn.Settled("alice"))
}

func TestStreamConvertsAcrossAssets(t *testing.T) {
	conn := connector.New("test.conn", testOracle(t))
	alice := connectUplink(t, conn, "alice", unitEngine(domain.Lightning, "BTC"), 100)
	bob := connectUplink(t, conn, "bob", unitEngine(domain.XrpPaychan, "XRP"), 1000)

	receipt, err := newEngine(t, 5*time.Second).StreamMoney(context.Background(), Request{
		Amount: decimal.NewFromInt(50),
		Source: alice,
		Dest:   bob,
	})
	require.NoError(t, err)
	assert.True(t, receipt.AmountDelivered.Equal(decimal.NewFromInt(100)))
}

func TestStreamShrinksOnAmountTooLarge(t *testing.T) {
	conn := connector.New("test.conn", testOracle(t))
	alice := connectUplink(t, conn, "alice", unitEngine(domain.Lightning, "BTC"), 100)
	bob := connectUplink(t, conn, "bob", unitEngine(domain.Machinomy, "BTC"), 100)
	conn.SetMaxPacketAmount("alice", 10)

	receipt, err := newEngine(t, 5*time.Second).StreamMoney(context.Background(), Request{
		Amount: decimal.NewFromInt(20),
		Source: alice,
		Dest:   bob,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, receipt.PacketsSent)
	assert.Equal(t, 2, receipt.PacketsFulfilled)
}

func TestStreamRejectsRateBelowSlippage(t *testing.T) {
	conn := connector.New("test.conn", testOracle(t))
	conn.SetSpread(decimal.NewFromFloat(0.5))
	alice := connectUplink(t, conn, "alice", unitEngine(domain.Lightning, "BTC"), 100)
	bob := connectUplink(t, conn, "bob", unitEngine(domain.Machinomy, "BTC"), 100)

	_, err := newEngine(t, 100*time.Millisecond).StreamMoney(context.Background(), Request{
		Amount: decimal.NewFromInt(10),
		Source: alice,
		Dest:   bob,
	})
	var streamErr *Error
	require.True(t, errors.As(err, &streamErr))
	assert.True(t, errors.Is(err, errors.ErrStreamIdle))
	assert.Zero(t, streamErr.Receipt.PacketsFulfilled)
	assert.Positive(t, streamErr.Receipt.PacketsSent)
	assert.True(t, bob.Receivable().Get().IsZero())

	receipt, err := newEngine(t, time.Second).StreamMoney(context.Background(), Request{
		Amount:   decimal.NewFromInt(10),
		Source:   alice,
		Dest:     bob,
		Slippage: slippage(0.6),
	})
	require.NoError(t, err)
	assert.True(t, receipt.AmountDelivered.Equal(decimal.NewFromInt(5)))
}

func TestStreamDefaultAndExactSlippage(t *testing.T) {
	conn := connector.New("test.conn", testOracle(t))
	conn.SetSpread(decimal.NewFromFloat(0.005))
	alice := connectUplink(t, conn, "alice", unitEngine(domain.Lightning, "BTC"), 2000)
	bob := connectUplink(t, conn, "bob", unitEngine(domain.Machinomy, "BTC"), 2000)

	// 0.5% spread is inside the 1% default
	receipt, err := newEngine(t, time.Second).StreamMoney(context.Background(), Request{
		Amount: decimal.NewFromInt(1000),
		Source: alice,
		Dest:   bob,
	})
	require.NoError(t, err)
	assert.True(t, receipt.AmountDelivered.Equal(decimal.NewFromInt(995)), receipt.AmountDelivered.String())

	_, err = newEngine(t, 100*time.Millisecond).StreamMoney(context.Background(), Request{
		Amount:   decimal.NewFromInt(1000),
		Source:   alice,
		Dest:     bob,
		Slippage: slippage(0),
	})
	assert.True(t, errors.Is(err, errors.ErrStreamIdle))
}

func TestStreamIdleTimeoutReportsPartialProgress(t *testing.T) {
	conn := connector.New("test.conn", testOracle(t))
	alice := connectUplink(t, conn, "alice", unitEngine(domain.Lightning, "BTC"), 3)
	bob := connectUplink(t, conn, "bob", unitEngine(domain.Machinomy, "BTC"), 100)
	alice.Ledger().DisableSettlement()

	_, err := newEngine(t, 100*time.Millisecond).StreamMoney(context.Background(), Request{
		Amount: decimal.NewFromInt(10),
		Source: alice,
		Dest:   bob,
	})
	var streamErr *Error
	require.True(t, errors.As(err, &streamErr))
	assert.True(t, errors.Is(err, errors.ErrStreamIdle))
	assert.Equal(t, 1, streamErr.Receipt.PacketsFulfilled)
	assert.True(t, streamErr.Receipt.AmountFulfilled.Equal(decimal.NewFromInt(3)))
	assert.Contains(t, err.Error(), "1 of 1 packets fulfilled")
}

func TestStreamCancellation(t *testing.T) {
	conn := connector.New("test.conn", testOracle(t))
	alice := connectUplink(t, conn, "alice", unitEngine(domain.Lightning, "BTC"), 3)
	bob := connectUplink(t, conn, "bob", unitEngine(domain.Machinomy, "BTC"), 100)
	alice.Ledger().DisableSettlement()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := newEngine(t, 10*time.Second).StreamMoney(ctx, Request{
		Amount: decimal.NewFromInt(10),
		Source: alice,
		Dest:   bob,
	})
	var streamErr *Error
	require.True(t, errors.As(err, &streamErr))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.True(t, streamErr.Receipt.AmountFulfilled.Equal(decimal.NewFromInt(3)))
}

func TestStreamValidatesRequest(t *testing.T) {
	conn := connector.New("test.conn", testOracle(t))
	alice := connectUplink(t, conn, "alice", unitEngine(domain.Lightning, "BTC"), 3)
	bob := connectUplink(t, conn, "bob", unitEngine(domain.Machinomy, "BTC"), 100)
	e := newEngine(t, time.Second)

	_, err := e.StreamMoney(context.Background(), Request{Amount: decimal.NewFromFloat(0.5), Source: alice, Dest: bob})
	assert.True(t, errors.Is(err, errors.ErrInvalidAmount))

	_, err = e.StreamMoney(context.Background(), Request{Amount: decimal.NewFromInt(1), Source: alice, Dest: bob, Slippage: slippage(1)})
	assert.True(t, errors.Is(err, errors.ErrInvalidConfig))
}

// fakeEndpoint doubles amounts on the way to its peer and enforces a foreign
// packet limit, like a connector converting into a cheaper asset.
type fakeEndpoint struct {
	eng     *engine.SettlementEngine
	address string
	peer    *fakeEndpoint
	reply   func(p *domain.Prepare) domain.Reply

	mu       sync.Mutex
	sent     []uint64
	handlers map[[32]byte]transport.PacketHandler
}

func newFake(eng *engine.SettlementEngine, address string) *fakeEndpoint {
	return &fakeEndpoint{eng: eng, address: address, handlers: make(map[[32]byte]transport.PacketHandler)}
}

func (f *fakeEndpoint) Engine() *engine.SettlementEngine { return f.eng }
func (f *fakeEndpoint) ClientAddress() string            { return f.address }
func (f *fakeEndpoint) AvailableCredit() decimal.Decimal { return decimal.NewFromInt(1000) }

func (f *fakeEndpoint) SendPacket(_ context.Context, p *domain.Prepare) (domain.Reply, error) {
	f.mu.Lock()
	f.sent = append(f.sent, p.Amount)
	f.mu.Unlock()
	return f.reply(p), nil
}

func (f *fakeEndpoint) RegisterHandler(condition [32]byte, handler transport.PacketHandler) {
	f.mu.Lock()
	f.handlers[condition] = handler
	f.mu.Unlock()
}

func (f *fakeEndpoint) DeregisterHandler(condition [32]byte) {
	f.mu.Lock()
	delete(f.handlers, condition)
	f.mu.Unlock()
}

func (f *fakeEndpoint) deliver(p *domain.Prepare) domain.Reply {
	f.mu.Lock()
	h, ok := f.handlers[p.ExecutionCondition]
	f.mu.Unlock()
	if !ok {
		return domain.NewReject(domain.CodeUnexpectedPayment, f.address, "no handler")
	}
	return h(context.Background(), p)
}

func (f *fakeEndpoint) sentAmounts() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint64(nil), f.sent...)
}

func TestShrinkScalesForeignLimit(t *testing.T) {
	src := newFake(unitEngine(domain.Lightning, "BTC"), "test.src")
	dst := newFake(unitEngine(domain.XrpPaychan, "XRP"), "test.dst")
	const foreignMax = 8
	src.reply = func(p *domain.Prepare) domain.Reply {
		next := *p
		next.Amount = p.Amount * 2
		if next.Amount > foreignMax {
			return domain.NewAmountTooLarge("test.conn", next.Amount, foreignMax)
		}
		return dst.deliver(&next)
	}

	receipt, err := newEngine(t, time.Second).StreamMoney(context.Background(), Request{
		Amount: decimal.NewFromInt(20),
		Source: src,
		Dest:   dst,
	})
	require.NoError(t, err)
	assert.Equal(t, []uint64{20, 4, 4, 4, 4, 4}, src.sentAmounts())
	assert.Equal(t, 5, receipt.PacketsFulfilled)
	assert.True(t, receipt.AmountDelivered.Equal(decimal.NewFromInt(40)))
}

func TestLimitNotBelowAmountIsIgnored(t *testing.T) {
	src := newFake(unitEngine(domain.Lightning, "BTC"), "test.src")
	dst := newFake(unitEngine(domain.Machinomy, "BTC"), "test.dst")
	src.reply = func(p *domain.Prepare) domain.Reply {
		return domain.NewAmountTooLarge("test.conn", p.Amount, p.Amount)
	}

	_, err := newEngine(t, 50*time.Millisecond).StreamMoney(context.Background(), Request{
		Amount: decimal.NewFromInt(20),
		Source: src,
		Dest:   dst,
	})
	assert.True(t, errors.Is(err, errors.ErrStreamIdle))
	sent := src.sentAmounts()
	require.NotEmpty(t, sent)
	for _, amount := range sent {
		assert.Equal(t, uint64(20), amount)
	}
}

func TestPacketSizeExhausted(t *testing.T) {
	src := newFake(unitEngine(domain.Lightning, "BTC"), "test.src")
	dst := newFake(unitEngine(domain.Machinomy, "BTC"), "test.dst")
	src.reply = func(p *domain.Prepare) domain.Reply {
		return domain.NewAmountTooLarge("test.conn", p.Amount, 0)
	}

	_, err := newEngine(t, time.Second).StreamMoney(context.Background(), Request{
		Amount: decimal.NewFromInt(20),
		Source: src,
		Dest:   dst,
	})
	assert.True(t, errors.Is(err, errors.ErrPacketSizeExhausted))
	assert.Len(t, src.sentAmounts(), 1)
}

func TestHandlersAreDeregistered(t *testing.T) {
	src := newFake(unitEngine(domain.Lightning, "BTC"), "test.src")
	dst := newFake(unitEngine(domain.Machinomy, "BTC"), "test.dst")
	src.reply = func(p *domain.Prepare) domain.Reply { return dst.deliver(p) }

	_, err := newEngine(t, time.Second).StreamMoney(context.Background(), Request{
		Amount: decimal.NewFromInt(5),
		Source: src,
		Dest:   dst,
	})
	require.NoError(t, err)
	dst.mu.Lock()
	defer dst.mu.Unlock()
	assert.Empty(t, dst.handlers)
}
