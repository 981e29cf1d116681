package transport

import (
	"context"
	"sync"

	"ilpsdk/internal/domain"
	"ilpsdk/pkg/errors"
)

// PipeEnd is one side of an in-memory transport pair.
type PipeEnd struct {
	name string
	peer *PipeEnd

	mu                sync.RWMutex
	connected         bool
	packetHandler     PacketHandler
	settlementHandler SettlementHandler
	settlementHook    func(ctx context.Context, amount uint64) error
}

// Pipe returns two connected-on-demand ends. Packets sent on one end are
// delivered to the handler registered on the other.
func Pipe(nameA, nameB string) (*PipeEnd, *PipeEnd) {
	a := &PipeEnd{name: nameA}
	b := &PipeEnd{name: nameB}
	a.peer, b.peer = b, a
	return a, b
}

func (p *PipeEnd) Name() string {
	return p.name
}

func (p *PipeEnd) Connect(_ context.Context) error {
	p.mu.Lock()
	p.connected = true
	p.mu.Unlock()
	return nil
}

func (p *PipeEnd) Disconnect(_ context.Context) error {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	return nil
}

func (p *PipeEnd) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected
}

func (p *PipeEnd) OnIncomingPacket(handler PacketHandler) {
	p.mu.Lock()
	p.packetHandler = handler
	p.mu.Unlock()
}

func (p *PipeEnd) OnIncomingSettlement(handler SettlementHandler) {
	p.mu.Lock()
	p.settlementHandler = handler
	p.mu.Unlock()
}

// SetSettlementHook installs a function run before each outgoing settlement
// reaches the peer. A non-nil error fails the settlement.
func (p *PipeEnd) SetSettlementHook(hook func(ctx context.Context, amount uint64) error) {
	p.mu.Lock()
	p.settlementHook = hook
	p.mu.Unlock()
}

func (p *PipeEnd) SendPacket(ctx context.Context, prepare *domain.Prepare) (domain.Reply, error) {
	if !p.IsConnected() {
		return nil, errors.ErrNotConnected
	}

	p.peer.mu.RLock()
	handler := p.peer.packetHandler
	peerUp := p.peer.connected
	p.peer.mu.RUnlock()

	if !peerUp || handler == nil {
		return domain.NewReject(domain.CodeUnreachable, p.name, "peer not accepting packets"), nil
	}

	return awaitReply(ctx, prepare, p.name, func() domain.Reply {
		return handler(ctx, prepare)
	})
}

func (p *PipeEnd) SendSettlement(ctx context.Context, amount uint64) error {
	if !p.IsConnected() {
		return errors.ErrNotConnected
	}

	p.mu.RLock()
	hook := p.settlementHook
	p.mu.RUnlock()
	if hook != nil {
		if err := hook(ctx, amount); err != nil {
			return err
		}
	}

	p.peer.mu.RLock()
	handler := p.peer.settlementHandler
	p.peer.mu.RUnlock()
	if handler != nil {
		handler(ctx, amount)
	}
	return nil
}
