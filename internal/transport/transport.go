// Package transport carries ILP packets and settlement notifications between
// this switch and a single counterparty.
package transport

import (
	"context"
	"time"

	"ilpsdk/internal/domain"
)

// PacketHandler answers an incoming prepare. It must always return a reply.
type PacketHandler func(ctx context.Context, prepare *domain.Prepare) domain.Reply

// SettlementHandler receives the base-unit amount of an incoming settlement.
type SettlementHandler func(ctx context.Context, amount uint64)

// Transport is a raw bidirectional packet link to one counterparty.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool
	SendPacket(ctx context.Context, prepare *domain.Prepare) (domain.Reply, error)
	OnIncomingPacket(handler PacketHandler)
	OnIncomingSettlement(handler SettlementHandler)
	SendSettlement(ctx context.Context, amount uint64) error
}

// awaitReply runs fn and waits for its reply, the prepare expiry or ctx,
// whichever comes first. An expired prepare resolves to an R00 reject.
func awaitReply(ctx context.Context, prepare *domain.Prepare, triggeredBy string, fn func() domain.Reply) (domain.Reply, error) {
	ch := make(chan domain.Reply, 1)
	go func() {
		ch <- fn()
	}()

	var expiry <-chan time.Time
	if !prepare.ExpiresAt.IsZero() {
		timer := time.NewTimer(time.Until(prepare.ExpiresAt))
		defer timer.Stop()
		expiry = timer.C
	}

	select {
	case reply := <-ch:
		return reply, nil
	case <-expiry:
		return domain.NewReject(domain.CodeTransferTimedOut, triggeredBy, "packet expired"), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
