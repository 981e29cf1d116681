package peerconfig

import (
	"context"
	"testing"
	"time"

	"ilpsdk/internal/domain"
	"ilpsdk/internal/transport"
	"ilpsdk/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchServedConfig(t *testing.T) {
	ctx := context.Background()
	client, server := transport.Pipe("client", "server")
	_ = client.Connect(ctx)
	_ = server.Connect(ctx)

	want := PeerConfig{ClientAddress: "test.kava.alice", AssetCode: "XRP", AssetScale: 9}
	server.OnIncomingPacket(Serve(nil, func() PeerConfig { return want }))

	got, err := Fetch(ctx, client, time.Second)
	require.NoError(t, err)
	assert.Equal(t, want, *got)

	// Other destinations fall through to next.
	reply, err := client.SendPacket(ctx, &domain.Prepare{Destination: "g.other", Amount: 1})
	require.NoError(t, err)
	assert.Equal(t, domain.CodeUnreachable, reply.(*domain.Reject).Code)
}

func TestFetchFailures(t *testing.T) {
	ctx := context.Background()
	client, server := transport.Pipe("client", "server")
	_ = client.Connect(ctx)
	_ = server.Connect(ctx)

	server.OnIncomingPacket(func(context.Context, *domain.Prepare) domain.Reply {
		return domain.NewReject(domain.CodeBadRequest, "server", "nope")
	})
	_, err := Fetch(ctx, client, time.Second)
	assert.ErrorIs(t, err, errors.ErrHandshakeFailed)

	server.OnIncomingPacket(func(context.Context, *domain.Prepare) domain.Reply {
		return &domain.Fulfill{Data: []byte("not json")}
	})
	_, err = Fetch(ctx, client, time.Second)
	assert.ErrorIs(t, err, errors.ErrHandshakeFailed)

	server.OnIncomingPacket(func(context.Context, *domain.Prepare) domain.Reply {
		return &domain.Fulfill{Fulfillment: [32]byte{1}, Data: []byte(`{"clientAddress":"x"}`)}
	})
	_, err = Fetch(ctx, client, time.Second)
	assert.ErrorIs(t, err, errors.ErrHandshakeFailed)
}
