// Package peerconfig implements the capability handshake an uplink runs with
// its connector: a zero-amount prepare to a well-known destination, fulfilled
// with the peer's asset details and the client's assigned address.
package peerconfig

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ilpsdk/internal/domain"
	"ilpsdk/internal/transport"
	"ilpsdk/pkg/errors"
)

// Destination is the address the handshake prepare is sent to.
const Destination = "peer.config"

// PeerConfig is what the connector advertises.
type PeerConfig struct {
	ClientAddress string `json:"clientAddress"`
	AssetCode     string `json:"assetCode"`
	AssetScale    int32  `json:"assetScale"`
}

// The handshake is unconditional in effect: the well-known preimage is zero.
var (
	preimage  [32]byte
	condition = domain.Condition(preimage)
)

// Fetch runs the handshake over t.
func Fetch(ctx context.Context, t transport.Transport, timeout time.Duration) (*PeerConfig, error) {
	prepare := &domain.Prepare{
		Destination:        Destination,
		Amount:             0,
		ExecutionCondition: condition,
		ExpiresAt:          time.Now().Add(timeout),
	}

	reply, err := t.SendPacket(ctx, prepare)
	if err != nil {
		return nil, errors.Wrap(errors.ErrHandshakeFailed, err.Error())
	}

	switch r := reply.(type) {
	case *domain.Fulfill:
		if !r.Matches(condition) {
			return nil, errors.Wrap(errors.ErrHandshakeFailed, errors.ErrInvalidFulfillment.Error())
		}
		var cfg PeerConfig
		if err := json.Unmarshal(r.Data, &cfg); err != nil {
			return nil, errors.Wrap(errors.ErrHandshakeFailed, fmt.Sprintf("malformed peer config: %v", err))
		}
		if cfg.ClientAddress == "" {
			return nil, errors.Wrap(errors.ErrHandshakeFailed, "peer assigned no address")
		}
		return &cfg, nil
	case *domain.Reject:
		return nil, errors.Wrap(errors.ErrHandshakeFailed, r.String())
	default:
		return nil, errors.ErrHandshakeFailed
	}
}

// Fulfill answers a handshake prepare with cfg.
func Fulfill(cfg PeerConfig) domain.Reply {
	data, err := json.Marshal(cfg)
	if err != nil {
		return domain.NewReject(domain.CodeInternalError, "", err.Error())
	}
	return &domain.Fulfill{Fulfillment: preimage, Data: data}
}

// Serve wraps next so handshake prepares are answered with lookup().
func Serve(next transport.PacketHandler, lookup func() PeerConfig) transport.PacketHandler {
	return func(ctx context.Context, p *domain.Prepare) domain.Reply {
		if p.Destination == Destination {
			return Fulfill(lookup())
		}
		if next == nil {
			return domain.NewReject(domain.CodeUnreachable, "", "no handler")
		}
		return next(ctx, p)
	}
}
