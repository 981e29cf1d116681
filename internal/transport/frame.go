package transport

import (
	"encoding/hex"
	"fmt"
	"time"

	"ilpsdk/internal/domain"
)

const (
	framePrepare    = "prepare"
	frameFulfill    = "fulfill"
	frameReject     = "reject"
	frameSettlement = "settlement"
	frameAck        = "ack"
)

// frame is the JSON message exchanged over the websocket transport.
type frame struct {
	Type        string     `json:"type"`
	ID          string     `json:"id"`
	Destination string     `json:"destination,omitempty"`
	Amount      uint64     `json:"amount,string,omitempty"`
	Condition   string     `json:"condition,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Fulfillment string     `json:"fulfillment,omitempty"`
	Code        string     `json:"code,omitempty"`
	TriggeredBy string     `json:"triggered_by,omitempty"`
	Message     string     `json:"message,omitempty"`
	Data        []byte     `json:"data,omitempty"`
	Error       string     `json:"error,omitempty"`
}

func prepareFrame(id string, p *domain.Prepare) frame {
	f := frame{
		Type:        framePrepare,
		ID:          id,
		Destination: p.Destination,
		Amount:      p.Amount,
		Condition:   hex.EncodeToString(p.ExecutionCondition[:]),
		Data:        p.Data,
	}
	if !p.ExpiresAt.IsZero() {
		expires := p.ExpiresAt.UTC()
		f.ExpiresAt = &expires
	}
	return f
}

func replyFrame(id string, reply domain.Reply) frame {
	switch r := reply.(type) {
	case *domain.Fulfill:
		return frame{Type: frameFulfill, ID: id, Fulfillment: hex.EncodeToString(r.Fulfillment[:]), Data: r.Data}
	case *domain.Reject:
		return frame{Type: frameReject, ID: id, Code: string(r.Code), TriggeredBy: r.TriggeredBy, Message: r.Message, Data: r.Data}
	default:
		return frame{Type: frameReject, ID: id, Code: string(domain.CodeInternalError), Message: "handler returned no reply"}
	}
}

func decode32(s string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(b) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}

func (f frame) prepare() (*domain.Prepare, error) {
	condition, err := decode32(f.Condition)
	if err != nil {
		return nil, fmt.Errorf("invalid condition: %w", err)
	}
	p := &domain.Prepare{
		Destination:        f.Destination,
		Amount:             f.Amount,
		ExecutionCondition: condition,
		Data:               f.Data,
	}
	if f.ExpiresAt != nil {
		p.ExpiresAt = *f.ExpiresAt
	}
	return p, nil
}

func (f frame) reply() (domain.Reply, error) {
	switch f.Type {
	case frameFulfill:
		preimage, err := decode32(f.Fulfillment)
		if err != nil {
			return nil, fmt.Errorf("invalid fulfillment: %w", err)
		}
		return &domain.Fulfill{Fulfillment: preimage, Data: f.Data}, nil
	case frameReject:
		return &domain.Reject{
			Code:        domain.ErrorCode(f.Code),
			TriggeredBy: f.TriggeredBy,
			Message:     f.Message,
			Data:        f.Data,
		}, nil
	default:
		return nil, fmt.Errorf("frame %q is not a reply", f.Type)
	}
}
