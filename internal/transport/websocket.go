// ==============================================================================
// WEBSOCKET TRANSPORT - internal/transport/websocket.go
// ==============================================================================
package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"ilpsdk/internal/domain"
	"ilpsdk/pkg/errors"
	"ilpsdk/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// WebSocket is a Transport over a gorilla websocket connection using JSON
// frames. Requests are matched to replies by frame id.
type WebSocket struct {
	url    string
	header http.Header
	dialer *websocket.Dialer
	name   string
	logger logger.Logger

	mu                sync.Mutex
	conn              *websocket.Conn
	done              chan struct{}
	pending           map[string]chan frame
	packetHandler     PacketHandler
	settlementHandler SettlementHandler

	writeMu sync.Mutex
}

// NewWebSocket builds a client transport for a connector URI such as
// btp+wss://:token@host/path. The token is sent as a bearer credential.
func NewWebSocket(uri string, log logger.Logger) (*WebSocket, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalidConfig, fmt.Sprintf("connector uri: %v", err))
	}

	header := http.Header{}
	if u.User != nil {
		if token, ok := u.User.Password(); ok && token != "" {
			header.Set("Authorization", "Bearer "+token)
		}
		u.User = nil
	}
	u.Scheme = strings.TrimPrefix(u.Scheme, "btp+")
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, errors.Wrap(errors.ErrInvalidConfig, fmt.Sprintf("unsupported connector scheme %q", u.Scheme))
	}

	return &WebSocket{
		url:     u.String(),
		header:  header,
		dialer:  websocket.DefaultDialer,
		name:    u.Host,
		logger:  log,
		pending: make(map[string]chan frame),
	}, nil
}

// NewWebSocketConn wraps an already established connection, e.g. one
// accepted by a websocket.Upgrader on the serving side.
func NewWebSocketConn(conn *websocket.Conn, name string, log logger.Logger) *WebSocket {
	return &WebSocket{
		conn:    conn,
		name:    name,
		logger:  log,
		pending: make(map[string]chan frame),
	}
}

// URL is the dial target with credentials stripped.
func (w *WebSocket) URL() string {
	return w.url
}

func (w *WebSocket) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn != nil && w.done != nil && !closed(w.done) {
		return nil
	}

	if w.conn == nil {
		if w.url == "" {
			return errors.Wrap(errors.ErrTransportClosed, "accepted connection cannot be redialed")
		}
		conn, resp, err := w.dialer.DialContext(ctx, w.url, w.header)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			return errors.Wrap(err, "failed to dial connector")
		}
		w.conn = conn
	}

	done := make(chan struct{})
	w.done = done
	go w.readLoop(w.conn, done)

	w.logger.Info("Transport connected", map[string]interface{}{"peer": w.name})
	return nil
}

func (w *WebSocket) Disconnect(_ context.Context) error {
	w.mu.Lock()
	conn := w.conn
	w.conn = nil
	w.mu.Unlock()

	if conn == nil {
		return nil
	}
	w.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	w.writeMu.Unlock()
	return conn.Close()
}

func (w *WebSocket) IsConnected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn != nil && w.done != nil && !closed(w.done)
}

func closed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// Done is closed once the read loop has stopped.
func (w *WebSocket) Done() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return w.done
}

func (w *WebSocket) OnIncomingPacket(handler PacketHandler) {
	w.mu.Lock()
	w.packetHandler = handler
	w.mu.Unlock()
}

func (w *WebSocket) OnIncomingSettlement(handler SettlementHandler) {
	w.mu.Lock()
	w.settlementHandler = handler
	w.mu.Unlock()
}

func (w *WebSocket) SendPacket(ctx context.Context, prepare *domain.Prepare) (domain.Reply, error) {
	f, err := w.request(ctx, prepareFrame(uuid.NewString(), prepare), prepare.ExpiresAt)
	if err != nil {
		if errors.Is(err, errors.ErrReplyTimeout) {
			return domain.NewReject(domain.CodeTransferTimedOut, w.name, "packet expired"), nil
		}
		return nil, err
	}
	return f.reply()
}

func (w *WebSocket) SendSettlement(ctx context.Context, amount uint64) error {
	f, err := w.request(ctx, frame{Type: frameSettlement, ID: uuid.NewString(), Amount: amount}, time.Time{})
	if err != nil {
		return err
	}
	if f.Error != "" {
		return fmt.Errorf("peer refused settlement: %s", f.Error)
	}
	return nil
}

func (w *WebSocket) request(ctx context.Context, req frame, deadline time.Time) (frame, error) {
	w.mu.Lock()
	conn, done := w.conn, w.done
	if conn == nil || done == nil {
		w.mu.Unlock()
		return frame{}, errors.ErrNotConnected
	}
	ch := make(chan frame, 1)
	w.pending[req.ID] = ch
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		delete(w.pending, req.ID)
		w.mu.Unlock()
	}()

	if err := w.write(conn, req); err != nil {
		return frame{}, errors.Wrap(err, "failed to write frame")
	}

	var expiry <-chan time.Time
	if !deadline.IsZero() {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		expiry = timer.C
	}

	select {
	case f := <-ch:
		return f, nil
	case <-expiry:
		return frame{}, errors.ErrReplyTimeout
	case <-done:
		return frame{}, errors.ErrTransportClosed
	case <-ctx.Done():
		return frame{}, ctx.Err()
	}
}

func (w *WebSocket) write(conn *websocket.Conn, f frame) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(f)
}

// readLoop serves conn until it fails. A dead conn is dropped so the next
// Connect dials again.
func (w *WebSocket) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer func() {
		w.mu.Lock()
		if w.conn == conn {
			w.conn = nil
		}
		w.mu.Unlock()
		_ = conn.Close()
		close(done)
	}()

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				w.logger.Warn("Transport read failed", map[string]interface{}{
					"peer":  w.name,
					"error": err.Error(),
				})
			}
			return
		}

		switch f.Type {
		case framePrepare:
			go w.servePrepare(conn, f)
		case frameSettlement:
			go w.serveSettlement(conn, f)
		case frameFulfill, frameReject, frameAck:
			w.mu.Lock()
			ch, ok := w.pending[f.ID]
			w.mu.Unlock()
			if ok {
				select {
				case ch <- f:
				default:
				}
			}
		default:
			w.logger.Warn("Unknown frame type", map[string]interface{}{"peer": w.name, "type": f.Type})
		}
	}
}

func (w *WebSocket) servePrepare(conn *websocket.Conn, f frame) {
	w.mu.Lock()
	handler := w.packetHandler
	w.mu.Unlock()

	var reply domain.Reply
	prepare, err := f.prepare()
	switch {
	case err != nil:
		reply = domain.NewReject(domain.CodeBadRequest, w.name, err.Error())
	case handler == nil:
		reply = domain.NewReject(domain.CodeUnreachable, w.name, "no packet handler")
	default:
		ctx := context.Background()
		if !prepare.ExpiresAt.IsZero() {
			var cancel context.CancelFunc
			ctx, cancel = context.WithDeadline(ctx, prepare.ExpiresAt)
			defer cancel()
		}
		reply = handler(ctx, prepare)
	}

	if err := w.write(conn, replyFrame(f.ID, reply)); err != nil {
		w.logger.Warn("Failed to write reply", map[string]interface{}{"peer": w.name, "error": err.Error()})
	}
}

func (w *WebSocket) serveSettlement(conn *websocket.Conn, f frame) {
	w.mu.Lock()
	handler := w.settlementHandler
	w.mu.Unlock()

	ack := frame{Type: frameAck, ID: f.ID}
	if handler == nil {
		ack.Error = "settlement not accepted"
	} else {
		handler(context.Background(), f.Amount)
	}
	if err := w.write(conn, ack); err != nil {
		w.logger.Warn("Failed to acknowledge settlement", map[string]interface{}{"peer": w.name, "error": err.Error()})
	}
}
