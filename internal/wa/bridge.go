package wa

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/thanhpd/warelay/internal/identity"
	"github.com/thanhpd/warelay/pkg/bridge"
)

const (
	handshakeTimeout = 10 * time.Second
	requestTimeout   = 30 * time.Second
	maxReconnectWait = 30 * time.Second
)

// Bridge implements Client over a WebSocket connection to the wwebjs bridge.
// Requests carrying an ID are correlated with bridge Result frames; inbound
// message/call events are dispatched to the registered handlers.
type Bridge struct {
	url string

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool

	pendingMu sync.Mutex
	pending   map[string]chan bridge.Result

	onMessage func(Message)
	onCall    func(Call)

	ctx    context.Context
	cancel context.CancelFunc
}

// NewBridge creates a bridge client for url. Call Start to connect.
func NewBridge(url string) (*Bridge, error) {
	if url == "" {
		return nil, fmt.Errorf("bridge url is required")
	}
	return &Bridge{
		url:     url,
		pending: make(map[string]chan bridge.Result),
	}, nil
}

// OnMessage registers the inbound message handler. Must be set before Start.
func (b *Bridge) OnMessage(fn func(Message)) { b.onMessage = fn }

// OnCall registers the inbound call handler. Must be set before Start.
func (b *Bridge) OnCall(fn func(Call)) { b.onCall = fn }

// Start connects to the bridge and begins listening. A failed initial
// connection is not fatal; the listen loop keeps retrying with backoff.
func (b *Bridge) Start(ctx context.Context) error {
	slog.Info("starting whatsapp bridge client", "url", b.url)

	b.ctx, b.cancel = context.WithCancel(ctx)

	if err := b.connect(); err != nil {
		slog.Warn("initial bridge connection failed, will retry", "error", err)
	}

	go b.listenLoop()
	return nil
}

// Stop closes the connection and stops the listen loop.
func (b *Bridge) Stop() {
	slog.Info("stopping whatsapp bridge client")

	if b.cancel != nil {
		b.cancel()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		_ = b.conn.Close()
		b.conn = nil
	}
	b.connected = false
}

// SendText delivers a plain text message.
func (b *Bridge) SendText(ctx context.Context, to, body string) error {
	_, err := b.request(ctx, bridge.Request{Type: bridge.TypeSend, To: to, Content: body})
	return err
}

// SendReply delivers a text message quoting quoteID.
func (b *Bridge) SendReply(ctx context.Context, to, body, quoteID string) error {
	_, err := b.request(ctx, bridge.Request{Type: bridge.TypeSend, To: to, Content: body, QuoteID: quoteID})
	return err
}

// React attaches an emoji reaction to a message.
func (b *Bridge) React(ctx context.Context, chat, messageID, emoji string) error {
	_, err := b.request(ctx, bridge.Request{Type: bridge.TypeReact, Chat: chat, Message: messageID, Emoji: emoji})
	return err
}

// SendSeen marks a chat read. Fire-and-forget.
func (b *Bridge) SendSeen(_ context.Context, chat string) error {
	return b.write(bridge.Request{Type: bridge.TypeSeen, Chat: chat})
}

// Presence publishes a presence state. Fire-and-forget.
func (b *Bridge) Presence(_ context.Context, state, chat string) error {
	return b.write(bridge.Request{Type: bridge.TypePresence, State: state, Chat: chat})
}

// RejectCall declines an incoming call. Fire-and-forget.
func (b *Bridge) RejectCall(_ context.Context, callID string) error {
	return b.write(bridge.Request{Type: bridge.TypeRejectCall, CallID: callID})
}

// RecentChats lists recent direct-chat identifiers.
func (b *Bridge) RecentChats(ctx context.Context) ([]string, error) {
	res, err := b.request(ctx, bridge.Request{Type: bridge.TypeRecentChats})
	if err != nil {
		return nil, err
	}
	return res.Chats, nil
}

// ResolveAlias maps an alias-linked identifier to phone-linked form.
// Returns "" when the bridge knows no mapping.
func (b *Bridge) ResolveAlias(ctx context.Context, id string) (string, error) {
	res, err := b.request(ctx, bridge.Request{Type: bridge.TypeResolveAlias, Alias: id})
	if err != nil {
		return "", err
	}
	return res.PN, nil
}

// FetchProfile loads contact metadata for a phone-linked identifier.
func (b *Bridge) FetchProfile(ctx context.Context, id string) (identity.Profile, error) {
	res, err := b.request(ctx, bridge.Request{Type: bridge.TypeProfile, JID: id})
	if err != nil {
		return identity.Profile{}, err
	}
	return identity.Profile{Number: res.Number, Name: res.Name}, nil
}

// request sends a correlated frame and waits for the bridge's Result.
func (b *Bridge) request(ctx context.Context, req bridge.Request) (bridge.Result, error) {
	req.ID = uuid.NewString()

	ch := make(chan bridge.Result, 1)
	b.pendingMu.Lock()
	b.pending[req.ID] = ch
	b.pendingMu.Unlock()

	defer func() {
		b.pendingMu.Lock()
		delete(b.pending, req.ID)
		b.pendingMu.Unlock()
	}()

	if err := b.write(req); err != nil {
		return bridge.Result{}, err
	}

	timer := time.NewTimer(requestTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if !res.OK {
			return res, fmt.Errorf("bridge %s: %s", req.Type, res.Error)
		}
		return res, nil
	case <-timer.C:
		return bridge.Result{}, fmt.Errorf("bridge %s: timeout", req.Type)
	case <-ctx.Done():
		return bridge.Result{}, ctx.Err()
	}
}

func (b *Bridge) write(req bridge.Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal bridge frame: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return fmt.Errorf("bridge not connected")
	}
	if err := b.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write bridge frame: %w", err)
	}
	return nil
}

func (b *Bridge) connect() error {
	dialer := websocket.DefaultDialer
	dialer.HandshakeTimeout = handshakeTimeout

	conn, _, err := dialer.Dial(b.url, nil)
	if err != nil {
		return fmt.Errorf("dial bridge %s: %w", b.url, err)
	}

	b.mu.Lock()
	b.conn = conn
	b.connected = true
	b.mu.Unlock()

	slog.Info("whatsapp bridge connected", "url", b.url)
	return nil
}

// listenLoop reads frames from the bridge with automatic reconnection.
func (b *Bridge) listenLoop() {
	backoff := time.Second

	for {
		select {
		case <-b.ctx.Done():
			return
		default:
		}

		b.mu.Lock()
		conn := b.conn
		b.mu.Unlock()

		if conn == nil {
			slog.Info("attempting bridge reconnect", "backoff", backoff)

			select {
			case <-b.ctx.Done():
				return
			case <-time.After(backoff):
			}

			if err := b.connect(); err != nil {
				slog.Warn("bridge reconnect failed", "error", err)
				backoff = min(backoff*2, maxReconnectWait)
				continue
			}

			backoff = time.Second
			continue
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			slog.Warn("bridge read error, will reconnect", "error", err)

			b.mu.Lock()
			if b.conn != nil {
				_ = b.conn.Close()
				b.conn = nil
			}
			b.connected = false
			b.mu.Unlock()

			continue
		}

		b.dispatch(data)
	}
}

// dispatch routes one inbound frame to the pending-request table or the
// event handlers.
func (b *Bridge) dispatch(data []byte) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		slog.Warn("invalid bridge frame", "error", err)
		return
	}

	switch probe.Type {
	case bridge.TypeResult:
		var res bridge.Result
		if err := json.Unmarshal(data, &res); err != nil {
			slog.Warn("invalid bridge result", "error", err)
			return
		}
		b.pendingMu.Lock()
		ch, ok := b.pending[res.ID]
		b.pendingMu.Unlock()
		if ok {
			ch <- res
		}

	case bridge.TypeMessage:
		var ev bridge.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			slog.Warn("invalid bridge message event", "error", err)
			return
		}
		if b.onMessage != nil {
			b.onMessage(Message{
				From:     ev.From,
				Chat:     ev.Chat,
				Content:  ev.Content,
				ID:       ev.ID,
				FromName: ev.FromName,
				FromMe:   ev.FromMe,
				Status:   ev.Status,
			})
		}

	case bridge.TypeCall:
		var ev bridge.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			slog.Warn("invalid bridge call event", "error", err)
			return
		}
		if b.onCall != nil {
			b.onCall(Call{From: ev.From, ID: ev.CallID})
		}

	default:
		slog.Debug("unhandled bridge frame", "type", probe.Type)
	}
}
