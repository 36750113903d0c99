package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	maxMessageSize   = 1 << 20
	maxReconnectWait = 30 * time.Second
)

// connIface is the subset of *websocket.Conn the module uses; tests swap in
// a fake connection
type connIface interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	Close() error
}

// frame is the gateway wire format
type frame struct {
	Op      string `json:"op"`
	Channel string `json:"channel,omitempty"`
	Author  string `json:"author,omitempty"`
	Content string `json:"content,omitempty"`
	Token   string `json:"token,omitempty"`
}

// dialAndIdentify opens the websocket connection, sends the identify frame
// and installs the pong handler. The dial races against an explicit timeout
// independent of any retry backoff.
func (m *Module) dialAndIdentify(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: m.cfg.DialTimeout}

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
	defer cancel()

	conn, _, err := dialer.DialContext(dialCtx, m.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial gateway: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)

	conn.SetPongHandler(func(string) error {
		m.touchActivity()
		return conn.SetReadDeadline(time.Now().Add(3 * m.cfg.HeartbeatInterval))
	})
	if err := conn.SetReadDeadline(time.Now().Add(3 * m.cfg.HeartbeatInterval)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set read deadline: %w", err)
	}

	if err := conn.WriteJSON(frame{Op: "identify", Token: m.cfg.Token}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("identify: %w", err)
	}

	m.touchActivity()
	return conn, nil
}

// closeConn closes the current connection with a best-effort close frame.
// Safe to call with no live connection.
func (m *Module) closeConn() {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	if conn != nil {
		m.writeMu.Lock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "closing"),
			time.Now().Add(500*time.Millisecond))
		m.writeMu.Unlock()
		conn.Close()
	}
	m.connected.Store(false)
}

// readLoop reads frames until shutdown, reconnecting with capped
// exponential backoff on connection loss
func (m *Module) readLoop(ctx context.Context) {
	defer m.wg.Done()

	backoff := time.Second

	for {
		m.mu.Lock()
		conn := m.conn
		m.mu.Unlock()

		if conn != nil {
			var f frame
			err := conn.ReadJSON(&f)
			if err == nil {
				m.touchActivity()
				backoff = time.Second
				m.dispatch(ctx, f)
				continue
			}
			if m.Stopped() {
				return
			}
			slog.Warn("Gateway read failed, reconnecting", "error", err)
		}

		m.closeConn()
		m.reconnecting.Store(true)

		for {
			select {
			case <-ctx.Done():
				return
			case <-m.StopChannel():
				return
			case <-time.After(backoff):
			}

			newConn, err := m.dialAndIdentify(ctx)
			if err != nil {
				slog.Warn("Gateway reconnect failed", "wait", backoff, "error", err)
				backoff *= 2
				if backoff > maxReconnectWait {
					backoff = maxReconnectWait
				}
				continue
			}

			m.mu.Lock()
			m.conn = newConn
			m.mu.Unlock()
			m.connected.Store(true)
			m.reconnecting.Store(false)
			m.reconnects.Add(1)
			m.touchActivity()
			backoff = time.Second
			slog.Info("Gateway reconnected", "url", m.cfg.URL)
			break
		}
	}
}

// heartbeatLoop pings the gateway on an interval and forces a reconnect
// when no traffic has been seen for too long
func (m *Module) heartbeatLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.StopChannel():
			return
		case <-ticker.C:
			m.mu.Lock()
			conn := m.conn
			m.mu.Unlock()
			if conn == nil {
				continue
			}

			m.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second))
			m.writeMu.Unlock()
			if err != nil {
				slog.Warn("Gateway ping failed", "error", err)
			}

			// Stale connection with no pongs: close it so the read loop reconnects
			if m.sinceLastActivity() > 3*m.cfg.HeartbeatInterval {
				slog.Warn("Gateway heartbeat stale, forcing reconnect",
					"since_last_activity", m.sinceLastActivity())
				m.closeConn()
			}
		}
	}
}

// dispatch routes an inbound frame: chat messages carrying the command
// prefix are parsed and handed to the registered command handler
func (m *Module) dispatch(ctx context.Context, f frame) {
	if f.Op != "message" {
		return
	}
	m.eventsReceived.Add(1)

	if !strings.HasPrefix(f.Content, m.cfg.CommandPrefix) {
		return
	}

	name, args := parseCommand(strings.TrimPrefix(f.Content, m.cfg.CommandPrefix))
	if name == "" {
		return
	}

	m.handlersMu.RLock()
	handler, ok := m.handlers[name]
	m.handlersMu.RUnlock()
	if !ok {
		return
	}

	ev := Event{Channel: f.Channel, Author: f.Author, Content: f.Content}
	go func() {
		reply, err := handler(ctx, ev, args)
		if err != nil {
			m.commandErrors.Add(1)
			slog.Error("Command handler failed", "command", name, "author", ev.Author, "error", err)
			reply = fmt.Sprintf("Command %s%s failed: %v", m.cfg.CommandPrefix, name, err)
		}
		if reply != "" {
			if sendErr := m.Send(ctx, ev.Channel, reply); sendErr != nil {
				slog.Error("Failed to send command reply", "command", name, "error", sendErr)
			}
		}
	}()
}

// parseCommand splits "ban @user spamming links" into name and args
func parseCommand(s string) (string, []string) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return "", nil
	}
	return strings.ToLower(fields[0]), fields[1:]
}

func (m *Module) touchActivity() {
	m.lastActivity.Store(time.Now().UnixNano())
}

func (m *Module) sinceLastActivity() time.Duration {
	n := m.lastActivity.Load()
	if n == 0 {
		return time.Hour
	}
	return time.Since(time.Unix(0, n))
}
