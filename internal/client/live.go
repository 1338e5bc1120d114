package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"chatcore/pkg/logger"
)

// ErrNotConnected is returned when a frame is sent while the live channel is down.
var ErrNotConnected = errors.New("live channel not connected")

const (
	heartbeatInterval = 25 * time.Second
	writeTimeout      = 10 * time.Second
	readLimit         = 1 << 20
)

// ConnState is the live channel state.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
)

// LiveHandlers receive live channel callbacks. All fields are optional.
type LiveHandlers struct {
	OnEvent       func(data []byte)
	OnConnect     func()
	OnStateChange func(state ConnState)
}

// LiveChannel keeps one WebSocket to the server open while the session is
// logged in, reconnecting with backoff after a drop. Close stops it for good
// until the next Connect.
type LiveChannel struct {
	session  *Session
	backoff  *Backoff
	handlers LiveHandlers

	mutex  sync.Mutex
	ctx    context.Context
	state  ConnState
	conn   *websocket.Conn
	cancel context.CancelFunc
	timer  *time.Timer
	closed bool
}

func NewLiveChannel(session *Session, backoff *Backoff, handlers LiveHandlers) *LiveChannel {
	if backoff == nil {
		backoff = NewBackoff()
	}
	return &LiveChannel{
		session:  session,
		backoff:  backoff,
		handlers: handlers,
		state:    StateDisconnected,
	}
}

func (l *LiveChannel) State() ConnState {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.state
}

func (l *LiveChannel) setState(state ConnState) {
	l.mutex.Lock()
	changed := l.state != state
	l.state = state
	l.mutex.Unlock()
	if changed && l.handlers.OnStateChange != nil {
		l.handlers.OnStateChange(state)
	}
}

func liveURL(baseURL, token string) string {
	u := strings.TrimRight(baseURL, "/")
	u = strings.Replace(u, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return u + "/ws?token=" + url.QueryEscape(token)
}

// Connect dials the server. ctx bounds the channel's whole lifetime,
// reconnects included. A failed dial schedules a reconnect and is returned.
func (l *LiveChannel) Connect(ctx context.Context) error {
	l.mutex.Lock()
	l.closed = false
	l.ctx = ctx
	l.mutex.Unlock()
	return l.connect()
}

func (l *LiveChannel) connect() error {
	l.mutex.Lock()
	ctx := l.ctx
	if l.closed || l.state != StateDisconnected || ctx.Err() != nil {
		l.mutex.Unlock()
		return nil
	}
	l.mutex.Unlock()

	if !l.session.LoggedIn() {
		return ErrSessionExpired
	}
	l.setState(StateConnecting)

	conn, resp, err := websocket.Dial(ctx, liveURL(l.session.BaseURL(), l.session.Token()), nil)
	if err != nil {
		l.setState(StateDisconnected)
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			l.session.Logout(ErrSessionExpired)
			return ErrSessionExpired
		}
		l.scheduleReconnect()
		return fmt.Errorf("websocket dial: %w", err)
	}
	conn.SetReadLimit(readLimit)

	connCtx, cancel := context.WithCancel(ctx)
	l.mutex.Lock()
	if l.closed {
		l.mutex.Unlock()
		cancel()
		conn.Close(websocket.StatusNormalClosure, "client closed")
		l.setState(StateDisconnected)
		return nil
	}
	l.conn = conn
	l.cancel = cancel
	l.mutex.Unlock()

	l.backoff.Reset()
	l.setState(StateConnected)
	logger.Debug("Live channel connected")

	go l.readLoop(connCtx, conn)
	go l.heartbeatLoop(connCtx)

	if l.handlers.OnConnect != nil {
		l.handlers.OnConnect()
	}
	return nil
}

func (l *LiveChannel) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			l.dropped(conn, err)
			return
		}
		if l.handlers.OnEvent != nil {
			l.handlers.OnEvent(data)
		}
	}
}

// dropped handles the end of conn. Only the current connection may trigger
// a reconnect, and never after Close or logout.
func (l *LiveChannel) dropped(conn *websocket.Conn, err error) {
	l.mutex.Lock()
	if l.conn != conn {
		l.mutex.Unlock()
		return
	}
	l.conn = nil
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	closed := l.closed
	l.mutex.Unlock()

	conn.Close(websocket.StatusGoingAway, "")
	l.setState(StateDisconnected)
	if closed {
		return
	}

	logger.Warn("Live channel dropped: %v", err)
	l.scheduleReconnect()
}

func (l *LiveChannel) scheduleReconnect() {
	if !l.session.LoggedIn() {
		return
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()
	if l.closed || l.ctx.Err() != nil {
		return
	}
	delay := l.backoff.Next()
	if l.timer != nil {
		l.timer.Stop()
	}
	logger.Debug("Live channel reconnecting in %v (attempt %d)", delay, l.backoff.Attempt())
	l.timer = time.AfterFunc(delay, func() {
		l.connect()
	})
}

func (l *LiveChannel) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.Send(ctx, map[string]string{"type": "ping"}); err != nil {
				return
			}
		}
	}
}

// Send writes one JSON frame.
func (l *LiveChannel) Send(ctx context.Context, frame interface{}) error {
	l.mutex.Lock()
	conn := l.conn
	l.mutex.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

// Close disconnects and cancels any pending reconnect.
func (l *LiveChannel) Close() error {
	l.mutex.Lock()
	l.closed = true
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	conn := l.conn
	l.conn = nil
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	l.mutex.Unlock()

	l.setState(StateDisconnected)
	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client closed")
	}
	return nil
}

// ReconnectPending reports whether a reconnect timer is armed.
func (l *LiveChannel) ReconnectPending() bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.timer != nil && !l.closed && l.state == StateDisconnected
}
