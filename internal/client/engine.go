package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"chatcore/internal/domain/entity"
	"chatcore/pkg/logger"
)

// ErrViewNotOpen is returned for conversation operations that need an open view.
var ErrViewNotOpen = errors.New("conversation is not open")

const DefaultPageSize = 50

// Options configure an Engine. Callbacks run on the goroutine that produced
// the change and must not block.
type Options struct {
	HTTPClient *http.Client
	Backoff    *Backoff
	PageSize   int

	OnUpdate       func(conversationID string)
	OnPresence     func(p Presence)
	OnConversation func(conv *entity.Conversation)
	OnError        func(code, message string)
	OnStateChange  func(state ConnState)
	OnLogout       func(reason error)
}

// Presence is the last known online state of a user.
type Presence struct {
	UserID   string
	Online   bool
	LastSeen time.Time
}

// Engine keeps the local views of open conversations in step with the
// server: REST for history and sends, the live channel for pushes.
type Engine struct {
	session *Session
	api     *API
	live    *LiveChannel
	opts    Options

	mutex    sync.RWMutex
	views    map[string]*View
	presence map[string]Presence
}

func NewEngine(session *Session, opts Options) *Engine {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	e := &Engine{
		session:  session,
		api:      NewAPI(session, opts.HTTPClient),
		opts:     opts,
		views:    make(map[string]*View),
		presence: make(map[string]Presence),
	}
	e.live = NewLiveChannel(session, opts.Backoff, LiveHandlers{
		OnEvent:       e.OnPushEvent,
		OnConnect:     e.onConnect,
		OnStateChange: opts.OnStateChange,
	})
	session.OnLogout(e.onLogout)
	return e
}

func (e *Engine) API() *API {
	return e.api
}

func (e *Engine) Session() *Session {
	return e.session
}

func (e *Engine) State() ConnState {
	return e.live.State()
}

// ReconnectPending reports whether the live channel is waiting to redial.
func (e *Engine) ReconnectPending() bool {
	return e.live.ReconnectPending()
}

// Start opens the live channel for a logged-in session. A failed first dial
// is retried in the background; only an expired session is an error.
func (e *Engine) Start(ctx context.Context) error {
	if !e.session.LoggedIn() {
		return ErrSessionExpired
	}
	sessionCtx := e.session.Start(ctx)
	if err := e.live.Connect(sessionCtx); err != nil {
		if errors.Is(err, ErrSessionExpired) {
			return err
		}
		logger.Warn("Live channel unavailable, retrying in background: %v", err)
	}
	return nil
}

// Stop closes the live channel and every view. Credentials are kept.
func (e *Engine) Stop() {
	e.live.Close()
	e.closeViews()
	e.session.Teardown()
}

// Logout tells the server, then forgets the credentials locally even when
// the server could not be reached.
func (e *Engine) Logout(ctx context.Context) error {
	if err := e.api.Logout(ctx); err != nil && !errors.Is(err, ErrSessionExpired) {
		logger.Warn("Server logout failed: %v", err)
	}
	return e.session.Logout(nil)
}

func (e *Engine) onLogout(reason error) {
	e.live.Close()
	e.closeViews()
	if e.opts.OnLogout != nil {
		e.opts.OnLogout(reason)
	}
}

func (e *Engine) closeViews() {
	e.mutex.Lock()
	views := e.views
	e.views = make(map[string]*View)
	e.mutex.Unlock()

	for _, view := range views {
		view.Close()
	}
}

// OpenView loads the newest page of a conversation and starts tracking it.
// Opening an already open conversation replaces its view.
func (e *Engine) OpenView(ctx context.Context, kind entity.ConversationKind, conversationID string) (*View, error) {
	detail, err := e.api.GetConversation(ctx, kind, conversationID, e.opts.PageSize)
	if err != nil {
		return nil, err
	}

	view := newView(kind, conversationID, func(ctx context.Context, cursor string) (*Page, error) {
		return e.api.GetMessages(ctx, kind, conversationID, cursor, e.opts.PageSize)
	})
	view.reset(detail.Messages, detail.NextCursor, detail.HasMore)

	e.mutex.Lock()
	old := e.views[conversationID]
	e.views[conversationID] = view
	e.mutex.Unlock()
	if old != nil {
		old.Close()
	}

	e.ackAll(view)
	// Pushes that arrived while the page was loading found no view.
	e.syncView(view)
	return view, nil
}

func (e *Engine) CloseView(conversationID string) {
	e.mutex.Lock()
	view := e.views[conversationID]
	delete(e.views, conversationID)
	e.mutex.Unlock()
	if view != nil {
		view.Close()
	}
}

func (e *Engine) View(conversationID string) *View {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return e.views[conversationID]
}

func (e *Engine) openViews() []*View {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return lo.Values(e.views)
}

// SendMessage shows content immediately as a Pending entry, then posts it.
// The returned entry is Confirmed on success and Failed otherwise; a failed
// entry stays in the view until it is retried.
func (e *Engine) SendMessage(ctx context.Context, conversationID, content string) (Entry, error) {
	view := e.View(conversationID)
	if view == nil {
		return Entry{}, ErrViewNotOpen
	}
	tempID := "tmp-" + uuid.NewString()
	view.addPending(tempID, e.session.UserID(), content)
	e.notify(conversationID)
	return e.send(ctx, view, tempID, content)
}

// Retry resends a Failed entry.
func (e *Engine) Retry(ctx context.Context, conversationID, tempID string) (Entry, error) {
	view := e.View(conversationID)
	if view == nil {
		return Entry{}, ErrViewNotOpen
	}
	content, err := view.retry(tempID)
	if err != nil {
		return Entry{}, err
	}
	e.notify(conversationID)
	return e.send(ctx, view, tempID, content)
}

func (e *Engine) send(ctx context.Context, view *View, tempID, content string) (Entry, error) {
	msg, err := e.api.SendMessage(ctx, view.Kind, view.ID, content)
	if err != nil {
		entry, _ := view.fail(tempID, err)
		e.notify(view.ID)
		return entry, err
	}
	entry, ok := view.confirm(tempID, msg)
	if !ok {
		return Entry{}, ErrViewClosed
	}
	e.notify(view.ID)
	return entry, nil
}

// MarkRead records that this user has read messageID.
func (e *Engine) MarkRead(ctx context.Context, conversationID, messageID string) error {
	view := e.View(conversationID)
	if view == nil {
		return ErrViewNotOpen
	}
	if _, err := e.api.MarkRead(ctx, view.Kind, conversationID, messageID); err != nil {
		return err
	}
	if view.updateStatus(messageID, e.session.UserID(), entity.DeliveryRead) {
		e.notify(conversationID)
	}
	return nil
}

// SendTyping is best effort: it is dropped while the live channel is down.
func (e *Engine) SendTyping(ctx context.Context, conversationID string, isTyping bool) error {
	return e.live.Send(ctx, entity.ClientFrame{
		Type:     entity.FrameTyping,
		ChatID:   conversationID,
		IsTyping: isTyping,
	})
}

func (e *Engine) Presence(userID string) (Presence, bool) {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	p, ok := e.presence[userID]
	return p, ok
}

// onConnect asks the server to replay whatever each open view missed while
// the live channel was down.
func (e *Engine) onConnect() {
	for _, view := range e.openViews() {
		e.syncView(view)
	}
}

func (e *Engine) syncView(view *View) {
	frame := entity.ClientFrame{
		Type:     entity.FrameSync,
		ChatID:   view.ID,
		AfterSeq: view.LastSeq(),
	}
	if err := e.live.Send(e.session.Context(), frame); err != nil {
		logger.Debug("Sync for %s not sent: %v", view.ID, err)
	}
}

func (e *Engine) ack(conversationID, messageID string) {
	frame := entity.ClientFrame{
		Type:      entity.FrameAck,
		ChatID:    conversationID,
		MessageID: messageID,
	}
	if err := e.live.Send(e.session.Context(), frame); err != nil && !errors.Is(err, ErrNotConnected) {
		logger.Debug("Ack for %s not sent: %v", messageID, err)
	}
}

func (e *Engine) ackAll(view *View) {
	self := e.session.UserID()
	for _, entry := range view.Entries() {
		msg := entry.Message
		if msg.SenderID != self && !lo.Contains(msg.DeliveredTo, self) {
			e.ack(view.ID, msg.ID)
		}
	}
}

// OnPushEvent handles one server frame. Unknown frame types are ignored.
func (e *Engine) OnPushEvent(raw []byte) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		logger.Debug("Discarding malformed frame: %v", err)
		return
	}

	switch head.Type {
	case entity.EventNewMessage:
		var ev entity.NewMessageEvent
		if decode(raw, &ev) && ev.Message != nil {
			e.onNewMessage(&ev)
		}

	case entity.EventUserStatus:
		var ev entity.UserStatusEvent
		if decode(raw, &ev) {
			e.onUserStatus(&ev)
		}

	case entity.EventTyping:
		var ev entity.TypingEvent
		if decode(raw, &ev) {
			if view := e.View(ev.ConversationID); view != nil {
				view.setTyping(ev.UserID, ev.IsTyping, ev.ExpiresAt)
				e.notify(ev.ConversationID)
			}
		}

	case entity.EventMessageStatus:
		var ev entity.MessageStatusEvent
		if decode(raw, &ev) {
			if view := e.View(ev.ConversationID); view != nil && view.updateStatus(ev.MessageID, ev.UserID, ev.State) {
				e.notify(ev.ConversationID)
			}
		}

	case entity.EventConversationUpdate:
		var ev entity.ConversationUpdateEvent
		if decode(raw, &ev) && ev.Conversation != nil && e.opts.OnConversation != nil {
			e.opts.OnConversation(ev.Conversation)
		}

	case entity.EventError:
		var ev entity.ErrorEvent
		if decode(raw, &ev) {
			logger.Warn("Server reported %s: %s", ev.Code, ev.Message)
			if e.opts.OnError != nil {
				e.opts.OnError(ev.Code, ev.Message)
			}
		}

	case entity.EventPong:

	default:
		logger.Debug("Ignoring frame of type %q", head.Type)
	}
}

func decode(raw []byte, v interface{}) bool {
	if err := json.Unmarshal(raw, v); err != nil {
		logger.Debug("Discarding malformed frame: %v", err)
		return false
	}
	return true
}

func (e *Engine) onNewMessage(ev *entity.NewMessageEvent) {
	msg := ev.Message
	conversationID := ev.ConversationID
	if conversationID == "" {
		conversationID = msg.ConversationID
	}

	fresh := true
	if view := e.View(conversationID); view != nil {
		fresh = view.apply(msg)
		if fresh {
			e.notify(conversationID)
		}
	}
	if fresh && msg.SenderID != e.session.UserID() {
		e.ack(conversationID, msg.ID)
	}
}

func (e *Engine) onUserStatus(ev *entity.UserStatusEvent) {
	p := Presence{UserID: ev.UserID, Online: ev.Online, LastSeen: ev.LastSeen}
	e.mutex.Lock()
	e.presence[ev.UserID] = p
	e.mutex.Unlock()
	if e.opts.OnPresence != nil {
		e.opts.OnPresence(p)
	}
}

func (e *Engine) notify(conversationID string) {
	if e.opts.OnUpdate != nil {
		e.opts.OnUpdate(conversationID)
	}
}
