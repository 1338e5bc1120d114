package client

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"

	"chatcore/internal/domain/entity"
)

var (
	// ErrViewClosed is returned for work that finished after its view was closed.
	ErrViewClosed = errors.New("view closed")
	// ErrNotRetryable is returned when retrying an entry that has not failed.
	ErrNotRetryable = errors.New("message is not in a failed state")
)

type EntryStatus string

const (
	StatusPending   EntryStatus = "pending"
	StatusConfirmed EntryStatus = "confirmed"
	StatusFailed    EntryStatus = "failed"
)

// Entry is one message as the user sees it. Outgoing messages start Pending
// under a client TempID and become Confirmed once the server assigns an ID
// and Seq.
type Entry struct {
	Message entity.Message
	TempID  string
	Status  EntryStatus
	Error   string
}

// Key identifies the entry within its view: the server ID once confirmed,
// the TempID before that.
func (e *Entry) Key() string {
	if e.Status == StatusConfirmed {
		return e.Message.ID
	}
	return e.TempID
}

func (e *Entry) clone() Entry {
	out := *e
	out.Message.ReadBy = slices.Clone(e.Message.ReadBy)
	out.Message.DeliveredTo = slices.Clone(e.Message.DeliveredTo)
	return out
}

// PageLoader fetches the page of history before cursor.
type PageLoader func(ctx context.Context, cursor string) (*Page, error)

// View is the local, ordered copy of one open conversation. Confirmed
// entries are kept in Seq order followed by unconfirmed ones in the order
// they were sent. Every message ID appears at most once.
type View struct {
	Kind entity.ConversationKind
	ID   string

	loader PageLoader

	mutex      sync.Mutex
	entries    []*Entry
	byKey      map[string]*Entry
	cursor     string
	hasMore    bool
	loading    bool
	closed     bool
	generation int
	typing     map[string]time.Time
}

func newView(kind entity.ConversationKind, id string, loader PageLoader) *View {
	return &View{
		Kind:   kind,
		ID:     id,
		loader: loader,
		byKey:  make(map[string]*Entry),
		typing: make(map[string]time.Time),
	}
}

// reset replaces the contents with the newest page of history.
func (v *View) reset(messages []*entity.Message, cursor string, hasMore bool) {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	v.generation++
	v.loading = false
	v.entries = nil
	v.byKey = make(map[string]*Entry)
	for _, msg := range messages {
		v.insertLocked(msg)
	}
	v.cursor = cursor
	v.hasMore = hasMore
	v.sortLocked()
}

func (v *View) insertLocked(msg *entity.Message) bool {
	if msg == nil || msg.ID == "" {
		return false
	}
	if existing, ok := v.byKey[msg.ID]; ok {
		existing.Message.DeliveryState = existing.Message.DeliveryState.Advance(msg.DeliveryState)
		return false
	}
	entry := &Entry{Message: *msg, Status: StatusConfirmed}
	v.entries = append(v.entries, entry)
	v.byKey[msg.ID] = entry
	return true
}

func (v *View) sortLocked() {
	slices.SortStableFunc(v.entries, func(a, b *Entry) int {
		aConfirmed := a.Status == StatusConfirmed
		bConfirmed := b.Status == StatusConfirmed
		switch {
		case aConfirmed && !bConfirmed:
			return -1
		case !aConfirmed && bConfirmed:
			return 1
		case aConfirmed && bConfirmed:
			return cmp.Compare(a.Message.Seq, b.Message.Seq)
		}
		return 0
	})
}

// apply adds a pushed or replayed message. It reports false for duplicates
// and for a closed view.
func (v *View) apply(msg *entity.Message) bool {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	if v.closed {
		return false
	}
	if !v.insertLocked(msg) {
		return false
	}
	v.sortLocked()
	return true
}

func (v *View) addPending(tempID, senderID, content string) Entry {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	entry := &Entry{
		Message: entity.Message{
			ConversationID: v.ID,
			SenderID:       senderID,
			Content:        content,
			Timestamp:      time.Now(),
		},
		TempID: tempID,
		Status: StatusPending,
	}
	if !v.closed {
		v.entries = append(v.entries, entry)
		v.byKey[tempID] = entry
	}
	return entry.clone()
}

// confirm swaps the pending entry for the server's copy. When a push already
// delivered msg, the pending entry is dropped instead.
func (v *View) confirm(tempID string, msg *entity.Message) (Entry, bool) {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	if v.closed {
		return Entry{}, false
	}

	pending, ok := v.byKey[tempID]
	if ok {
		delete(v.byKey, tempID)
	}
	if existing, dup := v.byKey[msg.ID]; dup {
		if ok {
			v.entries = lo.Without(v.entries, pending)
		}
		existing.TempID = tempID
		return existing.clone(), true
	}
	if !ok {
		pending = &Entry{}
		v.entries = append(v.entries, pending)
	}
	pending.Message = *msg
	pending.TempID = tempID
	pending.Status = StatusConfirmed
	pending.Error = ""
	v.byKey[msg.ID] = pending
	v.sortLocked()
	return pending.clone(), true
}

func (v *View) fail(tempID string, err error) (Entry, bool) {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	entry, ok := v.byKey[tempID]
	if !ok || v.closed {
		return Entry{}, false
	}
	entry.Status = StatusFailed
	entry.Error = err.Error()
	return entry.clone(), true
}

// retry moves a failed entry back to pending and returns its content.
func (v *View) retry(tempID string) (string, error) {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	if v.closed {
		return "", ErrViewClosed
	}
	entry, ok := v.byKey[tempID]
	if !ok || entry.Status != StatusFailed {
		return "", ErrNotRetryable
	}
	entry.Status = StatusPending
	entry.Error = ""
	return entry.Message.Content, nil
}

// updateStatus records a delivery receipt from userID for messageID.
func (v *View) updateStatus(messageID, userID string, state entity.DeliveryState) bool {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	entry, ok := v.byKey[messageID]
	if !ok || v.closed || entry.Status != StatusConfirmed {
		return false
	}
	switch state {
	case entity.DeliveryRead:
		return entry.Message.MarkRead(userID)
	case entity.DeliveryDelivered:
		return entry.Message.MarkDelivered(userID)
	}
	return false
}

func (v *View) setTyping(userID string, isTyping bool, expiresAt time.Time) {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	if !isTyping {
		delete(v.typing, userID)
		return
	}
	if expiresAt.IsZero() {
		expiresAt = time.Now().Add(typingFallbackTTL)
	}
	v.typing[userID] = expiresAt
}

const typingFallbackTTL = 5 * time.Second

// TypingUsers lists the users whose typing indicator has not expired at now.
func (v *View) TypingUsers(now time.Time) []string {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	var users []string
	for userID, expiresAt := range v.typing {
		if now.Before(expiresAt) {
			users = append(users, userID)
		} else {
			delete(v.typing, userID)
		}
	}
	slices.Sort(users)
	return users
}

func (v *View) Entries() []Entry {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	return lo.Map(v.entries, func(e *Entry, _ int) Entry { return e.clone() })
}

func (v *View) Entry(key string) (Entry, bool) {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	entry, ok := v.byKey[key]
	if !ok {
		return Entry{}, false
	}
	return entry.clone(), true
}

// LastSeq is the highest confirmed sequence number held by the view.
func (v *View) LastSeq() int64 {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	var last int64
	for _, entry := range v.entries {
		if entry.Status == StatusConfirmed && entry.Message.Seq > last {
			last = entry.Message.Seq
		}
	}
	return last
}

func (v *View) HasMore() bool {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	return v.hasMore
}

func (v *View) Loading() bool {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	return v.loading
}

// LoadOlder prepends the page before the oldest loaded message and returns
// how many new entries it added. Only one load runs at a time; a call made
// while another is in flight, or when no older history exists, returns 0.
func (v *View) LoadOlder(ctx context.Context) (int, error) {
	v.mutex.Lock()
	if v.closed {
		v.mutex.Unlock()
		return 0, ErrViewClosed
	}
	if v.loading || !v.hasMore {
		v.mutex.Unlock()
		return 0, nil
	}
	v.loading = true
	cursor := v.cursor
	generation := v.generation
	v.mutex.Unlock()

	page, err := v.loader(ctx, cursor)

	v.mutex.Lock()
	defer v.mutex.Unlock()
	if v.closed || v.generation != generation {
		return 0, ErrViewClosed
	}
	v.loading = false
	if err != nil {
		return 0, err
	}

	added := 0
	for _, msg := range page.Items {
		if v.insertLocked(msg) {
			added++
		}
	}
	v.sortLocked()
	v.cursor = page.NextCursor
	v.hasMore = page.HasMore && page.NextCursor != ""
	return added, nil
}

// Close discards the view. Loads still in flight are dropped when they return.
func (v *View) Close() {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	v.closed = true
	v.loading = false
	v.generation++
}

func (v *View) Closed() bool {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	return v.closed
}
