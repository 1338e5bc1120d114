package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatcore/internal/domain/entity"
)

func msg(seq int64) *entity.Message {
	return &entity.Message{
		ID:             fmt.Sprintf("m%d", seq),
		ConversationID: "conv-1",
		Seq:            seq,
		SenderID:       "bob",
		Content:        fmt.Sprintf("message %d", seq),
		DeliveryState:  entity.DeliverySent,
	}
}

func msgs(from, to int64) []*entity.Message {
	var out []*entity.Message
	for seq := from; seq <= to; seq++ {
		out = append(out, msg(seq))
	}
	return out
}

func seqs(v *View) []int64 {
	return lo.Map(v.Entries(), func(e Entry, _ int) int64 { return e.Message.Seq })
}

func TestView_ApplyDeduplicatesAndOrders(t *testing.T) {
	v := newView(entity.KindChat, "conv-1", nil)
	v.reset(msgs(3, 4), "", false)

	assert.True(t, v.apply(msg(6)))
	assert.True(t, v.apply(msg(5)))
	assert.False(t, v.apply(msg(5)))
	assert.False(t, v.apply(msg(3)))

	assert.Equal(t, []int64{3, 4, 5, 6}, seqs(v))
	assert.Equal(t, int64(6), v.LastSeq())
}

func TestView_OptimisticSendConfirmAndFail(t *testing.T) {
	v := newView(entity.KindChat, "conv-1", nil)
	v.reset(msgs(1, 2), "", false)

	first := v.addPending("tmp-1", "alice", "hello")
	second := v.addPending("tmp-2", "alice", "world")
	assert.Equal(t, StatusPending, first.Status)
	assert.Equal(t, "tmp-1", first.Key())

	// A push for someone else's message sorts ahead of unconfirmed entries.
	v.apply(msg(3))
	entries := v.Entries()
	require.Len(t, entries, 5)
	assert.Equal(t, []string{"m1", "m2", "m3", "tmp-1", "tmp-2"},
		lo.Map(entries, func(e Entry, _ int) string { return e.Key() }))

	confirmed, ok := v.confirm("tmp-1", &entity.Message{ID: "m4", Seq: 4, SenderID: "alice", Content: "hello"})
	require.True(t, ok)
	assert.Equal(t, StatusConfirmed, confirmed.Status)
	assert.Equal(t, "m4", confirmed.Key())

	failed, ok := v.fail(second.TempID, errors.New("boom"))
	require.True(t, ok)
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Equal(t, "boom", failed.Error)

	entries = v.Entries()
	assert.Equal(t, []string{"m1", "m2", "m3", "m4", "tmp-2"},
		lo.Map(entries, func(e Entry, _ int) string { return e.Key() }))
	assert.Equal(t, int64(4), v.LastSeq())

	_, err := v.retry("tmp-1")
	assert.ErrorIs(t, err, ErrNotRetryable)

	content, err := v.retry("tmp-2")
	require.NoError(t, err)
	assert.Equal(t, "world", content)
	entry, ok := v.Entry("tmp-2")
	require.True(t, ok)
	assert.Equal(t, StatusPending, entry.Status)
	assert.Empty(t, entry.Error)
}

func TestView_ConfirmAfterPushKeepsOneCopy(t *testing.T) {
	v := newView(entity.KindChat, "conv-1", nil)
	v.addPending("tmp-1", "alice", "hello")

	// The echo from another device arrives before the POST response.
	sent := &entity.Message{ID: "m1", Seq: 1, SenderID: "alice", Content: "hello"}
	require.True(t, v.apply(sent))

	entry, ok := v.confirm("tmp-1", sent)
	require.True(t, ok)
	assert.Equal(t, "m1", entry.Message.ID)

	entries := v.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, StatusConfirmed, entries[0].Status)
}

func TestView_LoadOlderPrependsWithoutDuplicates(t *testing.T) {
	var cursors []string
	v := newView(entity.KindChat, "conv-1", func(ctx context.Context, cursor string) (*Page, error) {
		cursors = append(cursors, cursor)
		switch cursor {
		case "c5":
			// Overlaps the loaded window by one message.
			return &Page{Items: msgs(2, 5), NextCursor: "c2", HasMore: true}, nil
		case "c2":
			return &Page{Items: msgs(1, 1), HasMore: false}, nil
		}
		return nil, errors.New("unexpected cursor")
	})
	v.reset(msgs(5, 7), "c5", true)

	added, err := v.LoadOlder(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, added)
	assert.True(t, v.HasMore())

	added, err = v.LoadOlder(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.False(t, v.HasMore())

	added, err = v.LoadOlder(context.Background())
	require.NoError(t, err)
	assert.Zero(t, added)

	assert.Equal(t, []string{"c5", "c2"}, cursors)
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7}, seqs(v))
}

func TestView_LoadOlderSingleFlight(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	calls := 0
	v := newView(entity.KindChat, "conv-1", func(ctx context.Context, cursor string) (*Page, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		<-release
		return &Page{Items: msgs(1, 4)}, nil
	})
	v.reset(msgs(5, 6), "c5", true)

	done := make(chan int)
	go func() {
		added, _ := v.LoadOlder(context.Background())
		done <- added
	}()
	require.Eventually(t, v.Loading, time.Second, time.Millisecond)

	for i := 0; i < 3; i++ {
		added, err := v.LoadOlder(context.Background())
		require.NoError(t, err)
		assert.Zero(t, added)
	}

	close(release)
	assert.Equal(t, 4, <-done)
	assert.Equal(t, 1, calls)
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6}, seqs(v))
}

func TestView_ResultsAfterCloseAreDiscarded(t *testing.T) {
	release := make(chan struct{})
	v := newView(entity.KindChat, "conv-1", func(ctx context.Context, cursor string) (*Page, error) {
		<-release
		return &Page{Items: msgs(1, 4)}, nil
	})
	v.reset(msgs(5, 6), "c5", true)

	errCh := make(chan error)
	go func() {
		_, err := v.LoadOlder(context.Background())
		errCh <- err
	}()
	require.Eventually(t, v.Loading, time.Second, time.Millisecond)

	v.Close()
	close(release)

	assert.ErrorIs(t, <-errCh, ErrViewClosed)
	assert.Equal(t, []int64{5, 6}, seqs(v))
	assert.False(t, v.apply(msg(7)))
	_, ok := v.confirm("tmp-1", msg(8))
	assert.False(t, ok)
}

func TestView_ReceiptsAndTyping(t *testing.T) {
	v := newView(entity.KindChat, "conv-1", nil)
	v.reset([]*entity.Message{{ID: "m1", Seq: 1, SenderID: "alice", DeliveryState: entity.DeliverySent}}, "", false)

	assert.True(t, v.updateStatus("m1", "bob", entity.DeliveryDelivered))
	assert.True(t, v.updateStatus("m1", "bob", entity.DeliveryRead))
	assert.False(t, v.updateStatus("m1", "bob", entity.DeliveryDelivered))
	assert.False(t, v.updateStatus("missing", "bob", entity.DeliveryRead))

	entry, ok := v.Entry("m1")
	require.True(t, ok)
	assert.Equal(t, entity.DeliveryRead, entry.Message.DeliveryState)

	now := time.Now()
	v.setTyping("bob", true, now.Add(time.Second))
	v.setTyping("carol", true, now.Add(-time.Second))
	assert.Equal(t, []string{"bob"}, v.TypingUsers(now))

	v.setTyping("bob", false, time.Time{})
	assert.Empty(t, v.TypingUsers(now))
}
