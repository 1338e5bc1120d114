package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatcore/internal/domain/entity"
	"chatcore/pkg/errors"
)

func TestMessageStore_RoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")
	chat := env.createChat(t, alice, bob)

	sent, err := env.store.AppendMessage(ctx, chat.ID, alice.ID, "  hello bob  ")
	require.NoError(t, err)
	assert.NotEmpty(t, sent.ID)
	assert.Equal(t, int64(1), sent.Seq)
	assert.False(t, sent.Timestamp.IsZero())
	assert.Equal(t, entity.DeliverySent, sent.DeliveryState)

	page, err := env.store.GetMessages(ctx, chat.ID, bob.ID, "", 0)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	got := page.Messages[0]
	assert.Equal(t, sent.ID, got.ID)
	assert.Equal(t, "hello bob", got.Content)
	assert.True(t, sent.Timestamp.Equal(got.Timestamp))
	assert.Empty(t, page.NextCursor)
	assert.False(t, page.HasMore)

	conv, err := env.convRepo.GetByID(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), conv.LastSeq)
	require.NotNil(t, conv.LastMessage)
	assert.Equal(t, "hello bob", conv.LastMessage.Content)
	assert.True(t, conv.UpdatedAt.Equal(sent.Timestamp))
}

func TestMessageStore_AppendErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")
	mallory := env.createUser(t, "mallory")
	chat := env.createChat(t, alice, bob)

	tests := []struct {
		name           string
		conversationID string
		senderID       string
		content        string
		code           string
	}{
		{"unknown conversation", "missing", alice.ID, "hi", errors.CodeNotFound},
		{"non participant", chat.ID, mallory.ID, "hi", errors.CodeForbidden},
		{"empty content", chat.ID, alice.ID, "", errors.CodeInvalidInput},
		{"whitespace content", chat.ID, alice.ID, " \n\t ", errors.CodeInvalidInput},
		{"too long", chat.ID, alice.ID, strings.Repeat("x", DefaultMaxMessageLength+1), errors.CodeInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.store.AppendMessage(ctx, tt.conversationID, tt.senderID, tt.content)
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.Code(err))
		})
	}

	page, err := env.store.GetMessages(ctx, chat.ID, alice.ID, "", 0)
	require.NoError(t, err)
	assert.Empty(t, page.Messages)
}

func TestMessageStore_ConcurrentAppendsAreLinearized(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")
	chat := env.createChat(t, alice, bob)

	const writers = 8
	const perWriter = 15

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			sender := alice
			if w%2 == 1 {
				sender = bob
			}
			for i := 0; i < perWriter; i++ {
				_, err := env.store.AppendMessage(ctx, chat.ID, sender.ID, fmt.Sprintf("w%d-%d", w, i))
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	all, err := env.convRepo.GetMessagesAfter(ctx, chat.ID, 0, writers*perWriter+10)
	require.NoError(t, err)
	require.Len(t, all, writers*perWriter)

	perWriterNext := make(map[string]int)
	for i, msg := range all {
		assert.Equal(t, int64(i+1), msg.Seq, "sequence must be dense")
		if i > 0 {
			assert.True(t, msg.Timestamp.After(all[i-1].Timestamp), "timestamps must strictly increase")
		}
		// Each writer's own messages keep their program order.
		var w, n int
		_, err := fmt.Sscanf(msg.Content, "w%d-%d", &w, &n)
		require.NoError(t, err)
		key := fmt.Sprintf("w%d", w)
		assert.Equal(t, perWriterNext[key], n)
		perWriterNext[key]++
	}

	conv, err := env.convRepo.GetByID(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(writers*perWriter), conv.LastSeq)
}

func TestMessageStore_PaginationYieldsEveryMessageOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")
	chat := env.createChat(t, alice, bob)

	const total = 23
	for i := 1; i <= total; i++ {
		_, err := env.store.AppendMessage(ctx, chat.ID, alice.ID, fmt.Sprintf("m%02d", i))
		require.NoError(t, err)
	}

	var pages [][]*entity.Message
	cursor := ""
	for {
		page, err := env.store.GetMessages(ctx, chat.ID, bob.ID, cursor, 5)
		require.NoError(t, err)
		require.NotEmpty(t, page.Messages)
		pages = append(pages, page.Messages)
		if page.NextCursor == "" {
			assert.False(t, page.HasMore)
			break
		}
		assert.True(t, page.HasMore)
		cursor = page.NextCursor
	}
	require.Len(t, pages, 5)

	// Pages arrive newest first; reversing them rebuilds the full history.
	var history []string
	for i := len(pages) - 1; i >= 0; i-- {
		for _, msg := range pages[i] {
			history = append(history, msg.Content)
		}
	}
	require.Len(t, history, total)
	for i, content := range history {
		assert.Equal(t, fmt.Sprintf("m%02d", i+1), content)
	}
}

func TestMessageStore_PageNumbersMatchCursorPages(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")
	chat := env.createChat(t, alice, bob)

	for i := 1; i <= 12; i++ {
		_, err := env.store.AppendMessage(ctx, chat.ID, alice.ID, fmt.Sprintf("m%02d", i))
		require.NoError(t, err)
	}

	first, err := env.store.GetPage(ctx, chat.ID, bob.ID, 1, 5)
	require.NoError(t, err)
	second, err := env.store.GetPage(ctx, chat.ID, bob.ID, 2, 5)
	require.NoError(t, err)
	third, err := env.store.GetPage(ctx, chat.ID, bob.ID, 3, 5)
	require.NoError(t, err)
	beyond, err := env.store.GetPage(ctx, chat.ID, bob.ID, 4, 5)
	require.NoError(t, err)

	contents := func(msgs []*entity.Message) []string {
		out := make([]string, 0, len(msgs))
		for _, m := range msgs {
			out = append(out, m.Content)
		}
		return out
	}
	assert.Equal(t, []string{"m08", "m09", "m10", "m11", "m12"}, contents(first.Messages))
	assert.Equal(t, []string{"m03", "m04", "m05", "m06", "m07"}, contents(second.Messages))
	assert.Equal(t, []string{"m01", "m02"}, contents(third.Messages))
	assert.Empty(t, beyond.Messages)

	viaCursor, err := env.store.GetMessages(ctx, chat.ID, bob.ID, first.NextCursor, 5)
	require.NoError(t, err)
	assert.Equal(t, contents(second.Messages), contents(viaCursor.Messages))
}

func TestMessageStore_InvalidCursorAndPageSizeClamp(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")
	chat := env.createChat(t, alice, bob)

	_, err := env.store.GetMessages(ctx, chat.ID, alice.ID, "!!", 10)
	assert.Equal(t, errors.CodeBadRequest, errors.Code(err))

	for i := 0; i < 120; i++ {
		_, err := env.store.AppendMessage(ctx, chat.ID, alice.ID, fmt.Sprintf("m%d", i))
		require.NoError(t, err)
	}
	page, err := env.store.GetMessages(ctx, chat.ID, alice.ID, "", 1000)
	require.NoError(t, err)
	assert.Len(t, page.Messages, 100)

	page, err = env.store.GetMessages(ctx, chat.ID, alice.ID, "", 0)
	require.NoError(t, err)
	assert.Len(t, page.Messages, 50)
}

func TestMessageStore_ReceiptsAreMonotonic(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")
	chat := env.createChat(t, alice, bob)

	msg, err := env.store.AppendMessage(ctx, chat.ID, alice.ID, "hi")
	require.NoError(t, err)

	read, err := env.store.MarkRead(ctx, chat.ID, msg.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.DeliveryRead, read.DeliveryState)
	assert.Equal(t, []string{bob.ID}, read.ReadBy)
	assert.Equal(t, []string{bob.ID}, read.DeliveredTo)

	// A late delivery receipt never moves the state backwards.
	delivered, err := env.store.MarkDelivered(ctx, chat.ID, msg.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.DeliveryRead, delivered.DeliveryState)

	// The sender's own receipts are ignored.
	own, err := env.store.MarkRead(ctx, chat.ID, msg.ID, alice.ID)
	require.NoError(t, err)
	assert.NotContains(t, own.ReadBy, alice.ID)

	_, err = env.store.MarkRead(ctx, chat.ID, "missing", bob.ID)
	assert.Equal(t, errors.CodeNotFound, errors.Code(err))
}
