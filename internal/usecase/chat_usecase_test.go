package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatcore/internal/domain/entity"
	"chatcore/pkg/errors"
	"chatcore/pkg/utils"
)

type denyLimiter struct{}

func (denyLimiter) Allow(string, string) bool { return false }

func TestChatUseCase_CreateChatIsIdempotentPerPair(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")

	first, created, err := env.chats.CreateChat(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, entity.KindChat, first.Kind)
	assert.Len(t, first.Participants, 2)

	second, created, err := env.chats.CreateChat(ctx, bob.ID, alice.ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	_, _, err = env.chats.CreateChat(ctx, alice.ID, alice.ID)
	assert.Equal(t, errors.CodeBadRequest, errors.Code(err))

	_, _, err = env.chats.CreateChat(ctx, alice.ID, "nobody")
	assert.Equal(t, errors.CodeNotFound, errors.Code(err))
}

func TestChatUseCase_ListOrdersByActivity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")
	carol := env.createUser(t, "carol")

	withBob := env.createChat(t, alice, bob)
	withCarol := env.createChat(t, alice, carol)

	_, err := env.chats.SendMessage(ctx, alice.ID, withCarol.ID, entity.KindChat, "first")
	require.NoError(t, err)
	_, err = env.chats.SendMessage(ctx, alice.ID, withBob.ID, entity.KindChat, "second")
	require.NoError(t, err)

	chats, err := env.chats.ListConversations(ctx, alice.ID, entity.KindChat)
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, withBob.ID, chats[0].ID)
	assert.Equal(t, withCarol.ID, chats[1].ID)

	groups, err := env.chats.ListConversations(ctx, alice.ID, entity.KindGroup)
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestChatUseCase_KindMismatchIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")
	chat := env.createChat(t, alice, bob)

	_, err := env.chats.GetConversation(ctx, alice.ID, chat.ID, entity.KindGroup, 0)
	assert.Equal(t, errors.CodeNotFound, errors.Code(err))

	_, err = env.chats.SendMessage(ctx, alice.ID, chat.ID, entity.KindGroup, "hi")
	assert.Equal(t, errors.CodeNotFound, errors.Code(err))
}

func TestChatUseCase_Groups(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")
	carol := env.createUser(t, "carol")

	group, err := env.chats.CreateGroup(ctx, alice.ID, CreateGroupInput{Name: "  team  ", MemberIDs: []string{bob.ID, bob.ID}})
	require.NoError(t, err)
	assert.Equal(t, "team", group.Name)
	assert.Equal(t, []string{alice.ID, bob.ID}, group.ParticipantIDs)
	assert.Equal(t, []string{alice.ID}, group.AdminIDs)

	_, err = env.chats.SendMessage(ctx, carol.ID, group.ID, entity.KindGroup, "let me in")
	assert.Equal(t, errors.CodeForbidden, errors.Code(err))

	_, err = env.chats.AddMember(ctx, bob.ID, group.ID, carol.ID)
	assert.Equal(t, errors.CodeForbidden, errors.Code(err), "only admins add members")

	updated, err := env.chats.AddMember(ctx, alice.ID, group.ID, carol.ID)
	require.NoError(t, err)
	assert.Contains(t, updated.ParticipantIDs, carol.ID)

	_, err = env.chats.SendMessage(ctx, carol.ID, group.ID, entity.KindGroup, "hello all")
	require.NoError(t, err)

	page, err := env.chats.GetMessages(ctx, bob.ID, group.ID, entity.KindGroup, utils.HistoryParams{Page: 1, PageSize: 10})
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, carol.ID, page.Messages[0].SenderID)

	_, err = env.chats.CreateGroup(ctx, alice.ID, CreateGroupInput{Name: " "})
	assert.Equal(t, errors.CodeInvalidInput, errors.Code(err))

	_, err = env.chats.CreateGroup(ctx, alice.ID, CreateGroupInput{Name: "ghosts", MemberIDs: []string{"ghost"}})
	assert.Equal(t, errors.CodeNotFound, errors.Code(err))
}

func TestChatUseCase_SendMessageRateLimited(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")
	chat := env.createChat(t, alice, bob)

	limited := NewChatUseCase(env.convRepo, env.userRepo, env.store, env.manager, denyLimiter{})
	_, err := limited.SendMessage(ctx, alice.ID, chat.ID, entity.KindChat, "hi")
	assert.Equal(t, errors.CodeTooManyRequests, errors.Code(err))
}

func TestChatUseCase_MarkRead(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")
	chat := env.createChat(t, alice, bob)

	msg, err := env.chats.SendMessage(ctx, alice.ID, chat.ID, entity.KindChat, "hi")
	require.NoError(t, err)

	read, err := env.chats.MarkRead(ctx, bob.ID, chat.ID, entity.KindChat, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.DeliveryRead, read.DeliveryState)
}
