package usecase

import (
	"context"
	"strings"

	"github.com/samber/lo"

	"chatcore/internal/domain/entity"
	"chatcore/internal/domain/repository"
	"chatcore/internal/infrastructure/ratelimit"
	ws "chatcore/internal/infrastructure/websocket"
	"chatcore/pkg/errors"
	"chatcore/pkg/logger"
	"chatcore/pkg/utils"
)

// ChatUseCase serves both two-party chats and groups. Every method takes the
// expected kind so a chat ID is never accepted on a group route and vice versa.
type ChatUseCase struct {
	convRepo  repository.ConversationRepository
	userRepo  repository.UserRepository
	store     *MessageStore
	wsManager *ws.Manager
	limiter   ActionLimiter
}

func NewChatUseCase(
	convRepo repository.ConversationRepository,
	userRepo repository.UserRepository,
	store *MessageStore,
	wsManager *ws.Manager,
	limiter ActionLimiter,
) *ChatUseCase {
	return &ChatUseCase{
		convRepo:  convRepo,
		userRepo:  userRepo,
		store:     store,
		wsManager: wsManager,
		limiter:   limiter,
	}
}

type CreateGroupInput struct {
	Name      string
	MemberIDs []string
}

type ConversationResponse struct {
	*entity.Conversation
	Participants []*entity.UserProfile `json:"participants"`
}

type ConversationDetail struct {
	*ConversationResponse
	Messages   []*entity.Message `json:"messages"`
	NextCursor string            `json:"nextCursor"`
	HasMore    bool              `json:"hasMore"`
}

func kindName(kind entity.ConversationKind) string {
	if kind == entity.KindGroup {
		return "Group"
	}
	return "Chat"
}

func (uc *ChatUseCase) allow(userID, action string) error {
	if uc.limiter != nil && !uc.limiter.Allow(userID, action) {
		return errors.TooManyRequests("Rate limit exceeded, please slow down")
	}
	return nil
}

func (uc *ChatUseCase) load(ctx context.Context, userID, conversationID string, kind entity.ConversationKind) (*entity.Conversation, error) {
	conv, err := loadForParticipant(ctx, uc.convRepo, conversationID, userID)
	if err != nil {
		if errors.Is(err, errors.CodeNotFound) {
			return nil, errors.NotFound(kindName(kind), err)
		}
		return nil, err
	}
	if conv.Kind != kind {
		return nil, errors.NotFound(kindName(kind), nil)
	}
	return conv, nil
}

func (uc *ChatUseCase) withParticipants(ctx context.Context, conv *entity.Conversation) (*ConversationResponse, error) {
	users, err := uc.userRepo.GetByIDs(ctx, conv.ParticipantIDs)
	if err != nil {
		return nil, err
	}
	return &ConversationResponse{
		Conversation: conv,
		Participants: lo.Map(users, func(user *entity.User, _ int) *entity.UserProfile {
			profile := user.Profile()
			profile.Online = uc.wsManager.IsOnline(user.ID)
			return profile
		}),
	}, nil
}

// ListConversations returns userID's conversations of kind, most recently active first.
func (uc *ChatUseCase) ListConversations(ctx context.Context, userID string, kind entity.ConversationKind) ([]*ConversationResponse, error) {
	convs, err := uc.convRepo.ListByParticipant(ctx, userID, kind)
	if err != nil {
		return nil, err
	}

	out := make([]*ConversationResponse, 0, len(convs))
	for _, conv := range convs {
		resp, err := uc.withParticipants(ctx, conv)
		if err != nil {
			return nil, err
		}
		out = append(out, resp)
	}
	return out, nil
}

// CreateChat opens a chat with participantID, returning the existing one when
// the pair already has a chat. created reports whether a new chat was made.
func (uc *ChatUseCase) CreateChat(ctx context.Context, userID, participantID string) (*ConversationResponse, bool, error) {
	if userID == participantID {
		return nil, false, errors.BadRequest("You cannot create a chat with yourself", nil)
	}
	if _, err := uc.userRepo.GetByID(ctx, participantID); err != nil {
		return nil, false, err
	}

	existing, err := uc.convRepo.FindChatBetween(ctx, userID, participantID)
	if err == nil {
		resp, err := uc.withParticipants(ctx, existing)
		return resp, false, err
	}
	if !errors.Is(err, errors.CodeNotFound) {
		return nil, false, err
	}

	if err := uc.allow(userID, ratelimit.ActionCreateChat); err != nil {
		return nil, false, err
	}

	conv := &entity.Conversation{
		Kind:           entity.KindChat,
		ParticipantIDs: []string{userID, participantID},
	}
	if err := uc.convRepo.Create(ctx, conv); err != nil {
		if errors.Is(err, errors.CodeConflict) {
			// Lost a race with the other participant creating the same chat.
			existing, findErr := uc.convRepo.FindChatBetween(ctx, userID, participantID)
			if findErr != nil {
				return nil, false, findErr
			}
			resp, err := uc.withParticipants(ctx, existing)
			return resp, false, err
		}
		return nil, false, err
	}

	logger.Info("Chat %s created between %s and %s", conv.ID, userID, participantID)
	resp, err := uc.withParticipants(ctx, conv)
	return resp, true, err
}

// CreateGroup makes userID the sole admin of a new group with the given members.
func (uc *ChatUseCase) CreateGroup(ctx context.Context, userID string, input CreateGroupInput) (*ConversationResponse, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, errors.InvalidInput("Group name cannot be empty")
	}
	if err := uc.allow(userID, ratelimit.ActionCreateChat); err != nil {
		return nil, err
	}

	memberIDs := lo.Uniq(append([]string{userID}, input.MemberIDs...))
	users, err := uc.userRepo.GetByIDs(ctx, memberIDs)
	if err != nil {
		return nil, err
	}
	if len(users) != len(memberIDs) {
		found := lo.Map(users, func(u *entity.User, _ int) string { return u.ID })
		missing, _ := lo.Difference(memberIDs, found)
		return nil, errors.NotFound("User "+strings.Join(missing, ", "), nil)
	}

	conv := &entity.Conversation{
		Kind:           entity.KindGroup,
		Name:           name,
		ParticipantIDs: memberIDs,
		AdminIDs:       []string{userID},
	}
	if err := uc.convRepo.Create(ctx, conv); err != nil {
		return nil, err
	}

	logger.Info("Group %s (%q) created by %s with %d members", conv.ID, name, userID, len(memberIDs))
	return uc.withParticipants(ctx, conv)
}

// AddMember lets a group admin add another user.
func (uc *ChatUseCase) AddMember(ctx context.Context, userID, groupID, memberID string) (*ConversationResponse, error) {
	group, err := uc.load(ctx, userID, groupID, entity.KindGroup)
	if err != nil {
		return nil, err
	}
	if !group.IsAdmin(userID) {
		return nil, errors.Forbidden("Only group admins can add members", nil)
	}
	if _, err := uc.userRepo.GetByID(ctx, memberID); err != nil {
		return nil, err
	}

	group, err = uc.convRepo.AddParticipant(ctx, groupID, memberID)
	if err != nil {
		return nil, err
	}
	return uc.withParticipants(ctx, group)
}

// GetConversation returns a conversation with its newest page of messages.
func (uc *ChatUseCase) GetConversation(ctx context.Context, userID, conversationID string, kind entity.ConversationKind, limit int) (*ConversationDetail, error) {
	conv, err := uc.load(ctx, userID, conversationID, kind)
	if err != nil {
		return nil, err
	}
	page, err := uc.store.GetMessages(ctx, conversationID, userID, "", limit)
	if err != nil {
		return nil, err
	}
	resp, err := uc.withParticipants(ctx, conv)
	if err != nil {
		return nil, err
	}
	return &ConversationDetail{
		ConversationResponse: resp,
		Messages:             page.Messages,
		NextCursor:           page.NextCursor,
		HasMore:              page.HasMore,
	}, nil
}

func (uc *ChatUseCase) SendMessage(ctx context.Context, userID, conversationID string, kind entity.ConversationKind, content string) (*entity.Message, error) {
	if _, err := uc.load(ctx, userID, conversationID, kind); err != nil {
		return nil, err
	}
	if err := uc.allow(userID, ratelimit.ActionSendMessage); err != nil {
		return nil, err
	}
	return uc.store.AppendMessage(ctx, conversationID, userID, content)
}

// GetMessages serves history either by cursor (Before) or by page number.
func (uc *ChatUseCase) GetMessages(ctx context.Context, userID, conversationID string, kind entity.ConversationKind, params utils.HistoryParams) (*MessagePage, error) {
	if _, err := uc.load(ctx, userID, conversationID, kind); err != nil {
		return nil, err
	}
	if params.Before != "" {
		return uc.store.GetMessages(ctx, conversationID, userID, params.Before, params.PageSize)
	}
	return uc.store.GetPage(ctx, conversationID, userID, params.Page, params.PageSize)
}

func (uc *ChatUseCase) MarkRead(ctx context.Context, userID, conversationID string, kind entity.ConversationKind, messageID string) (*entity.Message, error) {
	if _, err := uc.load(ctx, userID, conversationID, kind); err != nil {
		return nil, err
	}
	return uc.store.MarkRead(ctx, conversationID, messageID, userID)
}
