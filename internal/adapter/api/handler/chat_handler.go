package handler

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"chatcore/internal/domain/entity"
	"chatcore/internal/usecase"
	"chatcore/pkg/errors"
	"chatcore/pkg/response"
	"chatcore/pkg/utils"
)

// ChatHandler serves one conversation kind; /chats and /groups each get their own.
type ChatHandler struct {
	chatUseCase *usecase.ChatUseCase
	kind        entity.ConversationKind
}

func NewChatHandler(chatUseCase *usecase.ChatUseCase, kind entity.ConversationKind) *ChatHandler {
	return &ChatHandler{
		chatUseCase: chatUseCase,
		kind:        kind,
	}
}

type createChatRequest struct {
	ParticipantID string `json:"participantId" validate:"required"`
}

type createGroupRequest struct {
	Name      string   `json:"name" validate:"required,notblank,max=100"`
	MemberIDs []string `json:"memberIds" validate:"omitempty,max=256,dive,required"`
}

type addMemberRequest struct {
	UserID string `json:"userId" validate:"required"`
}

type sendMessageRequest struct {
	Content string `json:"content" validate:"required"`
}

type markReadRequest struct {
	MessageID string `json:"messageId" validate:"required"`
}

func bindAndValidate(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return errors.BadRequest("Invalid request body", err)
	}
	return c.Validate(req)
}

// ListConversations returns the user's conversations, most recently active first.
func (h *ChatHandler) ListConversations(c echo.Context) error {
	uid := c.Get("uid").(string)

	convs, err := h.chatUseCase.ListConversations(c.Request().Context(), uid, h.kind)
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, convs)
}

// CreateChat returns 201 for a new chat and 200 when the pair already had one.
func (h *ChatHandler) CreateChat(c echo.Context) error {
	var req createChatRequest
	if err := bindAndValidate(c, &req); err != nil {
		return response.Error(c, err)
	}
	uid := c.Get("uid").(string)

	chat, created, err := h.chatUseCase.CreateChat(c.Request().Context(), uid, req.ParticipantID)
	if err != nil {
		return response.Error(c, err)
	}
	if !created {
		return response.Success(c, chat)
	}
	return response.Created(c, chat)
}

func (h *ChatHandler) CreateGroup(c echo.Context) error {
	var req createGroupRequest
	if err := bindAndValidate(c, &req); err != nil {
		return response.Error(c, err)
	}
	uid := c.Get("uid").(string)

	group, err := h.chatUseCase.CreateGroup(c.Request().Context(), uid, usecase.CreateGroupInput{
		Name:      req.Name,
		MemberIDs: req.MemberIDs,
	})
	if err != nil {
		return response.Error(c, err)
	}
	return response.Created(c, group)
}

func (h *ChatHandler) AddMember(c echo.Context) error {
	var req addMemberRequest
	if err := bindAndValidate(c, &req); err != nil {
		return response.Error(c, err)
	}
	uid := c.Get("uid").(string)

	group, err := h.chatUseCase.AddMember(c.Request().Context(), uid, c.Param("id"), req.UserID)
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, group)
}

// GetConversation returns the conversation with its newest page of messages.
func (h *ChatHandler) GetConversation(c echo.Context) error {
	uid := c.Get("uid").(string)

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	detail, err := h.chatUseCase.GetConversation(c.Request().Context(), uid, c.Param("id"), h.kind, utils.ClampPageSize(limit))
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, detail)
}

func (h *ChatHandler) SendMessage(c echo.Context) error {
	var req sendMessageRequest
	if err := bindAndValidate(c, &req); err != nil {
		return response.Error(c, err)
	}
	uid := c.Get("uid").(string)

	msg, err := h.chatUseCase.SendMessage(c.Request().Context(), uid, c.Param("id"), h.kind, req.Content)
	if err != nil {
		return response.Error(c, err)
	}
	return response.Created(c, msg)
}

// GetMessages pages backwards through history with ?before=<cursor> or ?page=N.
func (h *ChatHandler) GetMessages(c echo.Context) error {
	uid := c.Get("uid").(string)

	page, err := h.chatUseCase.GetMessages(c.Request().Context(), uid, c.Param("id"), h.kind, utils.GetHistoryParams(c))
	if err != nil {
		return response.Error(c, err)
	}
	return response.Cursor(c, page.Messages, page.NextCursor)
}

func (h *ChatHandler) MarkRead(c echo.Context) error {
	var req markReadRequest
	if err := bindAndValidate(c, &req); err != nil {
		return response.Error(c, err)
	}
	uid := c.Get("uid").(string)

	msg, err := h.chatUseCase.MarkRead(c.Request().Context(), uid, c.Param("id"), h.kind, req.MessageID)
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, msg)
}
