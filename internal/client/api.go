package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"chatcore/internal/domain/entity"
)

const DefaultTimeout = 15 * time.Second

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Conversation is a chat or group as listed by the server.
type Conversation struct {
	entity.Conversation
	Participants []*entity.UserProfile `json:"participants"`
}

// ConversationDetail is a conversation with its newest page of messages.
type ConversationDetail struct {
	Conversation
	Messages   []*entity.Message `json:"messages"`
	NextCursor string            `json:"nextCursor"`
	HasMore    bool              `json:"hasMore"`
}

// Page is one page of message history in ascending order.
type Page struct {
	Items      []*entity.Message `json:"items"`
	NextCursor string            `json:"nextCursor"`
	HasMore    bool              `json:"hasMore"`
}

// API is the REST client. Auth failures on authenticated calls log the
// session out and surface as ErrSessionExpired.
type API struct {
	session    *Session
	httpClient *http.Client
}

func NewAPI(session *Session, httpClient *http.Client) *API {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &API{
		session:    session,
		httpClient: httpClient,
	}
}

func collection(kind entity.ConversationKind) string {
	if kind == entity.KindGroup {
		return "/groups"
	}
	return "/chats"
}

func (a *API) doRequest(ctx context.Context, method, path string, body interface{}, query url.Values, out interface{}) error {
	u := strings.TrimRight(a.session.BaseURL(), "/") + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	token := a.session.Token()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var env envelope
	if len(data) > 0 {
		if err := json.Unmarshal(data, &env); err != nil {
			return &APIError{Status: resp.StatusCode, Code: "BAD_RESPONSE", Message: http.StatusText(resp.StatusCode)}
		}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		if token != "" && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) && isAuthCode(apiErr.Code) {
			a.session.Logout(ErrSessionExpired)
			return fmt.Errorf("%w: %s", ErrSessionExpired, apiErr.Message)
		}
		return apiErr
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}
	return nil
}

// isAuthCode separates a rejected token from an ordinary permission error,
// which also answers 403.
func isAuthCode(code string) bool {
	return code == "UNAUTHORIZED" || code == "AUTH_ERROR"
}

func (a *API) Register(ctx context.Context, username, password, email string) (*entity.User, error) {
	var out struct {
		User *entity.User `json:"user"`
	}
	err := a.doRequest(ctx, http.MethodPost, "/auth/register", map[string]string{
		"username": username,
		"password": password,
		"email":    email,
	}, nil, &out)
	if err != nil {
		return nil, err
	}
	return out.User, nil
}

// Login authenticates and stores the token in the session.
func (a *API) Login(ctx context.Context, username, password string) (*entity.User, error) {
	var out struct {
		User  *entity.User `json:"user"`
		Token string       `json:"token"`
	}
	err := a.doRequest(ctx, http.MethodPost, "/auth/login", map[string]string{
		"username": username,
		"password": password,
	}, nil, &out)
	if err != nil {
		return nil, err
	}
	if err := a.session.SetCredentials(out.Token, out.User.ID, out.User.Username); err != nil {
		return nil, err
	}
	return out.User, nil
}

func (a *API) Logout(ctx context.Context) error {
	return a.doRequest(ctx, http.MethodPost, "/auth/logout", nil, nil, nil)
}

func (a *API) Me(ctx context.Context) (*entity.UserProfile, error) {
	var out entity.UserProfile
	if err := a.doRequest(ctx, http.MethodGet, "/users/me", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) GetUser(ctx context.Context, userID string) (*entity.UserProfile, error) {
	var out entity.UserProfile
	if err := a.doRequest(ctx, http.MethodGet, "/users/"+url.PathEscape(userID), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) OnlineUsers(ctx context.Context) ([]*entity.UserProfile, error) {
	var out []*entity.UserProfile
	if err := a.doRequest(ctx, http.MethodGet, "/users/online", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) ListConversations(ctx context.Context, kind entity.ConversationKind) ([]*Conversation, error) {
	var out []*Conversation
	if err := a.doRequest(ctx, http.MethodGet, collection(kind), nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) CreateChat(ctx context.Context, participantID string) (*Conversation, error) {
	var out Conversation
	err := a.doRequest(ctx, http.MethodPost, "/chats", map[string]string{"participantId": participantID}, nil, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) CreateGroup(ctx context.Context, name string, memberIDs []string) (*Conversation, error) {
	var out Conversation
	err := a.doRequest(ctx, http.MethodPost, "/groups", map[string]interface{}{
		"name":      name,
		"memberIds": memberIDs,
	}, nil, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// AddMember adds userID to a group. Only group admins may do this.
func (a *API) AddMember(ctx context.Context, groupID, userID string) (*Conversation, error) {
	var out Conversation
	path := "/groups/" + url.PathEscape(groupID) + "/members"
	if err := a.doRequest(ctx, http.MethodPost, path, map[string]string{"userId": userID}, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) GetConversation(ctx context.Context, kind entity.ConversationKind, conversationID string, limit int) (*ConversationDetail, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var out ConversationDetail
	path := collection(kind) + "/" + url.PathEscape(conversationID)
	if err := a.doRequest(ctx, http.MethodGet, path, nil, query, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) SendMessage(ctx context.Context, kind entity.ConversationKind, conversationID, content string) (*entity.Message, error) {
	var out entity.Message
	path := collection(kind) + "/" + url.PathEscape(conversationID) + "/messages"
	if err := a.doRequest(ctx, http.MethodPost, path, map[string]string{"content": content}, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetMessages returns the page before cursor, or the newest page when cursor is empty.
func (a *API) GetMessages(ctx context.Context, kind entity.ConversationKind, conversationID, cursor string, limit int) (*Page, error) {
	query := url.Values{}
	if cursor != "" {
		query.Set("before", cursor)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var out Page
	path := collection(kind) + "/" + url.PathEscape(conversationID) + "/messages"
	if err := a.doRequest(ctx, http.MethodGet, path, nil, query, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) MarkRead(ctx context.Context, kind entity.ConversationKind, conversationID, messageID string) (*entity.Message, error) {
	var out entity.Message
	path := collection(kind) + "/" + url.PathEscape(conversationID) + "/read"
	if err := a.doRequest(ctx, http.MethodPost, path, map[string]string{"messageId": messageID}, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
