package router

import (
	"github.com/labstack/echo/v4"

	"chatcore/internal/adapter/api/handler"
	"chatcore/internal/adapter/api/middleware"
)

// SetupChatRouter sets up direct chat and group routes (excluding WebSocket)
func SetupChatRouter(e *echo.Echo, authMiddleware *middleware.AuthMiddleware) {
	chatHandler := handler.GetChatHandler()
	groupHandler := handler.GetGroupHandler()

	chats := e.Group("/chats")
	chats.Use(authMiddleware.Authenticate)

	chats.GET("", chatHandler.ListConversations)         // GET /chats - user's direct chats
	chats.POST("", chatHandler.CreateChat)               // POST /chats - open (or reuse) a direct chat
	chats.GET("/:id", chatHandler.GetConversation)       // GET /chats/:id - chat with newest messages
	chats.POST("/:id/messages", chatHandler.SendMessage) // POST /chats/:id/messages
	chats.GET("/:id/messages", chatHandler.GetMessages)  // GET /chats/:id/messages?page=|before=
	chats.POST("/:id/read", chatHandler.MarkRead)        // POST /chats/:id/read

	groups := e.Group("/groups")
	groups.Use(authMiddleware.Authenticate)

	groups.GET("", groupHandler.ListConversations)
	groups.POST("", groupHandler.CreateGroup)
	groups.GET("/:id", groupHandler.GetConversation)
	groups.POST("/:id/messages", groupHandler.SendMessage)
	groups.GET("/:id/messages", groupHandler.GetMessages)
	groups.POST("/:id/read", groupHandler.MarkRead)
	groups.POST("/:id/members", groupHandler.AddMember) // admin only
}
