package handler

import (
	"chatcore/internal/domain/entity"
	"chatcore/internal/usecase"
)

var (
	authHandler  *AuthHandler
	userHandler  *UserHandler
	chatHandler  *ChatHandler
	groupHandler *ChatHandler
)

func Setup(
	authUseCase *usecase.AuthUseCase,
	userUseCase *usecase.UserUseCase,
	chatUseCase *usecase.ChatUseCase,
) {
	authHandler = NewAuthHandler(authUseCase)
	userHandler = NewUserHandler(userUseCase)
	chatHandler = NewChatHandler(chatUseCase, entity.KindChat)
	groupHandler = NewChatHandler(chatUseCase, entity.KindGroup)
}

func GetAuthHandler() *AuthHandler {
	return authHandler
}

func GetUserHandler() *UserHandler {
	return userHandler
}

func GetChatHandler() *ChatHandler {
	return chatHandler
}

func GetGroupHandler() *ChatHandler {
	return groupHandler
}
