package auth

import "context"

// TokenProvider issues bearer tokens for authenticated users and resolves
// presented tokens back to a user ID.
type TokenProvider interface {
	Issue(ctx context.Context, userID string) (string, error)
	// Authenticate returns the user ID carried by token, or an AUTH_ERROR
	// when the token is invalid or expired.
	Authenticate(ctx context.Context, token string) (string, error)
}
