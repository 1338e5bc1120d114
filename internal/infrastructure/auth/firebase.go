package auth

import (
	"context"

	"firebase.google.com/go/v4/auth"

	apperrors "chatcore/pkg/errors"
)

// FirebaseProvider delegates to Firebase Authentication. Issue mints a custom
// token that the client exchanges for an ID token with the Firebase SDK;
// Authenticate verifies those ID tokens.
type FirebaseProvider struct {
	client *auth.Client
}

func NewFirebaseProvider(client *auth.Client) *FirebaseProvider {
	return &FirebaseProvider{
		client: client,
	}
}

func (f *FirebaseProvider) Issue(ctx context.Context, userID string) (string, error) {
	token, err := f.client.CustomToken(ctx, userID)
	if err != nil {
		return "", apperrors.Internal("Failed to mint custom token", err)
	}
	return token, nil
}

func (f *FirebaseProvider) Authenticate(ctx context.Context, idToken string) (string, error) {
	result, err := f.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		if auth.IsIDTokenExpired(err) {
			return "", apperrors.AuthError("Token has expired", err)
		}
		return "", apperrors.AuthError("Invalid token", err)
	}
	return result.UID, nil
}
