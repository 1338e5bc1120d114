package entity

import (
	"time"
)

type User struct {
	ID           string    `json:"id" firestore:"id"`
	Username     string    `json:"username" firestore:"username"`
	Email        string    `json:"email" firestore:"email"`
	DisplayName  string    `json:"displayName,omitempty" firestore:"displayName,omitempty"`
	AvatarURL    string    `json:"avatar,omitempty" firestore:"avatar,omitempty"`
	PasswordHash string    `json:"-" firestore:"passwordHash"`
	Online       bool      `json:"online" firestore:"online"`
	LastSeen     time.Time `json:"lastSeen" firestore:"lastSeen"`
	CreatedAt    time.Time `json:"createdAt" firestore:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt" firestore:"updatedAt"`
}

// UserProfile is the public projection of a User.
type UserProfile struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"displayName,omitempty"`
	Avatar      string    `json:"avatar,omitempty"`
	Online      bool      `json:"online"`
	LastSeen    time.Time `json:"lastSeen"`
}

func (u *User) Profile() *UserProfile {
	display := u.DisplayName
	if display == "" {
		display = u.Username
	}
	return &UserProfile{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: display,
		Avatar:      u.AvatarURL,
		Online:      u.Online,
		LastSeen:    u.LastSeen,
	}
}
