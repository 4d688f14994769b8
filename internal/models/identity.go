package models

import "time"

// Identity is the signed-in user as reported by the identity provider.
type Identity struct {
	UID         string `json:"uid"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email,omitempty"`
	PhotoURL    string `json:"photoURL,omitempty"`
}

type UserProfile struct {
	UID         string    `json:"uid"`
	DisplayName string    `json:"displayName"`
	Email       string    `json:"email,omitempty"`
	PhotoURL    string    `json:"photoURL,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Profile builds the persisted profile for an identity, defaulting the
// display name the same way the dashboard greets anonymous users.
func (id *Identity) Profile() *UserProfile {
	name := id.DisplayName
	if name == "" {
		name = "Anonymous"
	}
	return &UserProfile{
		UID:         id.UID,
		DisplayName: name,
		Email:       id.Email,
		PhotoURL:    id.PhotoURL,
	}
}
