package domain

import "time"

type User struct {
	ID                    string     `json:"id"`
	Email                 string     `json:"email"`
	Name                  string     `json:"name"`
	PasswordHash          string     `json:"-"`
	IsVerified            bool       `json:"is_verified"`
	VerificationToken     string     `json:"-"`
	VerificationExpiresAt *time.Time `json:"-"`
	ResetToken            string     `json:"-"`
	ResetExpiresAt        *time.Time `json:"-"`
	ProfilePicture        string     `json:"profile_picture,omitempty"`
	LastLogin             *time.Time `json:"last_login,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
}
