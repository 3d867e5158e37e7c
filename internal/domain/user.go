package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// User is an identity record. Secrets are never serialized.
type User struct {
	ID                uuid.UUID `json:"id"`
	FirstName         string    `json:"first_name"`
	LastName          string    `json:"last_name"`
	Email             string    `json:"email"`
	Username          string    `json:"username"`
	PasswordHash      string    `json:"-"`
	PhoneNumber       string    `json:"phone_number"`
	IDNumber          string    `json:"id_number"`
	ProfileImage      *string   `json:"profile_image,omitempty"`
	BiometricEnrolled bool      `json:"biometric_enrolled"`
	BiometricSecret   []byte    `json:"-"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// RegisterUserRequest is the DTO for new user registration.
type RegisterUserRequest struct {
	FirstName   string `json:"first_name" validate:"required,max=100"`
	LastName    string `json:"last_name" validate:"required,max=100"`
	Email       string `json:"email" validate:"required,email"`
	Username    string `json:"username" validate:"required,min=3,max=50"`
	Password    string `json:"password" validate:"required,min=8,max=72"`
	PhoneNumber string `json:"phone_number" validate:"required,min=7,max=20"`
	IDNumber    string `json:"id_number" validate:"required,max=32"`
}

// UpdateProfileRequest carries the editable profile fields. Nil fields are left unchanged.
// Username and password are deliberately absent.
type UpdateProfileRequest struct {
	FirstName    *string `json:"first_name" validate:"omitempty,min=1,max=100"`
	LastName     *string `json:"last_name" validate:"omitempty,min=1,max=100"`
	Email        *string `json:"email" validate:"omitempty,email"`
	PhoneNumber  *string `json:"phone_number" validate:"omitempty,min=7,max=20"`
	IDNumber     *string `json:"id_number" validate:"omitempty,min=1,max=32"`
	ProfileImage *string `json:"profile_image" validate:"omitempty,max=2048"`
}

// Apply copies the set fields onto u.
func (r UpdateProfileRequest) Apply(u *User) {
	if r.FirstName != nil {
		u.FirstName = strings.TrimSpace(*r.FirstName)
	}
	if r.LastName != nil {
		u.LastName = strings.TrimSpace(*r.LastName)
	}
	if r.Email != nil {
		u.Email = strings.TrimSpace(*r.Email)
	}
	if r.PhoneNumber != nil {
		u.PhoneNumber = strings.TrimSpace(*r.PhoneNumber)
	}
	if r.IDNumber != nil {
		u.IDNumber = strings.TrimSpace(*r.IDNumber)
	}
	if r.ProfileImage != nil {
		img := strings.TrimSpace(*r.ProfileImage)
		if img == "" {
			u.ProfileImage = nil
		} else {
			u.ProfileImage = &img
		}
	}
}

// NormalizeIdentity is the comparison key for usernames and emails.
func NormalizeIdentity(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
