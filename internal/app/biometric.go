package app

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/ledger-service/internal/store"
)

// BiometricAuthenticator is the device capability behind biometric login.
type BiometricAuthenticator interface {
	Available(ctx context.Context) bool
	Enrolled(ctx context.Context, userID uuid.UUID) (bool, error)
	// Enroll registers a device for userID and returns the key the device signs with.
	Enroll(ctx context.Context, userID uuid.UUID) (deviceKey string, err error)
	Authenticate(ctx context.Context, userID uuid.UUID, assertion string) error
}

const defaultChallengeWindow = 30 * time.Second

// EnrollmentAuthenticator simulates a platform authenticator. Each enrolled user holds a
// device key; an assertion is the hex HMAC-SHA256 of the current time-step challenge under
// that key. The current and previous steps are accepted.
type EnrollmentAuthenticator struct {
	users  store.UserRepository
	window time.Duration
	now    func() time.Time
}

func NewEnrollmentAuthenticator(users store.UserRepository) *EnrollmentAuthenticator {
	return &EnrollmentAuthenticator{users: users, window: defaultChallengeWindow, now: time.Now}
}

func (a *EnrollmentAuthenticator) Available(ctx context.Context) bool {
	return a != nil && a.users != nil
}

func (a *EnrollmentAuthenticator) Enrolled(ctx context.Context, userID uuid.UUID) (bool, error) {
	u, err := a.users.FindUserByID(ctx, userID)
	if err != nil {
		return false, err
	}
	return u.BiometricEnrolled && len(u.BiometricSecret) > 0, nil
}

func (a *EnrollmentAuthenticator) Enroll(ctx context.Context, userID uuid.UUID) (string, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return "", fmt.Errorf("generate device key: %w", err)
	}
	if err := a.users.UpdateBiometricEnrollment(ctx, userID, true, secret); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(secret), nil
}

func (a *EnrollmentAuthenticator) Authenticate(ctx context.Context, userID uuid.UUID, assertion string) error {
	u, err := a.users.FindUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if !u.BiometricEnrolled || len(u.BiometricSecret) == 0 {
		return ErrBiometricRejected
	}
	got, err := hex.DecodeString(strings.TrimSpace(assertion))
	if err != nil {
		return ErrBiometricRejected
	}
	now := a.now()
	for _, at := range []time.Time{now, now.Add(-a.window)} {
		want := signChallenge(u.BiometricSecret, BiometricChallenge(userID, at, a.window))
		if hmac.Equal(got, want) {
			return nil
		}
	}
	return ErrBiometricRejected
}

// BiometricChallenge is the time-step challenge a device signs for userID at time at.
func BiometricChallenge(userID uuid.UUID, at time.Time, window time.Duration) string {
	if window <= 0 {
		window = defaultChallengeWindow
	}
	return fmt.Sprintf("%s:%d", userID, at.Unix()/int64(window/time.Second))
}

// SignBiometricChallenge produces an assertion the way an enrolled device does.
func SignBiometricChallenge(deviceKey string, userID uuid.UUID, at time.Time) (string, error) {
	key, err := base64.RawURLEncoding.DecodeString(deviceKey)
	if err != nil {
		return "", fmt.Errorf("decode device key: %w", err)
	}
	return hex.EncodeToString(signChallenge(key, BiometricChallenge(userID, at, defaultChallengeWindow))), nil
}

func signChallenge(key []byte, challenge string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(challenge))
	return mac.Sum(nil)
}

// BiometricStatus reports whether biometric login can be offered to the caller.
func (s *Service) BiometricStatus(ctx context.Context, callerID uuid.UUID) (available bool, enrolled bool, err error) {
	if s.opts.Biometrics == nil || !s.opts.Biometrics.Available(ctx) {
		return false, false, nil
	}
	enrolled, err = s.opts.Biometrics.Enrolled(ctx, callerID)
	if err != nil {
		return true, false, err
	}
	return true, enrolled, nil
}

// EnrollBiometric registers the caller's device and returns its signing key.
func (s *Service) EnrollBiometric(ctx context.Context, callerID uuid.UUID) (string, error) {
	if s.opts.Biometrics == nil || !s.opts.Biometrics.Available(ctx) {
		return "", ErrBiometricUnavailable
	}
	return s.opts.Biometrics.Enroll(ctx, callerID)
}

// BiometricLogin issues a session for username when the device assertion verifies. An
// unknown username and a user without an enrolled device fail the same way as a bad
// assertion.
func (s *Service) BiometricLogin(ctx context.Context, username, assertion string) (*Session, error) {
	if s.opts.Biometrics == nil || !s.opts.Biometrics.Available(ctx) {
		return nil, ErrBiometricUnavailable
	}
	username = strings.TrimSpace(username)
	if err := s.consumeLoginAttempt(ctx, username); err != nil {
		return nil, err
	}
	user, err := s.repo.FindUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, ErrBiometricRejected
		}
		return nil, err
	}
	if err := s.opts.Biometrics.Authenticate(ctx, user.ID, assertion); err != nil {
		return nil, err
	}
	return s.issueSession(user)
}
