package auth

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
)

// ErrAuthUnavailable indicates the credential backend could not be reached.
var ErrAuthUnavailable = errors.New("authentication backend unavailable")

// Authority decides who may use the server.
type Authority interface {
	// VerifyCredentials reports whether pass is the password of user.
	VerifyCredentials(ctx context.Context, user, pass string) (bool, error)
	// IssueToken returns a token identifying user.
	IssueToken(user string) (string, error)
	// VerifyToken returns the user a valid token was issued to.
	VerifyToken(token string) (string, error)
}

// Service combines a credential store with a token issuer.
type Service struct {
	store  CredentialStore
	tokens *TokenIssuer
}

// NewService returns an Authority backed by store and tokens.
func NewService(store CredentialStore, tokens *TokenIssuer) *Service {
	return &Service{store: store, tokens: tokens}
}

// VerifyCredentials checks user and pass against the store.
func (s *Service) VerifyCredentials(ctx context.Context, user, pass string) (bool, error) {
	ok, err := s.store.Verify(ctx, user, pass)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "VerifyCredentials",
			"username": user,
			"error":    err.Error(),
		}).Error("Credential lookup failed")
		return false, errors.Join(ErrAuthUnavailable, err)
	}

	entry := logrus.WithFields(logrus.Fields{
		"function": "VerifyCredentials",
		"username": user,
	})
	if ok {
		entry.Info("Credentials accepted")
	} else {
		entry.Warn("Credentials rejected")
	}
	return ok, nil
}

// IssueToken delegates to the token issuer.
func (s *Service) IssueToken(user string) (string, error) {
	return s.tokens.Issue(user)
}

// VerifyToken delegates to the token issuer.
func (s *Service) VerifyToken(token string) (string, error) {
	return s.tokens.Verify(token)
}

// Store returns the underlying credential store.
func (s *Service) Store() CredentialStore {
	return s.store
}
