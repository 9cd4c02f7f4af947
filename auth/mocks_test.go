package auth

import (
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

func init() {
	hashCost = bcrypt.MinCost
}

var errBackendDown = errors.New("connection refused")

// brokenStore fails every call.
type brokenStore struct{}

func (brokenStore) Verify(context.Context, string, string) (bool, error) {
	return false, errBackendDown
}

func (brokenStore) CreateUser(context.Context, string, string) error { return errBackendDown }

func (brokenStore) DeleteUser(context.Context, string) error { return errBackendDown }
