package database

import (
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
)

const unauthorizedCode = 13

// IsTransient reports failures worth retrying: network errors, timeouts and
// server errors labelled transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) || mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return true
	}
	var se mongo.ServerError
	if errors.As(err, &se) {
		return se.HasErrorLabel("TransientTransactionError") || se.HasErrorLabel("RetryableWriteError")
	}
	return false
}

// IsUnauthorized reports an authorization failure (server code 13).
func IsUnauthorized(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnauthorized) {
		return true
	}
	var se mongo.ServerError
	if errors.As(err, &se) {
		return se.HasErrorCode(unauthorizedCode)
	}
	return false
}

func IsDuplicateKey(err error) bool {
	return errors.Is(err, ErrDuplicateKey) || mongo.IsDuplicateKeyError(err)
}

// wrapError maps driver errors onto the package sentinels, keeping the cause.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return errors.Join(ErrNotFound, err)
	}
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%s: %w", op, errors.Join(ErrDuplicateKey, err))
	}
	return fmt.Errorf("database operation %s failed: %w", op, err)
}
