package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTransient marks store or stream failures the caller may retry.
	ErrTransient = errors.New("temporarily unavailable")
	ErrConflict  = errors.New("conflict")
	ErrNotFound  = errors.New("not found")
)

// Classify keeps known taxonomy errors as they are and marks anything else
// coming out of a store or stream call as transient.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) || errors.Is(err, ErrTransient) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
}

// NormalizeEmail is the form guest emails are stored and compared in.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
