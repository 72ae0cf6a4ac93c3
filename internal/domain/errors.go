package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownProfile is returned when a profile name is not configured.
	ErrUnknownProfile = errors.New("unknown profile")

	// ErrMissingKey is returned when the policy document lacks a required top-level key.
	ErrMissingKey = errors.New("missing required key")

	// ErrEmptyPrefix is returned when the policy document has a blank prefix.
	ErrEmptyPrefix = errors.New("prefix must not be empty")

	// ErrPlanDeclined is returned when the operator declines the plan confirmation.
	ErrPlanDeclined = errors.New("plan declined by operator")

	// ErrLocked is returned when another run holds the run lock.
	ErrLocked = errors.New("another run holds the lock")
)

// ProfileError names the profile that could not be found.
type ProfileError struct {
	Name      string
	Available []string
}

func (e *ProfileError) Error() string {
	return fmt.Sprintf("unknown profile %q (available: %v)", e.Name, e.Available)
}

// Unwrap lets errors.Is match ErrUnknownProfile.
func (e *ProfileError) Unwrap() error {
	return ErrUnknownProfile
}
