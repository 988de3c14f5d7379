package service

import (
	"errors"
	"fmt"

	"github.com/niikun/social-listening/internal/config"
)

var (
	// ErrConfig is fatal to a whole run and surfaced once before dispatch
	ErrConfig = config.ErrInvalid
	// ErrSearchUnavailable triggers the simulated search fallback, never a run failure
	ErrSearchUnavailable = errors.New("search backend unavailable")
	// ErrModelCallFailed is a provider error that survived every retry
	ErrModelCallFailed = errors.New("model call failed")
	// ErrParseFailed means the model text matched no extraction strategy
	ErrParseFailed = errors.New("response did not match answer schema")

	ErrRunNotFound    = errors.New("run not found")
	ErrRunNotFinished = errors.New("run has not finished")
	ErrRunFinished    = errors.New("run already finished")
	ErrNoAnswers      = errors.New("run has no successful answers")
	// ErrUnsupportedFormat is returned for dataset formats other than csv and json
	ErrUnsupportedFormat = errors.New("unsupported export format")
)

// ErrorKind classifies provider failures for the retry policy
type ErrorKind string

const (
	KindAuth      ErrorKind = "auth"
	KindTransient ErrorKind = "transient"
	KindPermanent ErrorKind = "permanent"
)

// ProviderError is a classified failure from a chat completer
type ProviderError struct {
	Kind   ErrorKind
	Status int
	Err    error
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s provider error (status %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s provider error: %v", e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Is lets auth failures match ErrConfig
func (e *ProviderError) Is(target error) bool {
	return e.Kind == KindAuth && target == ErrConfig
}

func kindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindTransient
}
