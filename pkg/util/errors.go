// Package util provides logging helpers and common error types.
package util

import (
	"errors"
	"fmt"
)

// Sentinel errors for startup and lifecycle failures
var (
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrEmptyProxyList = errors.New("proxy list is empty")
	ErrPoolClosed     = errors.New("session pool closed")
	ErrPipelineClosed = errors.New("pipeline closed")
	ErrStageFailed    = errors.New("registration stage failed")
	ErrShutdown       = errors.New("shutdown requested")
)

// StageError reports which handshake stage rejected a registration attempt.
// Stage failures are local to one task: the caller logs them and moves on.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("stage %s failed", e.Stage)
}

func (e *StageError) Unwrap() error {
	return ErrStageFailed
}

// NewStageError creates a stage error with an optional cause
func NewStageError(stage string, err error) *StageError {
	return &StageError{Stage: stage, Err: err}
}

// ConfigError represents a fatal start-up configuration problem
type ConfigError struct {
	Key     string
	Details string
}

func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("invalid configuration: %s: %s", e.Key, e.Details)
	}
	return "invalid configuration: " + e.Details
}

func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfig
}

// NewConfigError creates a configuration error for a given key
func NewConfigError(key, details string) *ConfigError {
	return &ConfigError{Key: key, Details: details}
}
