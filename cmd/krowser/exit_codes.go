package main

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"

	"github.com/ppiankov/krowser/internal/explorer"
	"github.com/ppiankov/krowser/internal/kafka"
)

// Process exit codes.
const (
	ExitSuccess    = 0
	ExitInternal   = 1
	ExitInvalidArg = 2
	ExitNotFound   = 3
	ExitNetwork    = 4
	ExitAuth       = 5
)

// usageError marks errors caused by flags or configuration.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func classifyError(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var usage *usageError
	if errors.As(err, &usage) || errors.Is(err, explorer.ErrInvalidQuery) {
		return ExitInvalidArg
	}
	if errors.Is(err, explorer.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
		return ExitNotFound
	}
	if kafka.IsAuthError(err) {
		return ExitAuth
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return ExitNetwork
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "dial", "connection refused", "i/o timeout", "network is unreachable"):
		return ExitNetwork
	case containsAny(msg, "not a directory", "does not exist", "no such file"):
		return ExitNotFound
	case containsAny(msg, "required", "invalid", "must be", "expected", "unknown command", "accepts"):
		return ExitInvalidArg
	}
	return ExitInternal
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
