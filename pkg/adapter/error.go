package adapter

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// AdapterError wraps provider errors with status metadata.
type AdapterError struct {
	Provider  string
	Status    int
	Temporary bool
	Err       error
}

func (e *AdapterError) Error() string {
	if e == nil {
		return "adapter error"
	}
	if e.Err != nil {
		if e.Provider != "" {
			return fmt.Sprintf("%s: %v", e.Provider, e.Err)
		}
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error (status=%d)", e.providerName(), e.Status)
}

func (e *AdapterError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *AdapterError) providerName() string {
	if e.Provider == "" {
		return "adapter"
	}
	return e.Provider
}

// statusError classifies a provider HTTP status.
func statusError(provider string, status int, err error) error {
	return &AdapterError{
		Provider:  provider,
		Status:    status,
		Temporary: status == 429 || status >= 500,
		Err:       err,
	}
}

// IsTransient reports whether an error is safe to retry.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var adapterErr *AdapterError
	if errors.As(err, &adapterErr) {
		if adapterErr.Temporary {
			return true
		}
		if adapterErr.Status == 429 || (adapterErr.Status >= 500 && adapterErr.Status <= 599) {
			return true
		}
	}
	return false
}
