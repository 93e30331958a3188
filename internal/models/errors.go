package models

import (
	"errors"
	"fmt"
)

// Sentinel errors
var (
	ErrIdentityAbsent     = errors.New("no authenticated identity")
	ErrTransportDown      = errors.New("network connection lost")
	ErrListenerDetached   = errors.New("realtime listener detached")
	ErrStoreRead          = errors.New("store read failed")
	ErrDelivery           = errors.New("export delivery failed")
	ErrNotConnected       = errors.New("not connected")
	ErrSubscriptionClosed = errors.New("subscription closed")
	ErrUnknownCollection  = errors.New("unknown collection")
)

// APIError represents an error from the remote store API.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code"`
	RequestID  string `json:"request_id,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// StoreError describes a failed store operation.
type StoreError struct {
	Op         string
	Collection string
	Err        error
}

func (e *StoreError) Error() string {
	if e.Collection != "" {
		return fmt.Sprintf("store %s %s: %v", e.Op, e.Collection, e.Err)
	}
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// ExportError provides detailed export failure information.
type ExportError struct {
	Phase      string
	UserID     string
	Collection string
	Err        error
}

func (e *ExportError) Error() string {
	if e.Collection != "" {
		return fmt.Sprintf("export %s: user %s: %s: %v", e.Phase, e.UserID, e.Collection, e.Err)
	}
	return fmt.Sprintf("export %s: user %s: %v", e.Phase, e.UserID, e.Err)
}

func (e *ExportError) Unwrap() error {
	return e.Err
}
