package models

import (
	"fmt"
	"time"
)

// State is the connection state shown to the user.
type State string

const (
	StateSynced  State = "synced"
	StateOffline State = "offline"
	StateSyncing State = "syncing"
	StateError   State = "error"
)

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case StateSynced, StateOffline, StateSyncing, StateError:
		return true
	default:
		return false
	}
}

// SyncStatus is the derived connection status for the active identity.
// Only the status monitor produces new values; consumers treat it as read-only.
type SyncStatus struct {
	State        State      `json:"state"`
	LastSyncTime *time.Time `json:"last_sync_time,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`

	// Generation of the probe subscription the value was derived from.
	Generation uint64 `json:"generation"`
}

// OfflineStatus returns an offline status without error or sync time.
func OfflineStatus() SyncStatus {
	return SyncStatus{State: StateOffline}
}

// HasError returns true if an error message is attached.
func (s SyncStatus) HasError() bool {
	return s.ErrorMessage != ""
}

// Equal compares two statuses, including the sync timestamp.
func (s SyncStatus) Equal(other SyncStatus) bool {
	if s.State != other.State || s.ErrorMessage != other.ErrorMessage || s.Generation != other.Generation {
		return false
	}
	switch {
	case s.LastSyncTime == nil && other.LastSyncTime == nil:
		return true
	case s.LastSyncTime == nil || other.LastSyncTime == nil:
		return false
	default:
		return s.LastSyncTime.Equal(*other.LastSyncTime)
	}
}

func (s SyncStatus) String() string {
	switch {
	case s.HasError():
		return fmt.Sprintf("%s (%s)", s.State, s.ErrorMessage)
	case s.LastSyncTime != nil:
		return fmt.Sprintf("%s at %s", s.State, s.LastSyncTime.Format(time.RFC3339))
	default:
		return string(s.State)
	}
}
