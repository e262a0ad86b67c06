package models

import "errors"

// Common errors for engine and notification operations.
var (
	// Event errors
	ErrEventNotFound = errors.New("event not found")

	// Resource errors
	ErrResourceNotFound = errors.New("resource not found")

	// Notification errors
	ErrNotificationNotFound = errors.New("notification not found")
	ErrDispatchNotFound     = errors.New("notification dispatch not found")
	ErrPreferenceNotFound   = errors.New("notification preference not found")

	// Outbox errors
	ErrTaskNotFound = errors.New("outbox task not found")
)
