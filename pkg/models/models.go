// Package models defines the persistent entities of the workflow engine and
// the store interfaces the engine core depends on.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"
)

// EnvDefaultState names the environment variable that overrides the state a
// resource is considered to be in before any WorkStatus row exists.
const EnvDefaultState = "ENGINE_DEFAULT_STATE"

// FallbackDefaultState is used when nothing else configures the default.
const FallbackDefaultState = "state:CREATED"

var configuredDefaultState atomic.Value

// SetDefaultState installs the configured default work status value. Called
// once at start-up from the loaded configuration.
func SetDefaultState(value string) {
	configuredDefaultState.Store(value)
}

// DefaultState returns the work status value assumed for resources without
// any status history. ENGINE_DEFAULT_STATE wins over the configured value.
func DefaultState() string {
	if v := os.Getenv(EnvDefaultState); v != "" {
		return v
	}
	if v, ok := configuredDefaultState.Load().(string); ok && v != "" {
		return v
	}
	return FallbackDefaultState
}

// Ref identifies a domain resource by its type tag (table name) and id.
type Ref struct {
	Type string `json:"type"`
	ID   int64  `json:"id"`
}

func (r Ref) String() string {
	return fmt.Sprintf("%s#%d", r.Type, r.ID)
}

// JSONMap is an arbitrary JSON object stored in a single column.
type JSONMap map[string]any

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(value any) error {
	if value == nil {
		*m = JSONMap{}
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into JSONMap", value)
	}
	if len(b) == 0 {
		*m = JSONMap{}
		return nil
	}
	return json.Unmarshal(b, m)
}

// ActivityEvent records something that happened to a resource. The event type
// is the pair `<target>:<action>`, e.g. `model:started`, and the payload is an
// arbitrary JSON document that includes a snapshot of the parent at creation
// time.
type ActivityEvent struct {
	ID         int64   `gorm:"primaryKey" json:"id"`
	ParentType string  `gorm:"size:64;not null;index:idx_activity_events_parent,priority:1" json:"-"`
	ParentID   int64   `gorm:"not null;index:idx_activity_events_parent,priority:2" json:"-"`
	UserID     *int64  `json:"user_id,omitempty"`
	Target     string  `gorm:"size:64;not null" json:"-"`
	Action     string  `gorm:"size:64;not null" json:"-"`
	Data       JSONMap `gorm:"type:json" json:"data"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName implements gorm's Tabler.
func (ActivityEvent) TableName() string { return "activity_events" }

// Parent returns the owning resource reference.
func (e *ActivityEvent) Parent() Ref {
	return Ref{Type: e.ParentType, ID: e.ParentID}
}

// Type returns the combined `<target>:<action>` event type.
func (e *ActivityEvent) Type() string {
	return e.Target + ":" + e.Action
}

// SetType splits a combined `<target>:<action>` value into its parts.
func (e *ActivityEvent) SetType(value string) error {
	target, action, ok := strings.Cut(value, ":")
	if !ok {
		return fmt.Errorf("invalid event type %q: want <target>:<action>", value)
	}
	e.Target, e.Action = target, action
	return nil
}

// MarshalJSON renders the wire form used in event payloads and snapshots.
func (e *ActivityEvent) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"id":         e.ID,
		"type":       e.Type(),
		"parent":     e.Parent(),
		"data":       e.Data,
		"created_at": e.CreatedAt.UTC().Format(time.RFC3339),
	}
	if e.UserID != nil {
		out["user_id"] = *e.UserID
	}
	return json.Marshal(out)
}

// WorkStatus is one append-only entry in a resource's status history. The
// current status of a resource is the entry with the greatest (created_at, id).
type WorkStatus struct {
	ID         int64  `gorm:"primaryKey" json:"id"`
	ParentType string `gorm:"size:64;not null;index:idx_work_statuses_parent,priority:1" json:"-"`
	ParentID   int64  `gorm:"not null;index:idx_work_statuses_parent,priority:2" json:"-"`
	Value      string `gorm:"size:64;not null" json:"value"`
	EventID    *int64 `json:"event_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName implements gorm's Tabler.
func (WorkStatus) TableName() string { return "work_statuses" }

// Parent returns the owning resource reference.
func (s *WorkStatus) Parent() Ref {
	return Ref{Type: s.ParentType, ID: s.ParentID}
}

// Notification is an event a user should hear about. It fans out to one
// NotificationDispatch per configured channel.
type Notification struct {
	ID        int64      `gorm:"primaryKey" json:"id"`
	UserID    int64      `gorm:"not null;index" json:"user_id"`
	EventID   int64      `gorm:"not null" json:"event_id"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`

	Dispatches []NotificationDispatch `gorm:"foreignKey:NotificationID" json:"-"`
}

// TableName implements gorm's Tabler.
func (Notification) TableName() string { return "notifications" }

// Notification channels.
const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

// Channels lists the supported delivery channels.
var Channels = []string{ChannelEmail, ChannelSMS}

// NotificationDispatch is one deliverable unit of a notification: a channel,
// an address and the template specs to render it with. `Due` is computed from
// the owning user's preference when the row is created; `Sent` is stamped when
// delivery succeeds.
type NotificationDispatch struct {
	ID             int64      `gorm:"primaryKey" json:"id"`
	NotificationID int64      `gorm:"not null;index" json:"notification_id"`
	Channel        string     `gorm:"size:32;not null" json:"channel"`
	Address        string     `gorm:"size:255" json:"address"`
	View           string     `gorm:"size:96" json:"view"`
	SingleSpec     string     `gorm:"size:96" json:"single_spec"`
	BatchSpec      string     `gorm:"size:96" json:"batch_spec"`
	Due            time.Time  `gorm:"index" json:"due"`
	Sent           *time.Time `json:"sent,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// TableName implements gorm's Tabler.
func (NotificationDispatch) TableName() string { return "notification_dispatches" }

// Notification frequencies. The zero value means "send immediately".
const (
	FrequencyImmediate = ""
	FrequencyHourly    = "hourly"
	FrequencyDaily     = "daily"
)

// NotificationPreference captures how a user wants notifications batched.
type NotificationPreference struct {
	ID        int64  `gorm:"primaryKey" json:"id"`
	UserID    int64  `gorm:"not null;uniqueIndex" json:"user_id"`
	Channel   string `gorm:"size:32;not null" json:"channel"`
	Frequency string `gorm:"size:32" json:"frequency"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName implements gorm's Tabler.
func (NotificationPreference) TableName() string { return "notification_preferences" }

// OutboxTask is a buffered outbound HTTP dispatch. Rows are written in the
// same transaction as the state change that produced them and shipped to the
// task queue by a background worker (at-least-once).
type OutboxTask struct {
	ID            string     `gorm:"primaryKey;size:36" json:"id"`
	URL           string     `gorm:"not null" json:"url"`
	Method        string     `gorm:"size:8;not null" json:"method"`
	Body          []byte     `json:"-"`
	Headers       JSONMap    `gorm:"type:json" json:"headers"`
	Attempts      int        `json:"attempts"`
	NextAttemptAt time.Time  `gorm:"index" json:"next_attempt_at"`
	ShippedAt     *time.Time `json:"shipped_at,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// TableName implements gorm's Tabler.
func (OutboxTask) TableName() string { return "outbox_tasks" }

// AllModels returns every model for schema migration.
func AllModels() []any {
	return []any{
		&ActivityEvent{},
		&WorkStatus{},
		&Notification{},
		&NotificationDispatch{},
		&NotificationPreference{},
		&OutboxTask{},
	}
}
