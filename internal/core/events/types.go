// Package events turns raw host activity into canonical, signed sink records
package events

import (
	"bytes"
	"time"

	perr "fourkeys/internal/platform/errors"
	pstrings "fourkeys/internal/platform/strings"
)

// EventType is the canonical event kind written to the sink
type EventType string

// Event kinds
const (
	TypePush       EventType = "push"
	TypeDeployment EventType = "deployment"
	TypeIssue      EventType = "issue"
)

// VisibilityLevel is written for every project; the host value is not consulted
const VisibilityLevel = 10

// Redacted replaces deploying user emails
const Redacted = "[REDACTED]"

// TimestampLayout is how datetimes render inside metadata
const TimestampLayout = "2006-01-02 15:04:05"

// Timestamp is a UTC instant that renders as TimestampLayout in JSON
type Timestamp struct{ time.Time }

// At wraps t as a UTC Timestamp
func At(t time.Time) Timestamp { return Timestamp{t.UTC()} }

// MarshalJSON implements json.Marshaler
func (t Timestamp) MarshalJSON() ([]byte, error) {
	b := make([]byte, 0, len(TimestampLayout)+2)
	b = append(b, '"')
	b = t.UTC().AppendFormat(b, TimestampLayout)
	return append(b, '"'), nil
}

// UnmarshalJSON accepts TimestampLayout and RFC 3339
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	s := string(bytes.Trim(b, `"`))
	for _, layout := range []string{TimestampLayout, time.RFC3339Nano} {
		if v, err := time.Parse(layout, s); err == nil {
			t.Time = v.UTC()
			return nil
		}
	}
	return perr.JSONErrf("bad timestamp %q", s)
}

// Project is the project snapshot embedded in push and deployment metadata
type Project struct {
	ID                int64   `json:"id" validate:"required"`
	Name              string  `json:"name" validate:"required"`
	Description       *string `json:"description"`
	WebURL            string  `json:"web_url" validate:"required"`
	AvatarURL         *string `json:"avatar_url"`
	GitSSHURL         string  `json:"git_ssh_url"`
	GitHTTPURL        string  `json:"git_http_url"`
	Namespace         string  `json:"namespace"`
	VisibilityLevel   int     `json:"visibility_level"`
	PathWithNamespace string  `json:"path_with_namespace" validate:"required"`
	DefaultBranch     string  `json:"default_branch"`
	CIConfigPath      *string `json:"ci_config_path"`
	Homepage          string  `json:"homepage"`
	URL               string  `json:"url"`
	SSHURL            string  `json:"ssh_url"`
	HTTPURL           string  `json:"http_url"`
}

// ShortName is the last path segment of the project, used in msg_id and source
func (p Project) ShortName() string { return pstrings.LastSegment(p.PathWithNamespace) }

// Repository is the repository block of push metadata
type Repository struct {
	Name            string  `json:"name" validate:"required"`
	URL             string  `json:"url"`
	Description     *string `json:"description"`
	Homepage        string  `json:"homepage"`
	GitHTTPURL      string  `json:"git_http_url"`
	GitSSHURL       string  `json:"git_ssh_url"`
	VisibilityLevel int     `json:"visibility_level"`
}

// Author is a commit author
type Author struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Commit is a commit as embedded in push metadata
type Commit struct {
	ID        string    `json:"id" validate:"required"`
	Message   string    `json:"message"`
	Title     string    `json:"title"`
	Timestamp Timestamp `json:"timestamp" validate:"required"`
	URL       string    `json:"url"`
	Author    Author    `json:"author"`
	Added     []string  `json:"added"`
	Modified  []string  `json:"modified"`
	Removed   []string  `json:"removed"`
}

// PushMetadata mirrors the host's push webhook body
type PushMetadata struct {
	ObjectKind        string         `json:"object_kind" validate:"eq=push"`
	EventName         string         `json:"event_name" validate:"eq=push"`
	Before            *string        `json:"before"`
	After             string         `json:"after" validate:"required"`
	Ref               string         `json:"ref" validate:"startswith=refs/heads/"`
	CheckoutSHA       string         `json:"checkout_sha" validate:"required"`
	Message           *string        `json:"message"`
	UserID            int64          `json:"user_id"`
	UserName          string         `json:"user_name"`
	UserUsername      string         `json:"user_username"`
	UserEmail         string         `json:"user_email"`
	UserAvatar        string         `json:"user_avatar"`
	ProjectID         int64          `json:"project_id" validate:"required"`
	Project           Project        `json:"project"`
	Commits           []Commit       `json:"commits" validate:"dive"`
	TotalCommitsCount int            `json:"total_commits_count" validate:"gte=0"`
	PushOptions       map[string]any `json:"push_options"`
	Repository        Repository     `json:"repository"`
}

// User is the deploying user in deployment metadata
type User struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url"`
	Email     string `json:"email"`
}

// DeployMetadata mirrors the host's deployment webhook body
type DeployMetadata struct {
	ObjectKind      string    `json:"object_kind" validate:"eq=deployment"`
	Status          string    `json:"status" validate:"required"`
	StatusChangedAt Timestamp `json:"status_changed_at"`
	DeploymentID    int64     `json:"deployment_id" validate:"required"`
	DeployableID    int64     `json:"deployable_id" validate:"required"`
	DeployableURL   string    `json:"deployable_url"`
	Environment     string    `json:"environment" validate:"required"`
	Project         Project   `json:"project"`
	ShortSHA        string    `json:"short_sha" validate:"required"`
	User            User      `json:"user"`
	UserURL         string    `json:"user_url"`
	CommitURL       string    `json:"commit_url"`
	CommitTitle     string    `json:"commit_title"`
}

// Label is an issue label
type Label struct {
	Title string `json:"title" validate:"required"`
}

// Incident is an incident issue supplied by the caller
type Incident struct {
	CreatedAt   Timestamp  `json:"created_at"`
	UpdatedAt   Timestamp  `json:"updated_at"`
	ClosedAt    *Timestamp `json:"closed_at"`
	ID          int64      `json:"id" validate:"required"`
	Labels      []Label    `json:"labels" validate:"dive"`
	Description string     `json:"description"`
}

// IncidentMetadata wraps an incident the way issue webhooks do
type IncidentMetadata struct {
	ObjectKind       string   `json:"object_kind" validate:"eq=incident"`
	ObjectAttributes Incident `json:"object_attributes"`
}

// CanonicalEvent is one sink row
type CanonicalEvent struct {
	EventType   EventType
	ID          string
	Metadata    string
	TimeCreated time.Time
	Signature   string
	MsgID       string
	Source      string
}

// Key identifies the event by kind and natural key for logs and existence checks
func (e CanonicalEvent) Key() string { return string(e.EventType) + "/" + e.ID }
