package gitlab

import (
	"encoding/json"
	"time"
)

// Namespace is the owning group or user of a project
type Namespace struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Path     string `json:"path"`
	FullPath string `json:"full_path"`
}

// Project is a partial GitLab project document with fields we use
type Project struct {
	ID                int64     `json:"id"`
	Name              string    `json:"name"`
	Description       *string   `json:"description"`
	WebURL            string    `json:"web_url"`
	AvatarURL         *string   `json:"avatar_url"`
	SSHURLToRepo      string    `json:"ssh_url_to_repo"`
	HTTPURLToRepo     string    `json:"http_url_to_repo"`
	Namespace         Namespace `json:"namespace"`
	PathWithNamespace string    `json:"path_with_namespace"`
	DefaultBranch     string    `json:"default_branch"`
	CIConfigPath      *string   `json:"ci_config_path"`
}

// User is the compact user shape embedded in events and deployments
type User struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Username  string `json:"username"`
	State     string `json:"state"`
	AvatarURL string `json:"avatar_url"`
	WebURL    string `json:"web_url"`
}

// PushData is the push payload of a "pushed" project event
type PushData struct {
	CommitCount int     `json:"commit_count"`
	Action      string  `json:"action"`
	RefType     string  `json:"ref_type"`
	CommitFrom  *string `json:"commit_from"`
	CommitTo    string  `json:"commit_to"`
	Ref         string  `json:"ref"`
	CommitTitle string  `json:"commit_title"`
}

// Event is a project activity event; only push events carry PushData
type Event struct {
	ID         int64     `json:"id"`
	ProjectID  int64     `json:"project_id"`
	ActionName string    `json:"action_name"`
	AuthorID   int64     `json:"author_id"`
	CreatedAt  time.Time `json:"created_at"`
	Author     User      `json:"author"`
	PushData   *PushData `json:"push_data"`
}

// Environment is the deployment target
type Environment struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// DeployableCommit is the commit a deployment job ran on
type DeployableCommit struct {
	ID      string `json:"id"`
	ShortID string `json:"short_id"`
	Title   string `json:"title"`
	WebURL  string `json:"web_url"`
}

// Pipeline is the pipeline that produced a deployable
type Pipeline struct {
	ID        int64 `json:"id"`
	ProjectID int64 `json:"project_id"`
}

// Deployable is the CI job behind a deployment
type Deployable struct {
	ID         int64            `json:"id"`
	Status     string           `json:"status"`
	WebURL     string           `json:"web_url"`
	CreatedAt  *time.Time       `json:"created_at"`
	StartedAt  *time.Time       `json:"started_at"`
	FinishedAt *time.Time       `json:"finished_at"`
	Commit     DeployableCommit `json:"commit"`
	Pipeline   Pipeline         `json:"pipeline"`
}

// Time returns the first set of finished, started and created
func (d Deployable) Time() (time.Time, bool) {
	for _, t := range []*time.Time{d.FinishedAt, d.StartedAt, d.CreatedAt} {
		if t != nil && !t.IsZero() {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// Deployment is a project deployment; Raw keeps the payload exactly as the host sent it
type Deployment struct {
	ID          int64       `json:"id"`
	IID         int64       `json:"iid"`
	Ref         string      `json:"ref"`
	SHA         string      `json:"sha"`
	Status      string      `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	User        User        `json:"user"`
	Environment Environment `json:"environment"`
	Deployable  *Deployable `json:"deployable"`

	Raw json.RawMessage `json:"-"`
}

// Commit is a repository commit; MR commit listings omit ParentIDs
type Commit struct {
	ID           string     `json:"id"`
	ShortID      string     `json:"short_id"`
	Title        string     `json:"title"`
	Message      string     `json:"message"`
	AuthorName   string     `json:"author_name"`
	AuthorEmail  string     `json:"author_email"`
	AuthoredDate *time.Time `json:"authored_date"`
	ParentIDs    []string   `json:"parent_ids"`
	WebURL       string     `json:"web_url"`
}

// Diff is one file change of a commit
type Diff struct {
	OldPath     string `json:"old_path"`
	NewPath     string `json:"new_path"`
	NewFile     bool   `json:"new_file"`
	RenamedFile bool   `json:"renamed_file"`
	DeletedFile bool   `json:"deleted_file"`
}

// EventsQuery narrows the project events listing
// After and Before are day granular on the host and exclusive; callers filter precisely afterwards
type EventsQuery struct {
	Action string
	After  time.Time
	Before time.Time
}
