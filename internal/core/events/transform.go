package events

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"

	"fourkeys/internal/adapters/ingest/gitlab"
	perr "fourkeys/internal/platform/errors"
	"fourkeys/internal/platform/logger"
	pstrings "fourkeys/internal/platform/strings"
)

const (
	titleWidth       = 80
	titlePlaceholder = "..."

	// pushes above this many commits get an info line before the walk
	manyCommits = 10

	incidentSource = "gitlab_bulk_import_incidents"
)

// Projects resolves project snapshots, normally the run's project cache
type Projects interface {
	ByID(ctx context.Context, id int64) (Project, error)
	FromHandle(p gitlab.Project) Project
}

// Commits reconstructs the commits a push introduced, newest first
type Commits interface {
	Resolve(ctx context.Context, projectID int64, start string, maxCount int) []gitlab.Commit
}

// Diffs lists the file changes of a commit
type Diffs interface {
	CommitDiff(ctx context.Context, projectID int64, sha string) ([]gitlab.Diff, error)
}

// Option configures a Transformer
type Option func(*Transformer)

// WithLogger overrides the context logger
func WithLogger(l logger.Logger) Option {
	return func(t *Transformer) { t.log = &l }
}

// Transformer maps raw activity into canonical events
type Transformer struct {
	projects Projects
	commits  Commits
	diffs    Diffs
	log      *logger.Logger
}

// NewTransformer wires the collaborators a push needs; deployments only use projects
func NewTransformer(p Projects, c Commits, d Diffs, opts ...Option) *Transformer {
	t := &Transformer{projects: p, commits: c, diffs: d}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *Transformer) logf(ctx context.Context) *logger.Logger {
	if t.log != nil {
		return t.log
	}
	return logger.C(ctx)
}

// TransformPush builds the push event for e, which must belong to project
func (t *Transformer) TransformPush(ctx context.Context, project gitlab.Project, e gitlab.Event) (CanonicalEvent, error) {
	pd := e.PushData
	if pd == nil || pd.CommitTo == "" {
		return CanonicalEvent{}, perr.WithField(perr.Validationf("event %d carries no push data", e.ID), "push_data")
	}
	proj := t.projects.FromHandle(project)

	if pd.CommitCount > manyCommits {
		t.logf(ctx).Info().
			Int("commit_count", pd.CommitCount).
			Str("commit_to", pd.CommitTo).
			Msg("large push, fetching every commit")
	}

	resolved := t.commits.Resolve(ctx, project.ID, pd.CommitTo, pd.CommitCount)
	commits := make([]Commit, 0, len(resolved))
	for _, c := range resolved {
		// the push is authoritative for the tip commit's time
		if c.ID == pd.CommitTo {
			created := e.CreatedAt
			c.AuthoredDate = &created
		}
		tc, err := t.transformCommit(ctx, project.ID, c)
		if err != nil {
			return CanonicalEvent{}, err
		}
		commits = append(commits, tc)
	}
	slices.Reverse(commits)

	meta := PushMetadata{
		ObjectKind:        "push",
		EventName:         "push",
		Before:            pd.CommitFrom,
		After:             pd.CommitTo,
		Ref:               "refs/heads/" + pd.Ref,
		CheckoutSHA:       pd.CommitTo,
		Message:           nil,
		UserID:            e.AuthorID,
		UserName:          e.Author.Name,
		UserUsername:      e.Author.Username,
		UserEmail:         "",
		UserAvatar:        e.Author.AvatarURL,
		ProjectID:         project.ID,
		Project:           proj,
		Commits:           commits,
		TotalCommitsCount: pd.CommitCount,
		PushOptions:       map[string]any{},
		Repository:        repositoryOf(project),
	}
	b, err := encode(meta)
	if err != nil {
		return CanonicalEvent{}, perr.WithOp(err, fmt.Sprintf("push %d", e.ID))
	}

	short := proj.ShortName()
	return CanonicalEvent{
		EventType:   TypePush,
		ID:          pd.CommitTo,
		Metadata:    string(b),
		TimeCreated: e.CreatedAt.UTC(),
		Signature:   Sign(b),
		MsgID:       fmt.Sprintf("bulk_import_%s_%d", short, e.ID),
		Source:      "gitlab_bulk_import_" + short,
	}, nil
}

func (t *Transformer) transformCommit(ctx context.Context, projectID int64, c gitlab.Commit) (Commit, error) {
	diffs, err := t.diffs.CommitDiff(ctx, projectID, c.ID)
	if err != nil {
		return Commit{}, perr.WithOp(err, "diff "+c.ID)
	}
	added, modified, removed := []string{}, []string{}, []string{}
	for _, d := range diffs {
		switch {
		case d.NewFile:
			added = append(added, d.NewPath)
		case d.DeletedFile:
			removed = append(removed, d.OldPath)
		default:
			modified = append(modified, d.NewPath)
		}
	}

	var ts Timestamp
	if c.AuthoredDate != nil {
		ts = At(*c.AuthoredDate)
	}
	return Commit{
		ID:        c.ID,
		Message:   c.Message,
		Title:     pstrings.Shorten(pstrings.NFC(c.Title), titleWidth, titlePlaceholder),
		Timestamp: ts,
		URL:       c.WebURL,
		Author:    Author{Name: c.AuthorName, Email: c.AuthorEmail},
		Added:     added,
		Modified:  modified,
		Removed:   removed,
	}, nil
}

func repositoryOf(p gitlab.Project) Repository {
	return Repository{
		Name:            p.Name,
		URL:             p.SSHURLToRepo,
		Description:     p.Description,
		Homepage:        p.WebURL,
		GitHTTPURL:      p.HTTPURLToRepo,
		GitSSHURL:       p.SSHURLToRepo,
		VisibilityLevel: VisibilityLevel,
	}
}

// TransformDeployment builds the deployment event for d.
// The signature covers the raw host payload, not the metadata.
func (t *Transformer) TransformDeployment(ctx context.Context, d gitlab.Deployment) (CanonicalEvent, error) {
	dep := d.Deployable
	if dep == nil {
		return CanonicalEvent{}, perr.WithField(perr.Validationf("deployment %d has no deployable", d.ID), "deployable")
	}
	when, ok := dep.Time()
	if !ok {
		return CanonicalEvent{}, perr.WithField(perr.Validationf("deployment %d has no deployable time", d.ID), "deployable.created_at")
	}

	raw := d.Raw
	if len(raw) == 0 {
		b, err := json.Marshal(d)
		if err != nil {
			return CanonicalEvent{}, perr.Wrapf(err, perr.ErrorCodeJSON, "encode deployment %d", d.ID)
		}
		raw = b
	}

	proj, err := t.projects.ByID(ctx, dep.Pipeline.ProjectID)
	if err != nil {
		return CanonicalEvent{}, err
	}

	meta := DeployMetadata{
		ObjectKind:      "deployment",
		Status:          dep.Status,
		StatusChangedAt: At(when),
		DeploymentID:    d.ID,
		DeployableID:    dep.ID,
		DeployableURL:   dep.WebURL,
		Environment:     d.Environment.Slug,
		Project:         proj,
		ShortSHA:        dep.Commit.ShortID,
		User: User{
			ID:        d.User.ID,
			Name:      d.User.Name,
			Username:  d.User.Username,
			AvatarURL: d.User.AvatarURL,
			Email:     Redacted,
		},
		UserURL:     d.User.WebURL,
		CommitURL:   dep.Commit.WebURL,
		CommitTitle: dep.Commit.Title,
	}
	b, err := encode(meta)
	if err != nil {
		return CanonicalEvent{}, perr.WithOp(err, fmt.Sprintf("deployment %d", d.ID))
	}

	short := proj.ShortName()
	return CanonicalEvent{
		EventType:   TypeDeployment,
		ID:          strconv.FormatInt(d.ID, 10),
		Metadata:    string(b),
		TimeCreated: when,
		Signature:   Sign(raw),
		MsgID:       fmt.Sprintf("bulk_import_%s_%d", short, d.ID),
		Source:      "gitlab_bulk_import_" + short,
	}, nil
}

// TransformIncident builds the issue event for i
func TransformIncident(i Incident) (CanonicalEvent, error) {
	b, err := encode(IncidentMetadata{ObjectKind: "incident", ObjectAttributes: i})
	if err != nil {
		return CanonicalEvent{}, perr.WithOp(err, fmt.Sprintf("incident %d", i.ID))
	}
	return CanonicalEvent{
		EventType:   TypeIssue,
		ID:          fmt.Sprintf("issue_%d", i.ID),
		Metadata:    string(b),
		TimeCreated: i.CreatedAt.UTC(),
		Signature:   Sign(b),
		MsgID:       fmt.Sprintf("bulk_import_incident_%d", i.ID),
		Source:      incidentSource,
	}, nil
}

// TransformIncident is the method form used by the driver
func (t *Transformer) TransformIncident(i Incident) (CanonicalEvent, error) {
	return TransformIncident(i)
}

// Sign is the hex SHA-1 of b
func Sign(b []byte) string {
	sum := sha1.Sum(b)
	return hex.EncodeToString(sum[:])
}

// encode validates m then renders it as compact JSON
func encode(m any) ([]byte, error) {
	if err := Validate(m); err != nil {
		return nil, err
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeJSON, "encode metadata")
	}
	return b, nil
}
