// Package commitgraph reconstructs the commits a push introduced by walking
// parent links on the host, substituting merge request commit lists for
// merge commits that reference one
package commitgraph

import (
	"context"
	"regexp"
	"strconv"

	"fourkeys/internal/adapters/ingest/gitlab"
	"fourkeys/internal/platform/logger"
)

// mergeRequestRe matches the default GitLab merge commit message and captures the MR iid
var mergeRequestRe = regexp.MustCompile(`^Merge branch .* into .*\n\n.*\n\n.* merge request .*!(\d+)`)

// Source is the host surface the walker reads
type Source interface {
	Commit(ctx context.Context, projectID int64, sha string) (gitlab.Commit, error)
	MergeRequestCommits(ctx context.Context, projectID, iid int64) ([]gitlab.Commit, error)
}

// Walker resolves commit ancestry with a bounded budget
type Walker struct {
	src Source
	log *logger.Logger
}

// Option configures a Walker
type Option func(*Walker)

// WithLogger overrides the context logger
func WithLogger(l logger.Logger) Option {
	return func(w *Walker) { w.log = &l }
}

// New returns a Walker reading from src
func New(src Source, opts ...Option) *Walker {
	w := &Walker{src: src}
	for _, o := range opts {
		o(w)
	}
	return w
}

type frame struct {
	sha    string
	budget int
}

// Resolve returns up to maxCount commits reachable from start, newest first
// along each branch. Every branch gets the full remaining budget of the commit
// it forks from, so the total can exceed maxCount on ordinary merges and the
// same commit can appear twice where branches reconverge.
// Fetch failures end the branch they occur on and are logged, never returned.
func (w *Walker) Resolve(ctx context.Context, projectID int64, start string, maxCount int) []gitlab.Commit {
	log := w.logf(ctx)
	var out []gitlab.Commit

	stack := []frame{{sha: start, budget: maxCount}}
	for len(stack) > 0 {
		if ctx.Err() != nil {
			log.Warn().Err(ctx.Err()).Int("resolved", len(out)).Msg("commit walk cancelled")
			return out
		}
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if f.budget <= 0 {
			continue
		}

		c, err := w.src.Commit(ctx, projectID, f.sha)
		if err != nil {
			log.Error().Err(err).Str("sha", f.sha).Msg("get commit failed")
			continue
		}
		out = append(out, c)
		remaining := f.budget - 1

		if len(c.ParentIDs) > 1 {
			if iid, ok := mergeRequestIID(c.Message); ok {
				mr, err := w.src.MergeRequestCommits(ctx, projectID, iid)
				if err != nil {
					log.Error().Err(err).Int64("mr_iid", iid).Str("sha", c.ID).Msg("get merge request commits failed")
					continue
				}
				// the MR list is authoritative; parents are not walked
				out = append(out, mr...)
				log.Info().Int64("mr_iid", iid).Int("commits", len(mr)).Msg("merge request commits substituted")
				continue
			}
			log.Info().Str("sha", c.ID).Int("parents", len(c.ParentIDs)).Msg("merge without merge request, walking every parent")
		}

		// reversed so the first parent is popped first
		for i := len(c.ParentIDs) - 1; i >= 0; i-- {
			stack = append(stack, frame{sha: c.ParentIDs[i], budget: remaining})
		}
	}
	return out
}

func (w *Walker) logf(ctx context.Context) *logger.Logger {
	if w.log != nil {
		return w.log
	}
	return logger.C(ctx)
}

// mergeRequestIID extracts the merge request iid from a merge commit message
func mergeRequestIID(msg string) (int64, bool) {
	m := mergeRequestRe.FindStringSubmatch(msg)
	if m == nil {
		return 0, false
	}
	iid, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return iid, true
}
