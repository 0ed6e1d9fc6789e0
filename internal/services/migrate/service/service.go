// Package service drives the bulk migration of host activity into the events sink
package service

import (
	"context"
	"errors"
	"math/rand/v2"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"fourkeys/internal/core/events"
	"fourkeys/internal/modkit/repokit"
	perr "fourkeys/internal/platform/errors"
	"fourkeys/internal/platform/logger"
	"fourkeys/internal/services/migrate/domain"
	"fourkeys/internal/services/migrate/guardrails"
	"fourkeys/internal/services/migrate/sink"
)

// pushAction is the only push action that carries a commit range worth importing
const pushAction = "pushed"

// Config holds the driver's knobs
type Config struct {
	// Window keeps records whose time falls within it, bounds included
	Window domain.Window

	// Environments allow-lists deployments by environment name; empty keeps all
	Environments []string

	// Exclude lists project ids RunAll never touches
	Exclude []int64

	// SkipExisting checks the sink before importing each deployment
	SkipExisting bool

	// SkipDone skips projects the ledger says finished ok
	SkipDone bool

	Workers       int // projects in parallel; <=0 -> 1
	BatchSize     int // events per insert; <=0 -> sink.DefaultBatchSize
	ProgressEvery int // records between progress lines; <=0 -> 10

	// Listing retries
	MaxRetries int           // attempts per listing; <=0 -> 1
	RetryBase  time.Duration // <=0 -> 500ms

	Timeouts guardrails.Timeouts

	// EnableLeases takes a per project lease so concurrent runners split the work
	EnableLeases bool
}

// Service implements domain.RunnerPort
type Service struct {
	Host  domain.Host
	Xform domain.Transformer
	Sink  domain.Sink
	Cfg   Config

	// DB and Binder back the run ledger; both nil disables it
	DB     repokit.TxRunner
	Binder repokit.Binder[domain.LedgerRepo]

	// Lease guards a project when Cfg.EnableLeases is set
	Lease guardrails.LeaseFunc
}

var _ domain.RunnerPort = (*Service)(nil)

// New constructs the driver; db, binder and lease are optional
func New(
	host domain.Host,
	xform domain.Transformer,
	s domain.Sink,
	cfg Config,
	db repokit.TxRunner,
	binder repokit.Binder[domain.LedgerRepo],
	lease guardrails.LeaseFunc,
) *Service {
	if host == nil || xform == nil || s == nil {
		panic("migrate.Service requires a host, a transformer and a sink")
	}
	if (db == nil) != (binder == nil) {
		panic("migrate.Service requires both a TxRunner and a ledger binder, or neither")
	}
	return &Service{Host: host, Xform: xform, Sink: s, Cfg: cfg, DB: db, Binder: binder, Lease: lease}
}

// RunProject migrates one project's pushes and deployments
func (s *Service) RunProject(ctx context.Context, projectID int64) (domain.Summary, error) {
	ctx = withRunID(ctx)
	if s.Cfg.SkipDone {
		done, err := s.done(ctx, projectID)
		if err != nil {
			return domain.Summary{}, err
		}
		if done {
			logger.C(logger.WithProject(ctx, projectID)).Info().Msg("project already migrated, skipping")
			return domain.Summary{}, nil
		}
	}
	sum, err := s.runProject(ctx, projectID)
	if err != nil {
		sum.Failed++
	}
	return sum, err
}

// RunAll migrates every listed project not excluded or already done.
// Project failures are counted and logged; fatal errors stop the run.
func (s *Service) RunAll(ctx context.Context, projects []domain.ProjectRef) (domain.Summary, error) {
	ctx = withRunID(ctx)
	log := logger.C(ctx)

	var doneIDs []int64
	if s.Cfg.SkipDone && s.ledgerEnabled() {
		if err := s.ledger(ctx, func(r domain.LedgerRepo) error {
			var err error
			doneIDs, err = r.ListDone(ctx)
			return err
		}); err != nil {
			return domain.Summary{}, err
		}
	}

	todo := make([]domain.ProjectRef, 0, len(projects))
	for _, p := range projects {
		switch {
		case slices.Contains(s.Cfg.Exclude, p.ID):
			log.Info().Int64("project_id", p.ID).Str("project", p.Name).Msg("project excluded")
		case slices.Contains(doneIDs, p.ID):
			log.Info().Int64("project_id", p.ID).Str("project", p.Name).Msg("project already migrated, skipping")
		default:
			todo = append(todo, p)
		}
	}
	log.Info().Int("projects", len(todo)).Int("listed", len(projects)).Int("workers", max(s.Cfg.Workers, 1)).Msg("migration starting")

	var (
		mu    sync.Mutex
		total domain.Summary
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.Cfg.Workers, 1))
	for _, p := range todo {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			sum, err := s.runProject(gctx, p.ID)
			mu.Lock()
			defer mu.Unlock()
			total.Add(sum)
			if err == nil {
				return nil
			}
			total.Failed++
			if perr.IsFatal(err) || gctx.Err() != nil {
				return err
			}
			logger.C(gctx).Error().Err(err).Int64("project_id", p.ID).Str("project", p.Name).Msg("project failed")
			return nil
		})
	}
	err := g.Wait()

	log.Info().
		Int("projects", total.Projects).
		Int("pushes", total.Pushes).
		Int("deployments", total.Deployments).
		Int("skipped", total.Skipped).
		Int("rejected", total.Rejected).
		Int("failed", total.Failed).
		Msg("migration finished")
	return total, err
}

// ImportIncidents inserts incident events in batches
func (s *Service) ImportIncidents(ctx context.Context, incidents []domain.Incident) (domain.Summary, error) {
	ctx = withRunID(ctx)
	log := logger.C(ctx)
	b := sink.NewBatcher(s.Sink, s.Cfg.BatchSize)

	var sum domain.Summary
	for i, inc := range incidents {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		ev, err := s.Xform.TransformIncident(inc)
		if err != nil {
			if perr.IsFatal(err) {
				return sum, err
			}
			sum.Skipped++
			log.Warn().Err(err).Int64("incident_id", inc.ID).Msg("incident skipped")
			continue
		}
		if err := b.Add(ctx, ev); err != nil {
			return s.withBatchStats(sum, b), err
		}
		sum.Incidents++
		s.progress(ctx, "incidents", i+1, len(incidents))
	}
	err := b.Flush(ctx)
	return s.withBatchStats(sum, b), err
}

func (s *Service) withBatchStats(sum domain.Summary, b *sink.Batcher) domain.Summary {
	_, rejected := b.Stats()
	sum.Rejected = rejected
	return sum
}

func (s *Service) progress(ctx context.Context, phase string, done, total int) {
	every := s.Cfg.ProgressEvery
	if every <= 0 {
		every = 10
	}
	if done%every == 0 || done == total {
		logger.C(ctx).Info().Str("phase", phase).Int("done", done).Int("total", total).Msg("progress")
	}
}

// runProject applies the lease when configured; a held lease is a clean skip
func (s *Service) runProject(ctx context.Context, projectID int64) (domain.Summary, error) {
	ctx = logger.WithProject(ctx, projectID)
	if s.Lease == nil || !s.Cfg.EnableLeases {
		return s.runProjectUnlocked(ctx, projectID)
	}
	var sum domain.Summary
	err := s.Lease(ctx, projectID, func(ctx context.Context) error {
		var err error
		sum, err = s.runProjectUnlocked(ctx, projectID)
		return err
	})
	if errors.Is(err, guardrails.ErrLeaseHeld) {
		logger.C(ctx).Info().Msg("project leased by another runner, skipping")
		return domain.Summary{}, nil
	}
	return sum, err
}

func (s *Service) runProjectUnlocked(ctx context.Context, projectID int64) (sum domain.Summary, retErr error) {
	pctx, cancel := s.Cfg.Timeouts.ForProject(ctx)
	defer cancel()
	log := logger.C(pctx)
	start := time.Now()
	sum.Projects = 1

	if err := s.ledger(pctx, func(r domain.LedgerRepo) error {
		return r.StartProject(pctx, projectID, logger.RunID(pctx))
	}); err != nil {
		log.Warn().Err(err).Msg("ledger start failed")
	}

	var found int
	b := sink.NewBatcher(s.Sink, s.Cfg.BatchSize)
	defer func() {
		// events already built are shipped even when a later phase failed
		if retErr == nil || !perr.IsCode(retErr, perr.ErrorCodeSink) {
			if err := b.Flush(context.WithoutCancel(pctx)); err != nil && retErr == nil {
				retErr = err
			}
		}
		_, rejected := b.Stats()
		sum.Rejected = rejected
		fin := domain.ProjectFinish{
			Status:      domain.StatusOK,
			Found:       found,
			Pushes:      sum.Pushes,
			Deployments: sum.Deployments,
			Skipped:     sum.Skipped,
			Rejected:    sum.Rejected,
			ElapsedMS:   int(time.Since(start).Milliseconds()),
		}
		if retErr != nil {
			fin.Status = domain.StatusError
			fin.ErrText = retErr.Error()
		}
		// the project context may be spent; the ledger write gets its own budget
		lctx := context.WithoutCancel(pctx)
		if err := s.ledger(lctx, func(r domain.LedgerRepo) error {
			return r.FinishProject(lctx, projectID, fin)
		}); err != nil {
			log.Warn().Err(err).Msg("ledger finish failed")
		}
		log.Info().
			Str("status", fin.Status).
			Int("found", found).
			Int("pushes", sum.Pushes).
			Int("deployments", sum.Deployments).
			Int("skipped", sum.Skipped).
			Int("rejected", sum.Rejected).
			Int("elapsed_ms", fin.ElapsedMS).
			Msg("project finished")
	}()

	var project domain.Project
	if err := s.withRetry(pctx, "get project", func(ctx context.Context) error {
		var err error
		project, err = s.Host.Project(ctx, projectID)
		return err
	}); err != nil {
		return sum, err
	}
	log.Info().Str("project", project.PathWithNamespace).Msg("migrating project")

	n, err := s.migratePushes(pctx, project, b, &sum)
	found += n
	if err != nil {
		return sum, err
	}
	n, err = s.migrateDeployments(pctx, projectID, b, &sum)
	found += n
	return sum, err
}

func (s *Service) migratePushes(ctx context.Context, project domain.Project, b *sink.Batcher, sum *domain.Summary) (int, error) {
	log := logger.C(ctx)
	q := domain.EventsQuery{Action: pushAction}
	if !s.Cfg.Window.Min.IsZero() {
		q.After = s.Cfg.Window.Min.AddDate(0, 0, -1)
	}
	if !s.Cfg.Window.Max.IsZero() {
		q.Before = s.Cfg.Window.Max.AddDate(0, 0, 1)
	}

	var listed []domain.PushEvent
	if err := s.withRetry(ctx, "list events", func(ctx context.Context) error {
		var err error
		listed, err = s.Host.ProjectEvents(ctx, project.ID, q)
		return err
	}); err != nil {
		return 0, err
	}

	pushes := make([]domain.PushEvent, 0, len(listed))
	for _, e := range listed {
		if e.PushData == nil || e.PushData.Action != pushAction || !s.Cfg.Window.Contains(e.CreatedAt) {
			continue
		}
		pushes = append(pushes, e)
	}
	log.Info().Int("listed", len(listed)).Int("pushes", len(pushes)).Msg("push events selected")

	for i, e := range pushes {
		if err := ctx.Err(); err != nil {
			return len(pushes), err
		}
		ev, err := s.Xform.TransformPush(ctx, project, e)
		if err != nil {
			if perr.IsFatal(err) {
				return len(pushes), err
			}
			sum.Skipped++
			log.Warn().Err(err).Int64("event_id", e.ID).Msg("push skipped")
			continue
		}
		if err := b.Add(ctx, ev); err != nil {
			return len(pushes), err
		}
		sum.Pushes++
		s.progress(ctx, "pushes", i+1, len(pushes))
	}
	return len(pushes), nil
}

func (s *Service) migrateDeployments(ctx context.Context, projectID int64, b *sink.Batcher, sum *domain.Summary) (int, error) {
	log := logger.C(ctx)

	var listed []domain.Deployment
	if err := s.withRetry(ctx, "list deployments", func(ctx context.Context) error {
		var err error
		listed, err = s.Host.Deployments(ctx, projectID)
		return err
	}); err != nil {
		return 0, err
	}

	deps := make([]domain.Deployment, 0, len(listed))
	for _, d := range listed {
		if len(s.Cfg.Environments) > 0 && !slices.Contains(s.Cfg.Environments, d.Environment.Name) {
			continue
		}
		// records without a time are kept so the transformer rejects them loudly
		if d.Deployable != nil {
			if at, ok := d.Deployable.Time(); ok && !s.Cfg.Window.Contains(at) {
				continue
			}
		}
		deps = append(deps, d)
	}
	log.Info().Int("listed", len(listed)).Int("deployments", len(deps)).Msg("deployments selected")

	for i, d := range deps {
		if err := ctx.Err(); err != nil {
			return len(deps), err
		}
		if s.Cfg.SkipExisting {
			exists, err := s.Sink.Exists(ctx, events.TypeDeployment, strconv.FormatInt(d.ID, 10))
			if err != nil {
				return len(deps), err
			}
			if exists {
				sum.Skipped++
				log.Debug().Int64("deployment_id", d.ID).Msg("deployment already in sink")
				continue
			}
		}
		ev, err := s.Xform.TransformDeployment(ctx, d)
		if err != nil {
			if perr.IsFatal(err) {
				return len(deps), err
			}
			sum.Skipped++
			log.Warn().Err(err).Int64("deployment_id", d.ID).Msg("deployment skipped")
			continue
		}
		if err := b.Add(ctx, ev); err != nil {
			return len(deps), err
		}
		sum.Deployments++
		s.progress(ctx, "deployments", i+1, len(deps))
	}
	return len(deps), nil
}

// withRetry runs fn with exponential backoff and jitter while the error is transient
func (s *Service) withRetry(ctx context.Context, what string, fn func(context.Context) error) error {
	attempts := max(s.Cfg.MaxRetries, 1)
	base := s.Cfg.RetryBase
	if base <= 0 {
		base = 500 * time.Millisecond
	}

	var last error
	for i := range attempts {
		fctx, cancel := s.Cfg.Timeouts.ForFetch(ctx)
		err := fn(fctx)
		cancel()
		if err == nil {
			return nil
		}
		last = err
		if !perr.Retryable(err) || i == attempts-1 {
			break
		}

		d := min(base<<i, 30*time.Second)
		j := d/2 + rand.N(d/2+1)
		logger.C(ctx).Warn().Err(err).Str("op", what).Int("attempt", i+1).Dur("backoff", j).Msg("retrying")
		if se := sleepCtx(ctx, j); se != nil {
			return se
		}
	}
	return last
}

func (s *Service) ledgerEnabled() bool { return s.DB != nil && s.Binder != nil }

// ledger runs fn against the ledger in a DB bounded transaction; a no-op when disabled
func (s *Service) ledger(ctx context.Context, fn func(domain.LedgerRepo) error) error {
	if !s.ledgerEnabled() {
		return nil
	}
	dctx, cancel := s.Cfg.Timeouts.ForDB(ctx)
	defer cancel()
	return repokit.WithTx(dctx, s.DB, s.Binder, fn)
}

func (s *Service) done(ctx context.Context, projectID int64) (bool, error) {
	var done bool
	err := s.ledger(ctx, func(r domain.LedgerRepo) error {
		var err error
		done, err = r.Done(ctx, projectID)
		return err
	})
	return done, err
}

// withRunID tags ctx with a fresh run id unless the caller already did
func withRunID(ctx context.Context) context.Context {
	if logger.RunID(ctx) != "" {
		return ctx
	}
	return logger.WithRun(ctx, uuid.NewString())
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
