package service

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"fourkeys/internal/adapters/ingest/gitlab"
	"fourkeys/internal/core/events"
	"fourkeys/internal/modkit/repokit"
	perr "fourkeys/internal/platform/errors"
	"fourkeys/internal/platform/store"
	"fourkeys/internal/services/migrate/domain"
	"fourkeys/internal/services/migrate/guardrails"
)

var (
	minDate = time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	maxDate = time.Date(2022, 11, 25, 14, 36, 42, 0, time.UTC)
	inside  = time.Date(2022, 6, 1, 9, 0, 0, 0, time.UTC)
)

type hostMock struct{ mock.Mock }

func (h *hostMock) Project(ctx context.Context, id int64) (domain.Project, error) {
	args := h.Called(ctx, id)
	return args.Get(0).(domain.Project), args.Error(1)
}

func (h *hostMock) ProjectEvents(ctx context.Context, projectID int64, q domain.EventsQuery) ([]domain.PushEvent, error) {
	args := h.Called(ctx, projectID, q)
	evs, _ := args.Get(0).([]domain.PushEvent)
	return evs, args.Error(1)
}

func (h *hostMock) Deployments(ctx context.Context, projectID int64) ([]domain.Deployment, error) {
	args := h.Called(ctx, projectID)
	ds, _ := args.Get(0).([]domain.Deployment)
	return ds, args.Error(1)
}

// fakeXform builds minimal events and fails the ids listed in errs
type fakeXform struct {
	errs map[string]error
}

func (x fakeXform) event(t events.EventType, id string) (domain.CanonicalEvent, error) {
	if err := x.errs[id]; err != nil {
		return domain.CanonicalEvent{}, err
	}
	return domain.CanonicalEvent{EventType: t, ID: id, Metadata: "{}", TimeCreated: inside, Signature: events.Sign([]byte(id))}, nil
}

func (x fakeXform) TransformPush(_ context.Context, _ domain.Project, e domain.PushEvent) (domain.CanonicalEvent, error) {
	return x.event(events.TypePush, e.PushData.CommitTo)
}

func (x fakeXform) TransformDeployment(_ context.Context, d domain.Deployment) (domain.CanonicalEvent, error) {
	return x.event(events.TypeDeployment, strconv.FormatInt(d.ID, 10))
}

func (x fakeXform) TransformIncident(i domain.Incident) (domain.CanonicalEvent, error) {
	return x.event(events.TypeIssue, fmt.Sprintf("issue_%d", i.ID))
}

// recSink records every insert call
type recSink struct {
	mu        sync.Mutex
	batches   [][]string
	reject    map[string]bool
	existing  map[string]bool
	insertErr error
}

func (s *recSink) Insert(_ context.Context, evs ...domain.CanonicalEvent) (domain.InsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return domain.InsertResult{}, s.insertErr
	}
	var res domain.InsertResult
	ids := make([]string, 0, len(evs))
	for i, e := range evs {
		ids = append(ids, e.ID)
		if s.reject[e.ID] {
			res.Rejected = append(res.Rejected, domain.RowError{Index: i, Key: e.Key(), Err: "rejected"})
			continue
		}
		res.Sent++
	}
	s.batches = append(s.batches, ids)
	return res, nil
}

func (s *recSink) Exists(_ context.Context, t events.EventType, id string) (bool, error) {
	return s.existing[string(t)+"/"+id], nil
}

func (s *recSink) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

// memLedger is an in-memory ledger
type memLedger struct {
	mu      sync.Mutex
	started map[int64]string
	fin     map[int64]domain.ProjectFinish
}

func newMemLedger() *memLedger {
	return &memLedger{started: map[int64]string{}, fin: map[int64]domain.ProjectFinish{}}
}

func (l *memLedger) StartProject(_ context.Context, id int64, runID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.started[id] = runID
	return nil
}

func (l *memLedger) FinishProject(_ context.Context, id int64, f domain.ProjectFinish) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fin[id] = f
	return nil
}

func (l *memLedger) Done(_ context.Context, id int64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fin[id].Status == domain.StatusOK, nil
}

func (l *memLedger) ListDone(context.Context) ([]int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var ids []int64
	for id, f := range l.fin {
		if f.Status == domain.StatusOK {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (l *memLedger) Get(_ context.Context, id int64) (domain.ProjectRun, error) {
	return domain.ProjectRun{ProjectID: id}, nil
}

type fakeTx struct{ store.RowQuerier }

func (f *fakeTx) Tx(_ context.Context, fn func(store.RowQuerier) error) error { return fn(f) }

func ledgerBinder(l *memLedger) repokit.Binder[domain.LedgerRepo] {
	return repokit.BindFunc[domain.LedgerRepo](func(repokit.Queryer) domain.LedgerRepo { return l })
}

func push(id int64, sha string, at time.Time) domain.PushEvent {
	return domain.PushEvent{ID: id, CreatedAt: at, PushData: &gitlab.PushData{Action: "pushed", CommitTo: sha, Ref: "main"}}
}

func deployment(id int64, env string, at time.Time) domain.Deployment {
	return domain.Deployment{
		ID:          id,
		Environment: gitlab.Environment{Name: env, Slug: env},
		Deployable:  &gitlab.Deployable{ID: id * 10, Status: "success", FinishedAt: &at},
	}
}

func baseCfg() Config {
	return Config{Window: domain.Window{Min: minDate, Max: maxDate}, MaxRetries: 1}
}

func hostFor(id int64, pushes []domain.PushEvent, deps []domain.Deployment) *hostMock {
	h := &hostMock{}
	h.On("Project", mock.Anything, id).Return(domain.Project{ID: id, PathWithNamespace: "lulu/api"}, nil)
	h.On("ProjectEvents", mock.Anything, id, mock.Anything).Return(pushes, nil)
	h.On("Deployments", mock.Anything, id).Return(deps, nil)
	return h
}

func TestRunProject_FiltersAndInserts(t *testing.T) {
	pushes := []domain.PushEvent{
		push(1, "a", inside),
		// both bounds are inclusive
		push(2, "b", minDate),
		push(3, "c", maxDate),
		push(4, "old", minDate.Add(-time.Second)),
		push(5, "late", maxDate.Add(time.Millisecond)),
		{ID: 6, CreatedAt: inside, PushData: &gitlab.PushData{Action: "removed", CommitTo: "gone"}},
		{ID: 7, CreatedAt: inside},
	}
	deps := []domain.Deployment{
		deployment(100, "upp-prod", inside),
		deployment(101, "staging", inside),
		deployment(102, "upp-prod", maxDate.AddDate(0, 1, 0)),
	}
	h := hostFor(9, pushes, deps)
	sk := &recSink{}
	led := newMemLedger()
	cfg := baseCfg()
	cfg.Environments = []string{"upp-prod"}

	svc := New(h, fakeXform{}, sk, cfg, &fakeTx{}, ledgerBinder(led), nil)
	sum, err := svc.RunProject(context.Background(), 9)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c", "100"}, sk.all())
	assert.Len(t, sk.batches, 1, "everything fits one batch")
	assert.Equal(t, domain.Summary{Projects: 1, Pushes: 3, Deployments: 1}, sum)

	require.Contains(t, led.started, int64(9))
	assert.NotEmpty(t, led.started[9], "run id recorded")
	fin := led.fin[9]
	assert.Equal(t, domain.StatusOK, fin.Status)
	assert.Equal(t, 4, fin.Found)
	assert.Equal(t, 3, fin.Pushes)
	assert.Equal(t, 1, fin.Deployments)
	h.AssertExpectations(t)
}

func TestRunProject_EventsQueryPadsWindowByADay(t *testing.T) {
	h := &hostMock{}
	h.On("Project", mock.Anything, int64(1)).Return(domain.Project{ID: 1}, nil)
	h.On("ProjectEvents", mock.Anything, int64(1), domain.EventsQuery{
		Action: "pushed",
		After:  minDate.AddDate(0, 0, -1),
		Before: maxDate.AddDate(0, 0, 1),
	}).Return(nil, nil).Once()
	h.On("Deployments", mock.Anything, int64(1)).Return(nil, nil)

	_, err := New(h, fakeXform{}, &recSink{}, baseCfg(), nil, nil, nil).RunProject(context.Background(), 1)
	require.NoError(t, err)
	h.AssertExpectations(t)
}

func TestRunProject_SkipsInvalidRecords(t *testing.T) {
	h := hostFor(2, []domain.PushEvent{push(1, "a", inside), push(2, "bad", inside), push(3, "c", inside)},
		[]domain.Deployment{deployment(7, "prod", inside)})
	sk := &recSink{}
	xf := fakeXform{errs: map[string]error{
		"bad": perr.Validationf("missing field"),
		"7":   perr.NotFoundf("project"),
	}}

	sum, err := New(h, xf, sk, baseCfg(), nil, nil, nil).RunProject(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, sk.all())
	assert.Equal(t, 2, sum.Skipped)
	assert.Equal(t, 2, sum.Pushes)
	assert.Zero(t, sum.Deployments)
}

func TestRunProject_FatalAbortsAndRecordsError(t *testing.T) {
	h := hostFor(3, []domain.PushEvent{push(1, "a", inside), push(2, "boom", inside), push(3, "c", inside)}, nil)
	sk := &recSink{}
	led := newMemLedger()
	xf := fakeXform{errs: map[string]error{"boom": perr.Unauthorizedf("token revoked")}}

	sum, err := New(h, xf, sk, baseCfg(), &fakeTx{}, ledgerBinder(led), nil).RunProject(context.Background(), 3)
	require.Error(t, err)
	assert.True(t, perr.IsCode(err, perr.ErrorCodeUnauthorized))
	assert.Equal(t, 1, sum.Failed)

	// events built before the failure are still shipped
	assert.Equal(t, []string{"a"}, sk.all())
	assert.Equal(t, domain.StatusError, led.fin[3].Status)
	assert.Contains(t, led.fin[3].ErrText, "token revoked")
	h.AssertNotCalled(t, "Deployments", mock.Anything, int64(3))
}

func TestRunProject_BatchesEveryN(t *testing.T) {
	var pushes []domain.PushEvent
	for i := range 5 {
		pushes = append(pushes, push(int64(i), fmt.Sprintf("s%d", i), inside))
	}
	sk := &recSink{}
	cfg := baseCfg()
	cfg.BatchSize = 2

	_, err := New(hostFor(4, pushes, nil), fakeXform{}, sk, cfg, nil, nil, nil).RunProject(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"s0", "s1"}, {"s2", "s3"}, {"s4"}}, sk.batches)
}

func TestRunProject_RejectedRowsCounted(t *testing.T) {
	sk := &recSink{reject: map[string]bool{"b": true}}
	sum, err := New(hostFor(5, []domain.PushEvent{push(1, "a", inside), push(2, "b", inside)}, nil),
		fakeXform{}, sk, baseCfg(), nil, nil, nil).RunProject(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Rejected)
	assert.Equal(t, 2, sum.Pushes)
}

func TestRunProject_SinkFailureIsFatal(t *testing.T) {
	sk := &recSink{insertErr: perr.Sinkf("clickhouse down")}
	_, err := New(hostFor(6, []domain.PushEvent{push(1, "a", inside)}, nil),
		fakeXform{}, sk, baseCfg(), nil, nil, nil).RunProject(context.Background(), 6)
	assert.True(t, perr.IsCode(err, perr.ErrorCodeSink))
}

func TestRunProject_SkipExistingDeployments(t *testing.T) {
	sk := &recSink{existing: map[string]bool{"deployment/100": true}}
	cfg := baseCfg()
	cfg.SkipExisting = true
	deps := []domain.Deployment{deployment(100, "prod", inside), deployment(101, "prod", inside)}

	sum, err := New(hostFor(7, nil, deps), fakeXform{}, sk, cfg, nil, nil, nil).RunProject(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, []string{"101"}, sk.all())
	assert.Equal(t, 1, sum.Skipped)
}

func TestRunProject_DeploymentWithoutTimeReachesTransformer(t *testing.T) {
	d := domain.Deployment{ID: 55, Environment: gitlab.Environment{Name: "prod"}}
	sk := &recSink{}
	xf := fakeXform{errs: map[string]error{"55": perr.Validationf("deployment has no deployable")}}
	sum, err := New(hostFor(8, nil, []domain.Deployment{d}), xf, sk, baseCfg(), nil, nil, nil).RunProject(context.Background(), 8)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Skipped)
	assert.Empty(t, sk.all())
}

func TestRunProject_RetriesTransientListing(t *testing.T) {
	h := &hostMock{}
	h.On("Project", mock.Anything, int64(1)).Return(domain.Project{ID: 1}, nil)
	h.On("ProjectEvents", mock.Anything, int64(1), mock.Anything).Return(nil, perr.Unavailablef("502")).Once()
	h.On("ProjectEvents", mock.Anything, int64(1), mock.Anything).Return([]domain.PushEvent{push(1, "a", inside)}, nil).Once()
	h.On("Deployments", mock.Anything, int64(1)).Return(nil, nil)
	cfg := baseCfg()
	cfg.MaxRetries = 3
	cfg.RetryBase = time.Millisecond

	sk := &recSink{}
	_, err := New(h, fakeXform{}, sk, cfg, nil, nil, nil).RunProject(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, sk.all())
	h.AssertNumberOfCalls(t, "ProjectEvents", 2)
}

func TestRunProject_NotFoundIsNotRetried(t *testing.T) {
	h := &hostMock{}
	h.On("Project", mock.Anything, int64(1)).Return(domain.Project{}, perr.NotFoundf("project 1"))
	cfg := baseCfg()
	cfg.MaxRetries = 5
	_, err := New(h, fakeXform{}, &recSink{}, cfg, nil, nil, nil).RunProject(context.Background(), 1)
	require.Error(t, err)
	h.AssertNumberOfCalls(t, "Project", 1)
}

func TestRunProject_SkipDone(t *testing.T) {
	led := newMemLedger()
	led.fin[1] = domain.ProjectFinish{Status: domain.StatusOK}
	h := &hostMock{}
	cfg := baseCfg()
	cfg.SkipDone = true

	sum, err := New(h, fakeXform{}, &recSink{}, cfg, &fakeTx{}, ledgerBinder(led), nil).RunProject(context.Background(), 1)
	require.NoError(t, err)
	assert.Zero(t, sum)
	h.AssertNotCalled(t, "Project", mock.Anything, mock.Anything)
}

func TestRunProject_LeaseHeldIsCleanSkip(t *testing.T) {
	h := &hostMock{}
	cfg := baseCfg()
	cfg.EnableLeases = true
	lease := func(context.Context, int64, func(context.Context) error) error { return guardrails.ErrLeaseHeld }

	sum, err := New(h, fakeXform{}, &recSink{}, cfg, nil, nil, lease).RunProject(context.Background(), 1)
	require.NoError(t, err)
	assert.Zero(t, sum)
	h.AssertNotCalled(t, "Project", mock.Anything, mock.Anything)
}

func TestRunAll(t *testing.T) {
	h := &hostMock{}
	for _, id := range []int64{1, 2, 4} {
		h.On("Project", mock.Anything, id).Return(domain.Project{ID: id}, nil)
		h.On("ProjectEvents", mock.Anything, id, mock.Anything).Return([]domain.PushEvent{push(id, fmt.Sprintf("p%d", id), inside)}, nil)
		h.On("Deployments", mock.Anything, id).Return(nil, nil)
	}
	h.On("Project", mock.Anything, int64(5)).Return(domain.Project{}, perr.NotFoundf("project 5"))

	led := newMemLedger()
	led.fin[2] = domain.ProjectFinish{Status: domain.StatusOK}
	cfg := baseCfg()
	cfg.Exclude = []int64{3}
	cfg.SkipDone = true
	cfg.Workers = 2
	sk := &recSink{}

	refs := []domain.ProjectRef{{ID: 1, Name: "a"}, {ID: 2, Name: "b"}, {ID: 3, Name: "c"}, {ID: 4, Name: "d"}, {ID: 5, Name: "e"}}
	sum, err := New(h, fakeXform{}, sk, cfg, &fakeTx{}, ledgerBinder(led), nil).RunAll(context.Background(), refs)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"p1", "p4"}, sk.all())
	assert.Equal(t, 3, sum.Projects)
	assert.Equal(t, 2, sum.Pushes)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, domain.StatusError, led.fin[5].Status)
	h.AssertNotCalled(t, "Project", mock.Anything, int64(2))
	h.AssertNotCalled(t, "Project", mock.Anything, int64(3))
}

func TestRunAll_FatalStops(t *testing.T) {
	h := hostFor(1, []domain.PushEvent{push(1, "a", inside)}, nil)
	sk := &recSink{insertErr: perr.Sinkf("down")}
	_, err := New(h, fakeXform{}, sk, baseCfg(), nil, nil, nil).RunAll(context.Background(), []domain.ProjectRef{{ID: 1}, {ID: 2}})
	require.Error(t, err)
	h.AssertNotCalled(t, "Project", mock.Anything, int64(2))
}

func TestRunAll_ForbiddenProjectFailsAlone(t *testing.T) {
	h := hostFor(2, []domain.PushEvent{push(2, "b", inside)}, nil)
	h.On("Project", mock.Anything, int64(1)).Return(domain.Project{}, perr.Newf(perr.ErrorCodeForbidden, "gitlab status 403"))
	h.On("Project", mock.Anything, int64(3)).Return(domain.Project{}, perr.InvalidArgf("gitlab status 400"))
	sk := &recSink{}

	sum, err := New(h, fakeXform{}, sk, baseCfg(), nil, nil, nil).RunAll(context.Background(), []domain.ProjectRef{{ID: 1}, {ID: 2}, {ID: 3}})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, sk.all())
	assert.Equal(t, 2, sum.Failed)
}

func TestImportIncidents(t *testing.T) {
	sk := &recSink{}
	cfg := baseCfg()
	cfg.BatchSize = 2
	xf := fakeXform{errs: map[string]error{"issue_2": perr.Validationf("title required")}}
	incs := []domain.Incident{{ID: 1}, {ID: 2}, {ID: 3}, {ID: 4}}

	sum, err := New(&hostMock{}, xf, sk, cfg, nil, nil, nil).ImportIncidents(context.Background(), incs)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"issue_1", "issue_3"}, {"issue_4"}}, sk.batches)
	assert.Equal(t, 3, sum.Incidents)
	assert.Equal(t, 1, sum.Skipped)
}

func TestImportIncidents_Empty(t *testing.T) {
	sk := &recSink{}
	sum, err := New(&hostMock{}, fakeXform{}, sk, baseCfg(), nil, nil, nil).ImportIncidents(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, sum)
	assert.Empty(t, sk.batches)
}

func TestNewPanicsWithoutCollaborators(t *testing.T) {
	assert.Panics(t, func() { New(nil, fakeXform{}, &recSink{}, Config{}, nil, nil, nil) })
	assert.Panics(t, func() { New(&hostMock{}, fakeXform{}, &recSink{}, Config{}, &fakeTx{}, nil, nil) })
}
