package repokit

import (
	"context"
	"errors"
	"strings"
	"testing"

	"fourkeys/internal/platform/store"
)

type recQ struct{ stmts []string }

func (r *recQ) Exec(_ context.Context, sql string, _ ...any) (store.CommandTag, error) {
	r.stmts = append(r.stmts, sql)
	return nil, nil
}
func (r *recQ) Query(context.Context, string, ...any) (store.Rows, error) { return nil, nil }
func (r *recQ) QueryRow(context.Context, string, ...any) store.Row       { return nil }

type fakeTx struct {
	recQ
	calls int
}

func (f *fakeTx) Tx(_ context.Context, fn func(Queryer) error) error {
	f.calls++
	return fn(&f.recQ)
}

type guardFunc func(context.Context) error

func (g guardFunc) Guard(ctx context.Context) error { return g(ctx) }

func mustPanic(t *testing.T, want string, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected panic")
		}
		msg := ""
		switch x := r.(type) {
		case string:
			msg = x
		case error:
			msg = x.Error()
		}
		if !strings.Contains(msg, want) {
			t.Fatalf("panic %q does not contain %q", msg, want)
		}
	}()
	fn()
}

func TestMustBind(t *testing.T) {
	b := BindFunc[int](func(Queryer) int { return 42 })
	if got := MustBind[int](b, &recQ{}); got != 42 {
		t.Fatalf("MustBind = %d", got)
	}
	mustPanic(t, "nil Queryer", func() { _ = MustBind[int](b, nil) })
}

func TestWithTx_BindsInsideTx(t *testing.T) {
	tx := &fakeTx{}
	b := BindFunc[*recQ](func(q Queryer) *recQ { return q.(*recQ) })
	err := WithTx(context.Background(), tx, b, func(r *recQ) error {
		_, _ = r.Exec(context.Background(), "UPDATE migrated_projects SET status = 'done'")
		return nil
	})
	if err != nil || tx.calls != 1 || len(tx.stmts) != 1 {
		t.Fatalf("WithTx err=%v calls=%d stmts=%v", err, tx.calls, tx.stmts)
	}

	boom := errors.New("boom")
	if err := WithTx(context.Background(), tx, b, func(*recQ) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("fn error not propagated: %v", err)
	}
}

func TestWithBeginHooks_RunsBeforeFn(t *testing.T) {
	tx := &fakeTx{}
	if got := WithBeginHooks(tx); got != TxRunner(tx) {
		t.Fatalf("no hooks should return inner runner")
	}
	hooked := WithBeginHooks(tx, SetLocal("lock_timeout", "'5s'"))
	err := hooked.Tx(context.Background(), func(q Queryer) error {
		_, err := q.Exec(context.Background(), "SELECT 1")
		return err
	})
	if err != nil {
		t.Fatalf("Tx: %v", err)
	}
	want := []string{"SET LOCAL lock_timeout = '5s'", "SELECT 1"}
	if len(tx.stmts) != 2 || tx.stmts[0] != want[0] || tx.stmts[1] != want[1] {
		t.Fatalf("stmts = %v, want %v", tx.stmts, want)
	}
}

func TestWithBeginHooks_HookErrorAborts(t *testing.T) {
	tx := &fakeTx{}
	boom := errors.New("hook failed")
	ran := false
	err := WithBeginHooks(tx, func(context.Context, Queryer) error { return boom }).Tx(context.Background(), func(Queryer) error {
		ran = true
		return nil
	})
	if !errors.Is(err, boom) || ran {
		t.Fatalf("hook error should abort: err=%v ran=%v", err, ran)
	}
}

func TestMustGuard(t *testing.T) {
	var sawDeadline bool
	MustGuard(context.Background(), guardFunc(func(ctx context.Context) error {
		_, sawDeadline = ctx.Deadline()
		return nil
	}))
	if !sawDeadline {
		t.Fatalf("MustGuard should add a default deadline")
	}
	mustPanic(t, "dependency guard failed: pg: down", func() {
		MustGuard(context.Background(), guardFunc(func(context.Context) error { return errors.New("pg: down") }))
	})
}
