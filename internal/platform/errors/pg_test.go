package errors

import (
	stderrs "errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func pgErr(code string) *pgconn.PgError { return &pgconn.PgError{Code: code} }

func TestDBErrorCode(t *testing.T) {
	cases := []struct {
		code string
		want ErrorCode
	}{
		{"23505", ErrorCodeDuplicateKey},
		{"23503", ErrorCodeInvalidArgument},
		{"23502", ErrorCodeValidation},
		{"23514", ErrorCodeValidation},
		{"25006", ErrorCodeUnavailable},
		{"57P03", ErrorCodeUnavailable},
		{"40001", ErrorCodeDB},
		{"XXXXX", ErrorCodeDB},
	}
	for _, c := range cases {
		got, ok := DBErrorCode(pgErr(c.code))
		if !ok || got != c.want {
			t.Fatalf("DBErrorCode(%s) = %v,%v want %v", c.code, got, ok, c.want)
		}
	}
	if _, ok := DBErrorCode(stderrs.New("plain")); ok {
		t.Fatalf("non pg error should not be ok")
	}
}

func TestFromPostgresf(t *testing.T) {
	if FromPostgresf(nil, "x") != nil {
		t.Fatalf("nil should stay nil")
	}
	err := FromPostgresf(pgErr("23505"), "start project %d", 9)
	if CodeOf(err) != ErrorCodeDuplicateKey {
		t.Fatalf("code = %v", CodeOf(err))
	}
	if !IsSQLState(err, "23505") {
		t.Fatalf("IsSQLState should see through wrap")
	}
	if CodeOf(FromPostgresf(stderrs.New("conn reset"), "x")) != ErrorCodeDB {
		t.Fatalf("foreign error should map to DB")
	}
}

func TestIsUndefinedTable(t *testing.T) {
	if !IsUndefinedTable(fmt.Errorf("ledger: %w", pgErr("42P01"))) {
		t.Fatalf("expected undefined table")
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{pgErr("40001"), true},
		{pgErr("40P01"), true},
		{pgErr("55P03"), true},
		{pgErr("23505"), false},
		{stderrs.New("commit unexpectedly resulted in rollback"), true},
		{stderrs.New("something else"), false},
	}
	for _, c := range cases {
		if got := IsRetryable(c.err); got != c.want {
			t.Fatalf("IsRetryable(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}
