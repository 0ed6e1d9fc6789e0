package version

import (
	"testing"

	"fourkeys/internal/platform/testkit"
)

func TestInfoDefaults(t *testing.T) {
	bi := Info()
	if bi.Service != Service || bi.Version != "dev" || bi.Commit != "none" {
		t.Fatalf("unexpected build info %+v", bi)
	}
}

func TestUserAgentStamped(t *testing.T) {
	testkit.Swap(t, &version, "v1.4.0")
	testkit.Swap(t, &commit, "abc123")
	if got := UserAgent(); got != "fourkeys-migrate/v1.4.0 (+abc123)" {
		t.Fatalf("user agent = %q", got)
	}
	if Info().Version != "v1.4.0" {
		t.Fatalf("Info should see the stamped version")
	}
}
