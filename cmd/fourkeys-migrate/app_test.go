package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	perr "fourkeys/internal/platform/errors"
	migratemod "fourkeys/internal/services/migrate/module"
)

func TestParseBound(t *testing.T) {
	cases := []struct {
		in   string
		want time.Time
	}{
		{"2022-01-01T00:00:00.000Z", time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"2022-11-25T14:36:42Z", time.Date(2022, 11, 25, 14, 36, 42, 0, time.UTC)},
		{"2022-11-25T16:36:42+02:00", time.Date(2022, 11, 25, 14, 36, 42, 0, time.UTC)},
		{" 2022-03-04 ", time.Date(2022, 3, 4, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		got, err := parseBound(tc.in)
		require.NoError(t, err, tc.in)
		assert.True(t, got.Equal(tc.want), "%s -> %v", tc.in, got)
		assert.Equal(t, time.UTC, got.Location())
	}

	_, err := parseBound("last tuesday")
	assert.True(t, perr.IsCode(err, perr.ErrorCodeInvalidArgument))
}

func TestAppCommands(t *testing.T) {
	app := App()
	names := map[string]bool{}
	for _, c := range app.Commands {
		names[c.Name] = true
	}
	assert.Equal(t, map[string]bool{"project": true, "all": true, "incidents": true}, names)
}

func TestOverridesApplyOnlySetFlags(t *testing.T) {
	var got migratemod.Options
	app := App()
	app.Commands = nil
	app.Action = func(c *cli.Context) error {
		tweak, err := overrides(c)
		if err != nil {
			return err
		}
		got = migratemod.Options{Workers: 1, BatchSize: 50}
		tweak(&got)
		return nil
	}
	err := app.Run([]string{appName, "--min-date", "2022-01-01", "--workers", "4", "--env", "upp-prod", "--exclude", "1657"})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC), got.Window.Min)
	assert.True(t, got.Window.Max.IsZero())
	assert.Equal(t, 4, got.Workers)
	assert.Equal(t, 50, got.BatchSize)
	assert.Equal(t, []string{"upp-prod"}, got.Environments)
	assert.Equal(t, []int64{1657}, got.Exclude)
}

func TestOverridesRejectBadDate(t *testing.T) {
	app := App()
	app.Commands = nil
	app.Action = func(c *cli.Context) error {
		_, err := overrides(c)
		return err
	}
	err := app.Run([]string{appName, "--max-date", "soon"})
	assert.True(t, perr.IsCode(err, perr.ErrorCodeInvalidArgument))
}
