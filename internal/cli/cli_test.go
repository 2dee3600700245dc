package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Clark-Hu/stars/internal/app"
	"github.com/Clark-Hu/stars/internal/config"
	"github.com/Clark-Hu/stars/internal/domain"
	"github.com/Clark-Hu/stars/internal/ledger"
	"github.com/Clark-Hu/stars/internal/logger"
)

func memoryConfig() config.Config {
	return config.Config{
		StorageDriver: config.DriverMemory,
		MinRate:       1,
		MaxRate:       5,
		DefaultSource: "cli",
		CacheBackend:  config.CacheMemory,
		RedisChannel:  "stars.events",
	}
}

// seeded opens one memory-backed app and hands it to every command run.
func seeded(t *testing.T) (*app.App, Opener) {
	t.Helper()
	a, err := app.Open(context.Background(), memoryConfig(), logger.Nop(), app.Options{})
	require.NoError(t, err)

	ctx := context.Background()
	post := domain.Ref{Kind: "post", ID: 1}
	alice := domain.Ref{Kind: "user", ID: 10}
	_, err = a.Ledger.Upsert(ctx, post, ledger.Input{Actor: alice, Rate: 5})
	require.NoError(t, err)
	_, err = a.Ledger.Upsert(ctx, post, ledger.Input{Device: "dev-1", Rate: 3})
	require.NoError(t, err)
	_, err = a.Ledger.Upsert(ctx, domain.Ref{Kind: "post", ID: 2}, ledger.Input{Actor: alice, Rate: 1})
	require.NoError(t, err)

	open := func(context.Context, config.Config, *logger.Logger, app.Options) (*app.App, error) {
		return a, nil
	}
	return a, open
}

func run(t *testing.T, open Opener, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand(func() (config.Config, error) { return memoryConfig(), nil }, open)
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "starctl", cmd.Use)

	for _, name := range []string{"migrate", "stats", "latest", "forget", "watch"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)
}

func TestInvalidFormat(t *testing.T) {
	_, open := seeded(t)
	_, _, err := run(t, open, "--format", "yaml", "stats", "--target", "post:1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestStatsJSON(t *testing.T) {
	_, open := seeded(t)
	out, _, err := run(t, open, "--format", "json", "stats", "--target", "post:1")
	require.NoError(t, err)

	var resp struct {
		Status string      `json:"status"`
		Data   statsResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.EqualValues(t, 2, resp.Data.Count)
	assert.InDelta(t, 4.0, resp.Data.Average, 1e-9)
	assert.EqualValues(t, 1, resp.Data.Summary[5])
	assert.EqualValues(t, 1, resp.Data.Summary[3])
}

func TestStatsText(t *testing.T) {
	_, open := seeded(t)
	out, _, err := run(t, open, "stats", "--actor", "user:10")
	require.NoError(t, err)
	assert.Contains(t, out, "count:   2")
	assert.Contains(t, out, "average: 3.00")
}

func TestStatsRequiresOneScope(t *testing.T) {
	_, open := seeded(t)

	_, _, err := run(t, open, "stats")
	require.Error(t, err)

	_, _, err = run(t, open, "stats", "--target", "post:1", "--device", "dev-1")
	require.Error(t, err)
}

func TestStatsBadReference(t *testing.T) {
	_, open := seeded(t)
	_, errOut, err := run(t, open, "stats", "--target", "post")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, errOut, "VALIDATION_ERROR")
}

func TestLatestLimit(t *testing.T) {
	_, open := seeded(t)
	out, _, err := run(t, open, "--format", "json", "latest", "--actor", "user:10", "--limit", "1")
	require.NoError(t, err)

	var resp struct {
		Data []domain.Rating `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "user", resp.Data[0].Actor.Kind)
}

func TestForgetDevice(t *testing.T) {
	a, open := seeded(t)
	out, _, err := run(t, open, "forget", "--device", "dev-1")
	require.NoError(t, err)
	assert.Contains(t, out, "removed 1 rating(s)")

	count, err := a.Ledger.Count(context.Background(), domain.TargetScope(domain.Ref{Kind: "post", ID: 1}))
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestMigrateMemory(t *testing.T) {
	_, open := seeded(t)
	out, _, err := run(t, open, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "memory schema is up to date")
}

func TestOpenFailureIsCommandError(t *testing.T) {
	open := func(context.Context, config.Config, *logger.Logger, app.Options) (*app.App, error) {
		return nil, errors.New("connection refused")
	}
	out, _, err := run(t, open, "--format", "json", "stats", "--device", "dev-1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, `"COMMAND_ERROR"`)
}

func TestWatchRequiresRedis(t *testing.T) {
	_, open := seeded(t)
	_, _, err := run(t, open, "watch")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("boom")))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad")))
}
