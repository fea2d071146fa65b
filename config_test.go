package parallelize

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

// resetDefaultBatchSize restores the unset process-wide default now and after
// the test
func resetDefaultBatchSize(t *testing.T) {
	t.Helper()
	reset := func() {
		defaultBatchSize.mu.Lock()
		defer defaultBatchSize.mu.Unlock()
		defaultBatchSize.size = FallbackBatchSize
		defaultBatchSize.set = false
	}
	reset()
	t.Cleanup(reset)
}

func TestDefaultBatchSizeSetOnce(t *testing.T) {
	resetDefaultBatchSize(t)
	require.Equal(t, FallbackBatchSize, DefaultBatchSize())

	require.ErrorIs(t, SetDefaultBatchSize(0), ErrInvalidConfiguration)
	require.Equal(t, FallbackBatchSize, DefaultBatchSize())

	require.NoError(t, SetDefaultBatchSize(25))
	require.Equal(t, 25, DefaultBatchSize())

	require.ErrorIs(t, SetDefaultBatchSize(3), ErrDefaultBatchSizeSet)
	require.Equal(t, 25, DefaultBatchSize())
}

func TestDecodeConfig(t *testing.T) {
	cfg, err := DecodeConfig(strings.NewReader(`
batch_size = 4
log_level = "debug"
rollback_parallelism = 2

[pool]
size = 8
max_blocking_tasks = 16
`))
	require.NoError(t, err)
	require.Equal(t, Config{
		BatchSize:           4,
		LogLevel:            zapcore.DebugLevel,
		RollbackParallelism: 2,
		Pool:                PoolConfig{Size: 8, MaxBlockingTasks: 16},
	}, cfg)
}

func TestDecodeConfigDefaults(t *testing.T) {
	resetDefaultBatchSize(t)
	cfg, err := DecodeConfig(strings.NewReader(""))
	require.NoError(t, err)
	require.Equal(t, FallbackBatchSize, cfg.BatchSize)
	require.Equal(t, 1, cfg.RollbackParallelism)
	require.Equal(t, zapcore.InfoLevel, cfg.LogLevel)
	require.Zero(t, cfg.Pool.Size)
}

func TestDecodeConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{name: "negative batch size", input: "batch_size = -1", wantErr: "batch_size must be positive"},
		{name: "negative parallelism", input: "rollback_parallelism = -2", wantErr: "rollback_parallelism must be positive"},
		{name: "negative pool", input: "[pool]\nsize = -1", wantErr: "pool.size must not be negative"},
		{name: "negative blocking cap", input: "[pool]\nsize = 2\nmax_blocking_tasks = -1", wantErr: "pool.max_blocking_tasks must not be negative"},
		{name: "unknown key", input: "batchsize = 3", wantErr: "unknown config keys: batchsize"},
		{name: "removed nonblocking mode", input: "[pool]\nsize = 2\nnonblocking = true", wantErr: "unknown config keys: pool.nonblocking"},
		{name: "bad level", input: `log_level = "loud"`, wantErr: "failed to decode config"},
		{name: "not toml", input: "batch_size = = 3", wantErr: "failed to decode config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeConfig(strings.NewReader(tt.input))
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parallelize.toml")
	require.NoError(t, os.WriteFile(path, []byte("batch_size = 3\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 3, cfg.BatchSize)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.ErrorContains(t, err, "failed to open config")
}

func TestConfigOptions(t *testing.T) {
	cfg := Config{BatchSize: 3, RollbackParallelism: 2}
	opts, release, err := cfg.Options()
	require.NoError(t, err)
	defer release()

	r := New(nil, opts...)
	require.Equal(t, 3, r.batchSize)
	require.True(t, r.hasBatchSize)
	require.Equal(t, 2, r.rollbackLimit)
	require.IsType(t, GoLauncher{}, r.launcher)

	cfg.Pool = PoolConfig{Size: 4, MaxBlockingTasks: 1}
	opts, release, err = cfg.Options()
	require.NoError(t, err)
	defer release()
	require.IsType(t, &PoolLauncher{}, New(nil, opts...).launcher)
}
