package parallelize

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap/zapcore"
)

// FallbackBatchSize is the default batch size until SetDefaultBatchSize is
// called
const FallbackBatchSize = 10

var defaultBatchSize = struct {
	mu   sync.Mutex
	size int
	set  bool
}{size: FallbackBatchSize}

// DefaultBatchSize returns the process-wide batch size used by runners that
// were not given one explicitly. It is read once at the start of every run.
func DefaultBatchSize() int {
	defaultBatchSize.mu.Lock()
	defer defaultBatchSize.mu.Unlock()

	return defaultBatchSize.size
}

// SetDefaultBatchSize sets the process-wide default batch size. It succeeds
// at most once per process, typically during start-up; later calls return
// ErrDefaultBatchSizeSet and leave the value unchanged. Runs in progress are
// not affected.
func SetDefaultBatchSize(size int) error {
	if size < 1 {
		return fmt.Errorf("%w: default batch size must be positive, got %d", ErrInvalidConfiguration, size)
	}

	defaultBatchSize.mu.Lock()
	defer defaultBatchSize.mu.Unlock()

	if defaultBatchSize.set {
		return ErrDefaultBatchSizeSet
	}
	defaultBatchSize.size = size
	defaultBatchSize.set = true
	return nil
}

// Config is the file form of runner settings
type Config struct {
	// BatchSize of 0 means DefaultBatchSize
	BatchSize int           `toml:"batch_size"`
	LogLevel  zapcore.Level `toml:"log_level"`
	// RollbackParallelism is the number of worker rollbacks run at once
	RollbackParallelism int        `toml:"rollback_parallelism"`
	Pool                PoolConfig `toml:"pool"`
}

// PoolConfig selects a bounded worker pool. Size 0 means one goroutine per
// unit without a pool. MaxBlockingTasks caps the launches waiting for a free
// slot before a launch fails; 0 means no cap.
type PoolConfig struct {
	Size             int `toml:"size"`
	MaxBlockingTasks int `toml:"max_blocking_tasks"`
}

// SetDefaults fills in zero values
func (c *Config) SetDefaults() {
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize()
	}
	if c.RollbackParallelism == 0 {
		c.RollbackParallelism = 1
	}
}

// Validate checks every setting is in range
func (c *Config) Validate() error {
	if c.BatchSize < 1 {
		return fmt.Errorf("%w: batch_size must be positive, got %d", ErrInvalidConfiguration, c.BatchSize)
	}
	if c.RollbackParallelism < 1 {
		return fmt.Errorf("%w: rollback_parallelism must be positive, got %d", ErrInvalidConfiguration, c.RollbackParallelism)
	}
	if c.Pool.Size < 0 {
		return fmt.Errorf("%w: pool.size must not be negative, got %d", ErrInvalidConfiguration, c.Pool.Size)
	}
	if c.Pool.MaxBlockingTasks < 0 {
		return fmt.Errorf("%w: pool.max_blocking_tasks must not be negative, got %d", ErrInvalidConfiguration, c.Pool.MaxBlockingTasks)
	}
	return nil
}

// DecodeConfig reads a TOML config from r, applies defaults and validates it.
// Unknown keys are an error.
func DecodeConfig(r io.Reader) (Config, error) {
	var cfg Config
	md, err := toml.NewDecoder(r).Decode(&cfg)
	if err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads the TOML config file at path
func LoadConfig(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to open config %s: %w", path, err)
	}
	defer f.Close()

	cfg, err := DecodeConfig(f)
	if err != nil {
		return Config{}, fmt.Errorf("failed to load config %s: %w", path, err)
	}
	return cfg, nil
}

// Options turns the config into runner options. The returned release function
// frees the worker pool, if one was configured, and must be called once the
// runner is no longer used.
func (c Config) Options() ([]Option, func(), error) {
	opts := []Option{
		WithBatchSize(c.BatchSize),
		WithParallelRollback(c.RollbackParallelism),
	}
	if c.Pool.Size == 0 {
		return opts, func() {}, nil
	}
	pool, err := NewPoolLauncher(c.Pool.Size, c.Pool.MaxBlockingTasks)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create worker pool: %w", err)
	}
	return append(opts, WithLauncher(pool)), pool.Release, nil
}
