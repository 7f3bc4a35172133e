// Package test provides shared fixtures for integration-style tests:
// an isolated config file in a temp directory, a captured logger and
// helpers to execute CLI commands end to end.
package test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/goccy/go-yaml"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/policity/policity/internal/config"
	"github.com/policity/policity/internal/logger"
)

// Commands bind flags into the process-global viper, so setup is
// serialized and command tests must not run in parallel.
var setupLock sync.Mutex

// Options configures the Helper.
type Options struct {
	CaptureLoggingOutput bool
	ConfigMutators       []func(*config.Config)
}

// HelperOption defines functional options for Helper.
type HelperOption func(*Options)

// WithCaptureLoggingOutput redirects log output into Helper.LoggingOutput.
func WithCaptureLoggingOutput() HelperOption {
	return func(opts *Options) {
		opts.CaptureLoggingOutput = true
	}
}

// WithConfigMutator applies mutations to the config before it is written
// to the helper's config file.
func WithConfigMutator(mutator func(*config.Config)) HelperOption {
	return func(opts *Options) {
		opts.ConfigMutators = append(opts.ConfigMutators, mutator)
	}
}

// Helper is the shared fixture handed to tests.
type Helper struct {
	Context context.Context
	Cancel  context.CancelFunc
	Config  *config.Config

	// LoggingOutput holds everything logged through Context when capture
	// is enabled.
	LoggingOutput *SyncBuffer

	tmpDir string
}

// Setup creates an isolated Helper: a temp home with a config file that
// stores runs in a SQLite file under it, quiet logging and no model
// credentials so steps fall back to canned data.
func Setup(t *testing.T, opts ...HelperOption) Helper {
	t.Helper()

	setupLock.Lock()
	defer setupLock.Unlock()

	var options Options
	for _, opt := range opts {
		opt(&options)
	}

	// Commands resolve flags through the global viper; leftover state
	// from a previous test must not leak in.
	viper.Reset()
	t.Setenv("TZ", "UTC")

	tmpDir := t.TempDir()

	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.Store.Driver = config.StoreSQLite
	cfg.Store.DSN = filepath.Join(tmpDir, "policity.db")
	cfg.FactCache.Dir = filepath.Join(tmpDir, "factcache")
	cfg.Retention.Days = -1
	cfg.Logging.Quiet = true
	for _, mutate := range options.ConfigMutators {
		mutate(cfg)
	}

	configFile := filepath.Join(tmpDir, "config.yaml")
	writeConfigFile(t, cfg, configFile)
	cfg.ConfigFileUsed = configFile

	ctx, cancel := context.WithCancel(context.Background())
	helper := Helper{
		Context: ctx,
		Cancel:  cancel,
		Config:  cfg,
		tmpDir:  tmpDir,
	}

	if options.CaptureLoggingOutput {
		helper.LoggingOutput = &SyncBuffer{buf: new(bytes.Buffer)}
		loggerInstance := logger.NewLogger(
			logger.WithDebug(),
			logger.WithFormat("text"),
			logger.WithQuiet(),
			logger.WithWriter(helper.LoggingOutput),
		)
		helper.Context = logger.WithFixedLogger(helper.Context, loggerInstance)
	}

	t.Cleanup(cancel)
	return helper
}

// TmpDir returns the helper's temp home.
func (h Helper) TmpDir() string {
	return h.tmpDir
}

// WriteFile writes a file under the helper's temp home and returns its path.
func (h Helper) WriteFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(h.tmpDir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

// writeConfigFile persists the config so commands under test can load it
// through --config.
func writeConfigFile(t *testing.T, cfg *config.Config, path string) {
	t.Helper()

	data := map[string]any{
		"host":       cfg.Server.Host,
		"port":       cfg.Server.Port,
		"quiet":      cfg.Logging.Quiet,
		"log_format": cfg.Logging.Format,
		"store": map[string]any{
			"driver": cfg.Store.Driver,
			"dsn":    cfg.Store.DSN,
		},
		"orchestrator": map[string]any{
			"acceptance_threshold": cfg.Orchestrator.AcceptanceThreshold,
			"max_retries":          cfg.Orchestrator.MaxRetries,
			"max_concurrent_steps": cfg.Orchestrator.MaxConcurrentSteps,
			"step_timeout":         cfg.Orchestrator.StepTimeout.String(),
		},
		"fact_cache": map[string]any{
			"backend": cfg.FactCache.Backend,
			"dir":     cfg.FactCache.Dir,
		},
		"retention": map[string]any{
			"days": cfg.Retention.Days,
		},
	}
	if cfg.LLM.APIKey != "" {
		data["llm"] = map[string]any{
			"api_key": cfg.LLM.APIKey,
			"model":   cfg.LLM.Model,
		}
	}

	raw, err := yaml.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0600))
}

// SyncBuffer is a goroutine-safe buffer for captured log output.
type SyncBuffer struct {
	buf *bytes.Buffer
	mu  sync.Mutex
}

// Write implements io.Writer.
func (b *SyncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// String returns the captured output.
func (b *SyncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
