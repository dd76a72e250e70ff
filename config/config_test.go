package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fairgate/fairgate/config"
)

func TestUnmarshal(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		expErr bool
		check  func(*testing.T, *config.Config)
	}{
		{
			name: "A complete configuration should load every section.",
			data: `
rate_limit:
  limit: 10
  interval: 1s
concurrency_limit:
  permits: 8
circuit_breaker:
  failure_threshold: 5
  reset_timeout: 30s
queue:
  capacity: 100
  concurrency: 4
  overflow: slide
  max_wait: 250ms
`,
			check: func(t *testing.T, cfg *config.Config) {
				assert := assert.New(t)
				assert.Equal(10, cfg.RateLimit.Limit)
				assert.Equal(time.Second, cfg.RateLimit.Interval.Std())
				assert.Equal(8, cfg.ConcurrencyLimit.Permits)
				assert.Equal(5, cfg.CircuitBreaker.FailureThreshold)
				assert.Equal(30*time.Second, cfg.CircuitBreaker.ResetTimeout.Std())
				assert.Equal(100, cfg.Queue.Capacity)
				assert.Equal(4, cfg.Queue.Concurrency)
				assert.Equal(250*time.Millisecond, cfg.Queue.MaxWait.Std())
			},
		},
		{
			name: "Missing sections should not be built.",
			data: `
circuit_breaker:
  failure_threshold: 3
  reset_timeout: 5s
`,
			check: func(t *testing.T, cfg *config.Config) {
				assert := assert.New(t)
				assert.Nil(cfg.RateLimit)
				assert.Nil(cfg.ConcurrencyLimit)
				assert.Nil(cfg.Queue)
				assert.NotNil(cfg.CircuitBreaker)
			},
		},
		{
			name: "An invalid duration should fail.",
			data: `
rate_limit:
  limit: 10
  interval: tomorrow
`,
			expErr: true,
		},
		{
			name: "An invalid section should fail validation.",
			data: `
concurrency_limit:
  permits: 0
`,
			expErr: true,
		},
		{
			name: "An unknown overflow policy should fail validation.",
			data: `
queue:
  capacity: 10
  overflow: spill
`,
			expErr: true,
		},
		{
			name:   "Broken YAML should fail.",
			data:   `queue: [`,
			expErr: true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert := assert.New(t)

			cfg, err := config.Unmarshal([]byte(test.data))

			if test.expErr {
				assert.Error(err)
				return
			}
			assert.NoError(err)
			if test.check != nil {
				test.check(t, cfg)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	assert := assert.New(t)

	path := filepath.Join(t.TempDir(), "fairgate.yaml")
	data := `
rate_limit:
  limit: 2
  interval: 100ms
circuit_breaker:
  failure_threshold: 2
  reset_timeout: 50ms
`
	assert.NoError(os.WriteFile(path, []byte(data), 0o600))

	cfg, err := config.Load(path)
	assert.NoError(err)

	// The built chain executes work through every configured primitive.
	runner, err := cfg.Build(nil)
	assert.NoError(err)

	called := false
	err = runner.Run(context.TODO(), func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.NoError(err)
	assert.True(called)
}

func TestLoadMissingFile(t *testing.T) {
	assert := assert.New(t)

	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(err)
}

func TestBuildQueue(t *testing.T) {
	assert := assert.New(t)

	cfg, err := config.Unmarshal([]byte(`
queue:
  capacity: 2
  overflow: drop
`))
	assert.NoError(err)

	q, err := cfg.BuildQueue(nil)
	assert.NoError(err)

	err = q.Enqueue(context.TODO(), func(ctx context.Context) error { return nil })
	assert.NoError(err)

	// A config without the section can't build a queue.
	cfg, err = config.Unmarshal([]byte(`{}`))
	assert.NoError(err)
	_, err = cfg.BuildQueue(nil)
	assert.Error(err)
}
