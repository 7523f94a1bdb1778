package frame

import (
	"github.com/roach88/dfbridge/backend"
	"github.com/roach88/dfbridge/backends"
)

// DefaultCollectBackend is the eager backend lazy SQL relations collect
// into.
const DefaultCollectBackend = "arrow"

// Option configures ingestion.
type Option func(*config)

type config struct {
	registry *backend.Registry
}

// WithRegistry dispatches through registry instead of backends.Default().
func WithRegistry(registry *backend.Registry) Option {
	return func(c *config) {
		c.registry = registry
	}
}

func newConfig(opts []Option) (*config, error) {
	c := &config{}
	for _, opt := range opts {
		opt(c)
	}
	if c.registry == nil {
		reg, err := backends.Default()
		if err != nil {
			return nil, err
		}
		c.registry = reg
	}
	return c, nil
}

// CollectOption configures LazyFrame.Collect.
type CollectOption func(*collectConfig)

type collectConfig struct {
	backend string
}

// WithCollectBackend names the eager backend receiving the result.
// Eager-engine lazy frames default to their own backend, SQL relations to
// DefaultCollectBackend.
func WithCollectBackend(tag string) CollectOption {
	return func(c *collectConfig) {
		c.backend = tag
	}
}
