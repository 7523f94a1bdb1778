package backend

import (
	"context"

	"github.com/roach88/dfbridge/compat"
)

// Base holds the configuration every adapter shares. Adapters embed it.
type Base struct {
	tag     string
	table   *compat.Table
	logger  Logger
	names   NameGenerator
	version string
}

// Option configures an adapter's Base.
type Option func(*Base) error

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger Logger) Option {
	return func(b *Base) error {
		if logger != nil {
			b.logger = logger
		}
		return nil
	}
}

// WithCompatTable replaces the embedded compatibility table.
func WithCompatTable(table *compat.Table) Option {
	return func(b *Base) error {
		if table != nil {
			b.table = table
		}
		return nil
	}
}

// WithNames sets the generator for temporary column and table names.
func WithNames(names NameGenerator) Option {
	return func(b *Base) error {
		if names != nil {
			b.names = names
		}
		return nil
	}
}

// WithVersion pins the installed version strategies resolve against,
// overriding detection. Tests use it to exercise fallbacks.
func WithVersion(version string) Option {
	return func(b *Base) error {
		b.version = version
		return nil
	}
}

// NewBase applies opts over the defaults for tag.
func NewBase(tag string, opts ...Option) (Base, error) {
	table, err := compat.Default()
	if err != nil {
		return Base{}, err
	}
	b := Base{tag: tag, table: table, logger: defaultLogger(), names: UUIDNames{}}
	for _, opt := range opts {
		if err := opt(&b); err != nil {
			return Base{}, err
		}
	}
	return b, nil
}

// Tag returns the backend tag.
func (b *Base) Tag() string { return b.tag }

// Logger returns the configured logger.
func (b *Base) Logger() Logger { return b.logger }

// Names returns the configured name generator.
func (b *Base) Names() NameGenerator { return b.names }

// Table returns the compatibility table.
func (b *Base) Table() *compat.Table { return b.table }

// PinnedVersion returns the WithVersion override, or "".
func (b *Base) PinnedVersion() string { return b.version }

// NewContext builds a lowering context for version, honoring a pinned
// version.
func (b *Base) NewContext(_ context.Context, mode Mode, version string) *Context {
	if b.version != "" {
		version = b.version
	}
	return NewContext(b.tag, mode, version, b.table, b.logger, b.names)
}
