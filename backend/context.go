package backend

import (
	"github.com/roach88/dfbridge/compat"
	"github.com/roach88/dfbridge/dferr"
)

// Context carries what an adapter needs while lowering steps for one
// handle. It is created per lowering by Adapter.LowerContext and is not
// shared between goroutines.
type Context struct {
	Backend string
	Mode    Mode
	// Version is the installed engine version the strategies resolve
	// against.
	Version string
	Logger  Logger
	Names   NameGenerator

	table    *compat.Table
	resolved map[string]compat.Strategy
}

// NewContext builds a lowering context resolving strategies from table.
func NewContext(backend string, mode Mode, version string, table *compat.Table, logger Logger, names NameGenerator) *Context {
	if logger == nil {
		logger = defaultLogger()
	}
	if names == nil {
		names = UUIDNames{}
	}
	return &Context{
		Backend:  backend,
		Mode:     mode,
		Version:  version,
		Logger:   logger,
		Names:    names,
		table:    table,
		resolved: make(map[string]compat.Strategy),
	}
}

// Strategy resolves feature once per context and logs the choice.
func (c *Context) Strategy(feature string) (compat.Strategy, error) {
	if s, ok := c.resolved[feature]; ok {
		return s, nil
	}
	s, err := c.table.Resolve(c.Backend, feature, c.Version)
	if err != nil {
		return "", err
	}
	c.resolved[feature] = s
	c.Logger.Debug("strategy resolved",
		LogAttrBackend, c.Backend,
		LogAttrFeature, feature,
		LogAttrVersion, c.Version,
		LogAttrStrategy, string(s))
	return s, nil
}

// Require resolves feature and fails with UNSUPPORTED_OPERATION when the
// table says unsupported.
func (c *Context) Require(feature string) (compat.Strategy, error) {
	s, err := c.Strategy(feature)
	if err != nil {
		return "", err
	}
	if s == compat.StrategyUnsupported {
		return "", dferr.Unsupported(c.Backend, feature, "%s is not supported by %s %s", feature, c.Backend, c.Version)
	}
	return s, nil
}
