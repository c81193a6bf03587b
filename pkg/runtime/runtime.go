// Package runtime wires pkg/model, pkg/driver, pkg/planner, pkg/request,
// and pkg/cpu together behind one explicit context object, per the
// spec's Design Notes: "prefer an explicit context object passed
// through construction; keep a thin singleton only at the public-API
// boundary if required." Nothing in this package is global state; a
// host application owns as many Contexts as it likes, each with its
// own driver set and logger.
package runtime

import (
	"log"
	"sync"

	"github.com/nnexec/nnexec/pkg/driver"
	"github.com/nnexec/nnexec/pkg/model"
	"github.com/nnexec/nnexec/pkg/request"
)

// Context is the one collaborator every other construction step in
// this module threads through, the way storage.NewWAL in the teacher
// repo takes an optional *log.Logger rather than reaching for a
// package-level default.
type Context struct {
	Logger *log.Logger

	mu      sync.Mutex
	drivers map[string]driver.Driver
	// cacheNoted tracks which CachesCompiledModels drivers have already
	// had their reuse logged once this process, so a driver compiling
	// the same model twice gets one note, not one per request. A driver
	// is entered as false on its first request and set to true once its
	// note is logged.
	cacheNoted map[string]bool
}

// New returns a Context with no drivers registered (CPU-only) and a
// logger defaulted to log.Default(), overridable by setting the field
// directly before first use.
func New() *Context {
	return &Context{
		Logger:     log.Default(),
		drivers:    make(map[string]driver.Driver),
		cacheNoted: make(map[string]bool),
	}
}

// RegisterDriver adds d to the set the planner considers. Registering
// two drivers with the same Name replaces the earlier one.
func (c *Context) RegisterDriver(d driver.Driver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drivers[d.Name()] = d
}

// Driver implements request.DriverResolver.
func (c *Context) Driver(name string) (driver.Driver, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.drivers[name]
	return d, ok
}

// All returns every registered driver, in a stable order (by Name), for
// the planner to score. Stable order matters for the spec's "a tie
// keeps the earlier driver" rule to be deterministic across calls.
func (c *Context) All() []driver.Driver {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.drivers))
	for name := range c.drivers {
		names = append(names, name)
	}
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && names[j-1] > names[j]; j-- {
			names[j-1], names[j] = names[j], names[j-1]
		}
	}
	out := make([]driver.Driver, len(names))
	for i, name := range names {
		out[i] = c.drivers[name]
	}
	return out
}

// NewModel returns an empty, unfinalized model builder. A thin
// passthrough so a caller only needs a *Context to build the whole
// pipeline, but model.New carries no dependency on Context itself
// (models are perfectly usable without one, e.g. in pkg/model's own
// tests).
func (c *Context) NewModel() *model.Model {
	return model.New()
}

// NewRequest returns a Request over m, using this Context's drivers and
// the given preference.
func (c *Context) NewRequest(m *model.Model, pref driver.Preference) (*request.Request, error) {
	c.noteCacheReuse(m)
	return request.New(m, c, pref)
}

// noteCacheReuse logs a one-line note (not persisted -- §6 "Persisted
// state: None") the first time a driver advertising
// CachesCompiledModels is used for a second request in this process,
// grounded in nn/cache/nnCache_test.cpp's existence check (SPEC_FULL
// §3.6): the core doesn't cache anything itself, but it can observe
// that a caching-capable driver is being reused.
func (c *Context) noteCacheReuse(m *model.Model) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, d := range c.drivers {
		if !d.Capabilities().CachesCompiledModels {
			continue
		}
		logged, seen := c.cacheNoted[name]
		if !seen {
			c.cacheNoted[name] = false
			continue
		}
		if !logged {
			c.Logger.Printf("runtime: driver %q claims compiled-model caching; reused for another model this process", name)
			c.cacheNoted[name] = true
		}
	}
	_ = m
}
