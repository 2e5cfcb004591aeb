// Package feature negotiates instance and device extensions. Each feature
// contributes the extension and layer names it needs plus an optional
// payload chained into the instance or device creation info.
package feature

import (
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"golang.org/x/exp/slog"

	"github.com/vkngwrapper/videosink/gpuerr"
)

// Payload prepends a capability struct to a creation chain.
type Payload interface {
	Chain(next common.Options) common.Options
}

type PayloadFunc func(next common.Options) common.Options

func (f PayloadFunc) Chain(next common.Options) common.Options {
	return f(next)
}

type Contribution struct {
	Name string
	// Required contributions fail negotiation when the runtime lacks one of
	// their extensions or layers. Optional ones are dropped.
	Required           bool
	InstanceExtensions []string
	DeviceExtensions   []string
	Layers             []string
	InstanceFlags      core1_0.InstanceCreateFlags
	InstancePayload    Payload
	DevicePayload      Payload
}

type entry struct {
	contribution Contribution
	enabled      bool
}

// Registry is an ordered list of contributions. Order is preserved in
// every name list and chain it produces.
type Registry struct {
	entries []*entry
	logger  *slog.Logger
}

func NewRegistry(logger *slog.Logger, contributions ...Contribution) *Registry {
	r := &Registry{logger: logger}
	for _, c := range contributions {
		r.Register(c)
	}
	return r
}

// Register appends c, enabled. Registering a name twice replaces the
// earlier contribution in place.
func (r *Registry) Register(c Contribution) {
	for _, e := range r.entries {
		if e.contribution.Name == c.Name {
			e.contribution = c
			e.enabled = true
			return
		}
	}
	r.entries = append(r.entries, &entry{contribution: c, enabled: true})
}

func (r *Registry) Enable(name string) bool {
	return r.setEnabled(name, true)
}

func (r *Registry) Disable(name string) bool {
	return r.setEnabled(name, false)
}

func (r *Registry) setEnabled(name string, enabled bool) bool {
	for _, e := range r.entries {
		if e.contribution.Name == name {
			e.enabled = enabled
			return true
		}
	}
	return false
}

func (r *Registry) Enabled(name string) bool {
	for _, e := range r.entries {
		if e.contribution.Name == name {
			return e.enabled
		}
	}
	return false
}

func (r *Registry) each(fn func(c Contribution)) {
	for _, e := range r.entries {
		if e.enabled {
			fn(e.contribution)
		}
	}
}

func appendUnique(list []string, seen map[string]bool, names ...string) []string {
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			list = append(list, n)
		}
	}
	return list
}

func (r *Registry) InstanceExtensions() []string {
	seen := map[string]bool{}
	var names []string
	r.each(func(c Contribution) {
		names = appendUnique(names, seen, c.InstanceExtensions...)
	})
	return names
}

func (r *Registry) DeviceExtensions() []string {
	seen := map[string]bool{}
	var names []string
	r.each(func(c Contribution) {
		names = appendUnique(names, seen, c.DeviceExtensions...)
	})
	return names
}

func (r *Registry) Layers() []string {
	seen := map[string]bool{}
	var names []string
	r.each(func(c Contribution) {
		names = appendUnique(names, seen, c.Layers...)
	})
	return names
}

func (r *Registry) InstanceFlags() core1_0.InstanceCreateFlags {
	var flags core1_0.InstanceCreateFlags
	r.each(func(c Contribution) {
		flags |= c.InstanceFlags
	})
	return flags
}

// InstanceChain builds the instance creation chain. The first enabled
// contribution ends up at the head of the chain.
func (r *Registry) InstanceChain() common.Options {
	return r.chain(func(c Contribution) Payload { return c.InstancePayload })
}

func (r *Registry) DeviceChain() common.Options {
	return r.chain(func(c Contribution) Payload { return c.DevicePayload })
}

func (r *Registry) chain(payload func(c Contribution) Payload) common.Options {
	var payloads []Payload
	r.each(func(c Contribution) {
		if p := payload(c); p != nil {
			payloads = append(payloads, p)
		}
	})

	var next common.Options
	for i := len(payloads) - 1; i >= 0; i-- {
		next = payloads[i].Chain(next)
	}
	return next
}

// Scope selects which half of a contribution Filter checks.
type Scope int

const (
	ScopeInstance Scope = iota
	ScopeDevice
)

// Filter disables optional contributions whose extensions or layers are
// missing from available and fails with gpuerr.ErrConfigurationFatal when
// a required one is missing. For ScopeInstance, layers holds the
// available layers; it is ignored for ScopeDevice.
func (r *Registry) Filter(scope Scope, available map[string]bool, layers map[string]bool) error {
	for _, e := range r.entries {
		if !e.enabled {
			continue
		}
		c := e.contribution

		var missing string
		if scope == ScopeInstance {
			missing = firstMissing(c.InstanceExtensions, available)
			if missing == "" {
				missing = firstMissing(c.Layers, layers)
			}
		} else {
			missing = firstMissing(c.DeviceExtensions, available)
		}
		if missing == "" {
			continue
		}

		if c.Required {
			return gpuerr.ConfigurationFatal("extension", "feature %s requires %s", c.Name, missing)
		}
		e.enabled = false
		if r.logger != nil {
			r.logger.Warn("feature disabled", slog.String("feature", c.Name), slog.String("missing", missing))
		}
	}
	return nil
}

func firstMissing(names []string, available map[string]bool) string {
	for _, n := range names {
		if !available[n] {
			return n
		}
	}
	return ""
}
