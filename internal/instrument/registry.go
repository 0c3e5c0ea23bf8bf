package instrument

import (
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/temeasure/internal/fault"
)

// Role names the logical job an instrument performs in a measurement.
type Role string

// Roles used by the built-in measurements.
const (
	ThermoVoltage Role = "thermo-voltage"
	HotGate       Role = "hot-gate"
	ColdGate      Role = "cold-gate"
	Heater        Role = "heater"
	RT            Role = "rt"
	Stage         Role = "stage"
)

// Registry maps roles to live instrument handles.
// Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	handles map[Role]any
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handles: make(map[Role]any)}
}

// Bind assigns a handle to role. Binding nil removes the role.
func (r *Registry) Bind(role Role, handle any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if handle == nil {
		delete(r.handles, role)
		return
	}
	r.handles[role] = handle
}

// Lookup returns the handle bound to role.
func (r *Registry) Lookup(role Role) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[role]
	return h, ok
}

// Roles returns the bound roles in lexical order.
func (r *Registry) Roles() []Role {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Role, 0, len(r.handles))
	for role := range r.handles {
		out = append(out, role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Resolver turns roles into typed handles once, before a run starts,
// collecting every missing or mismatched role instead of stopping at the
// first one.
//
//	res := instrument.NewResolver(reg)
//	heater := res.Source(instrument.Heater)
//	stage := res.Thermometer(instrument.Stage)
//	if err := res.Err(); err != nil {
//	    return err // NOT_CONFIGURED listing every problem
//	}
type Resolver struct {
	reg      *Registry
	problems fault.Problems
}

// NewResolver creates a resolver over reg. A nil registry resolves nothing.
func NewResolver(reg *Registry) *Resolver {
	if reg == nil {
		reg = NewRegistry()
	}
	return &Resolver{reg: reg}
}

// Source resolves a role that must provide the Source capability.
func (r *Resolver) Source(role Role) Source {
	h, ok := r.lookup(role)
	if !ok {
		return nil
	}
	s, ok := h.(Source)
	if !ok {
		r.problems.Add(mismatch(role, "source", h))
		return nil
	}
	return s
}

// Meter resolves a role that must provide the Meter capability.
func (r *Resolver) Meter(role Role) Meter {
	h, ok := r.lookup(role)
	if !ok {
		return nil
	}
	m, ok := h.(Meter)
	if !ok {
		r.problems.Add(mismatch(role, "meter", h))
		return nil
	}
	return m
}

// Thermometer resolves a role that must provide the Thermometer capability.
func (r *Resolver) Thermometer(role Role) Thermometer {
	h, ok := r.lookup(role)
	if !ok {
		return nil
	}
	t, ok := h.(Thermometer)
	if !ok {
		r.problems.Add(mismatch(role, "thermometer", h))
		return nil
	}
	return t
}

// Require records msg as a problem unless ok holds. Used for non-instrument
// preconditions such as an output path.
func (r *Resolver) Require(ok bool, msg string) {
	if !ok {
		r.problems.Add(msg)
	}
}

// Problems returns the violations recorded so far.
func (r *Resolver) Problems() []string {
	return r.problems.List()
}

// Err returns a NotConfigured error listing every problem, or nil.
func (r *Resolver) Err() error {
	return r.problems.Err(fault.NotConfigured, "measurement is not fully configured")
}

func (r *Resolver) lookup(role Role) (any, bool) {
	h, ok := r.reg.Lookup(role)
	if !ok {
		r.problems.Addf("no instrument configured for %s", role)
	}
	return h, ok
}

func mismatch(role Role, capability string, h any) string {
	return fmt.Sprintf("%s instrument %T does not provide %s capability", role, h, capability)
}
