// Package sim provides a simulated thermoelectric rig: heater, two gates,
// a thermo-voltage channel, an RT sensor channel and a stage thermometer.
//
// The model is deliberately simple but physically shaped (heater current
// follows Ohm's law, the stage warms with heater power, thermo-voltage
// follows the temperature difference) so sweeps produce plausible data. Every
// call is recorded and any operation can be made to fail, which lets tests
// check shutdown and error paths.
package sim

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/roach88/temeasure/internal/instrument"
)

// Model constants.
const (
	BaseTemperature  = 295.0  // K with the heater off
	HeaterResistance = 50.0   // ohms
	KelvinPerWatt    = 2.0    // stage warming per watt of heater power
	GradientPerWatt  = 0.5    // hot/cold difference per watt
	Seebeck          = 200e-6 // V/K at zero gate
	GateLeakage      = 1e-9   // A/V
	RTNominal        = 1000.0 // ohms at BaseTemperature
	RTAlpha          = 0.004  // 1/K
)

// ErrInjected is returned by operations armed with FailAfter unless another
// error was supplied.
var ErrInjected = errors.New("injected instrument failure")

// Call is one recorded capability call.
type Call struct {
	Instrument string
	Op         string
	Value      float64
}

func (c Call) String() string {
	return fmt.Sprintf("%s.%s(%g)", c.Instrument, c.Op, c.Value)
}

type injection struct {
	instrument string
	op         string
	remaining  int
	err        error
}

// Rig is a complete simulated instrument set. Safe for concurrent use.
type Rig struct {
	mu       sync.Mutex
	channels map[instrument.Role]*Channel
	order    []instrument.Role
	stage    *Thermometer
	calls    []Call
	counts   map[string]int
	faults   []*injection
	observer func(Call)
}

// NewRig creates a rig with every role of both built-in measurements.
func NewRig() *Rig {
	r := &Rig{
		channels: make(map[instrument.Role]*Channel),
		counts:   make(map[string]int),
	}
	r.add(instrument.ThermoVoltage, sourceCurrent)
	r.add(instrument.HotGate, sourceVoltage)
	r.add(instrument.ColdGate, sourceVoltage)
	r.add(instrument.Heater, sourceVoltage)
	r.add(instrument.RT, sourceCurrent)
	r.stage = &Thermometer{rig: r, name: string(instrument.Stage)}
	return r
}

func (r *Rig) add(role instrument.Role, mode sourceMode) {
	r.channels[role] = &Channel{rig: r, role: role, mode: mode}
	r.order = append(r.order, role)
}

// Bind registers every simulated instrument in reg under its role.
func (r *Rig) Bind(reg *instrument.Registry) {
	for _, role := range r.order {
		reg.Bind(role, r.channels[role])
	}
	reg.Bind(instrument.Stage, r.stage)
}

// Channel returns the simulated channel for role, or nil.
func (r *Rig) Channel(role instrument.Role) *Channel {
	return r.channels[role]
}

// Stage returns the simulated stage thermometer.
func (r *Rig) Stage() *Thermometer {
	return r.stage
}

// FailAfter makes the op call on the named instrument fail once after n
// successful calls. An empty instrument matches any instrument. A nil err
// uses ErrInjected.
func (r *Rig) FailAfter(instrumentName, op string, n int, err error) {
	if err == nil {
		err = ErrInjected
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.faults = append(r.faults, &injection{
		instrument: instrumentName,
		op:         op,
		remaining:  n,
		err:        err,
	})
}

// Observe installs fn to be called after every recorded call, outside the
// rig lock.
func (r *Rig) Observe(fn func(Call)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observer = fn
}

// Calls returns a copy of the call log.
func (r *Rig) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// Count returns how often op was called on the named instrument.
func (r *Rig) Count(instrumentName, op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[instrumentName+"."+op]
}

// Enabled returns the roles whose outputs are currently on.
func (r *Rig) Enabled() []instrument.Role {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []instrument.Role
	for _, role := range r.order {
		if r.channels[role].enabled {
			out = append(out, role)
		}
	}
	return out
}

// record logs a call and applies fault injection. Caller must hold r.mu.
func (r *Rig) record(name, op string, v float64) error {
	c := Call{Instrument: name, Op: op, Value: v}
	r.calls = append(r.calls, c)
	r.counts[name+"."+op]++

	for i, f := range r.faults {
		if f.op != op || (f.instrument != "" && f.instrument != name) {
			continue
		}
		if f.remaining > 0 {
			f.remaining--
			continue
		}
		r.faults = append(r.faults[:i], r.faults[i+1:]...)
		return fmt.Errorf("%s %s: %w", name, op, f.err)
	}
	return nil
}

func (r *Rig) notify(name, op string, v float64) {
	r.mu.Lock()
	fn := r.observer
	r.mu.Unlock()
	if fn != nil {
		fn(Call{Instrument: name, Op: op, Value: v})
	}
}

// Physical model. Callers must hold r.mu.

func (r *Rig) heaterPower() float64 {
	h := r.channels[instrument.Heater]
	if !h.enabled {
		return 0
	}
	return h.level * h.level / HeaterResistance
}

func (r *Rig) temperature() float64 {
	return BaseTemperature + KelvinPerWatt*r.heaterPower()
}

func (r *Rig) activeGate() float64 {
	if hot := r.channels[instrument.HotGate]; hot.enabled {
		return hot.level
	}
	if cold := r.channels[instrument.ColdGate]; cold.enabled {
		return -cold.level
	}
	return 0
}

func (r *Rig) sensed(c *Channel) float64 {
	if !c.enabled {
		return 0
	}
	switch c.role {
	case instrument.Heater:
		return c.level / HeaterResistance
	case instrument.HotGate, instrument.ColdGate:
		return c.level * GateLeakage
	case instrument.ThermoVoltage:
		s := Seebeck * (1 + r.activeGate()/100)
		return s * GradientPerWatt * r.heaterPower()
	case instrument.RT:
		return c.level * RTNominal * (1 + RTAlpha*(r.temperature()-BaseTemperature))
	}
	return 0
}

type sourceMode int

const (
	sourceVoltage sourceMode = iota
	sourceCurrent
)

// Channel is one simulated source-measure channel.
type Channel struct {
	rig     *Rig
	role    instrument.Role
	mode    sourceMode
	level   float64
	enabled bool
	highZ   bool
	intTime time.Duration
}

var _ instrument.Source = (*Channel)(nil)

func (c *Channel) call(op string, v float64, apply func()) error {
	c.rig.mu.Lock()
	err := c.rig.record(string(c.role), op, v)
	if err == nil && apply != nil {
		apply()
	}
	c.rig.mu.Unlock()
	c.rig.notify(string(c.role), op, v)
	return err
}

func (c *Channel) read(op string, value func() float64) (float64, error) {
	c.rig.mu.Lock()
	var v float64
	err := c.rig.record(string(c.role), op, 0)
	if err == nil {
		v = value()
	}
	c.rig.mu.Unlock()
	c.rig.notify(string(c.role), op, v)
	return v, err
}

// EnableOutput turns the output on.
func (c *Channel) EnableOutput() error {
	return c.call("EnableOutput", 0, func() { c.enabled = true })
}

// DisableOutput turns the output off.
func (c *Channel) DisableOutput() error {
	return c.call("DisableOutput", 0, func() { c.enabled = false })
}

// SetOutputLevel sets the sourced level.
func (c *Channel) SetOutputLevel(v float64) error {
	return c.call("SetOutputLevel", v, func() { c.level = v })
}

// SetIntegrationTime sets the measurement integration time.
func (c *Channel) SetIntegrationTime(d time.Duration) error {
	return c.call("SetIntegrationTime", d.Seconds(), func() { c.intTime = d })
}

// SetOutputMode selects high-impedance or zero-level off state.
func (c *Channel) SetOutputMode(highImpedanceOnDisable bool) error {
	v := 0.0
	if highImpedanceOnDisable {
		v = 1
	}
	return c.call("SetOutputMode", v, func() { c.highZ = highImpedanceOnDisable })
}

// ReadOutputLevel returns the sourced level (zero while disabled).
func (c *Channel) ReadOutputLevel() (float64, error) {
	return c.read("ReadOutputLevel", func() float64 {
		if !c.enabled {
			return 0
		}
		return c.level
	})
}

// ReadInputLevel returns the sensed quantity from the rig model.
func (c *Channel) ReadInputLevel() (float64, error) {
	return c.read("ReadInputLevel", func() float64 {
		return c.rig.sensed(c)
	})
}

// Units returns the units of the sourced and sensed quantities.
func (c *Channel) Units() (source, sense string) {
	if c.mode == sourceCurrent {
		return "A", "V"
	}
	return "V", "A"
}

// Enabled reports whether the output is on.
func (c *Channel) Enabled() bool {
	c.rig.mu.Lock()
	defer c.rig.mu.Unlock()
	return c.enabled
}

// HighImpedance reports the configured off mode.
func (c *Channel) HighImpedance() bool {
	c.rig.mu.Lock()
	defer c.rig.mu.Unlock()
	return c.highZ
}

// IntegrationTime returns the configured integration time.
func (c *Channel) IntegrationTime() time.Duration {
	c.rig.mu.Lock()
	defer c.rig.mu.Unlock()
	return c.intTime
}

// Thermometer is the simulated stage temperature controller.
type Thermometer struct {
	rig  *Rig
	name string
}

var _ instrument.Thermometer = (*Thermometer)(nil)

// ReadTemperature returns the stage temperature in kelvin.
func (t *Thermometer) ReadTemperature() (float64, error) {
	t.rig.mu.Lock()
	var v float64
	err := t.rig.record(t.name, "ReadTemperature", 0)
	if err == nil {
		v = t.rig.temperature()
	}
	t.rig.mu.Unlock()
	t.rig.notify(t.name, "ReadTemperature", v)
	return v, err
}
