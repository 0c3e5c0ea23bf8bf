package measure

import (
	"fmt"
	"math"
	"time"

	"github.com/roach88/temeasure/internal/fault"
	"github.com/roach88/temeasure/internal/instrument"
	"github.com/roach88/temeasure/internal/results"
	"github.com/roach88/temeasure/internal/sweep"
)

// KindGatedTEM names the gated thermoelectric measurement.
const KindGatedTEM = "gated-tem"

// Gated TEM column indexes.
const (
	GatedColNumber = iota
	GatedColSampleTemperature
	GatedColGateVoltage
	GatedColGateCurrent
	GatedColHeaterVoltage
	GatedColHeaterCurrent
	GatedColHeaterPower
	GatedColThermoVoltage
	GatedColGateSet
	GatedColGateConfig
	GatedColThermoCurrent
)

// Gate configurations recorded in the Gate Config column.
const (
	HotGateConfig  = 0
	ColdGateConfig = 1
)

// GatedColumns returns the Gated TEM column manifest.
func GatedColumns() []results.Column {
	return []results.Column{
		results.NewColumn("No.", ""),
		results.NewColumn("Sample Temperature", "K"),
		results.NewColumn("Gate Voltage", "V"),
		results.NewColumn("Gate Current", "A"),
		results.NewColumn("Heater Voltage", "V"),
		results.NewColumn("Heater Current", "A"),
		results.NewColumn("Heater Power", "W"),
		results.NewColumn("Thermo-Voltage", "V"),
		results.NewColumn("Gate Set", "V"),
		results.NewColumn("Gate Config", ""),
		results.NewColumn("Thermo-Current", "A"),
	}
}

// GateMode selects which gate configurations a Gated TEM run visits.
type GateMode int

const (
	// HotAndColdGate sweeps with the hot gate, then again with the cold gate.
	HotAndColdGate GateMode = iota
	// HotGateOnly sweeps with the hot gate only.
	HotGateOnly
)

// String returns "both" or "hot".
func (m GateMode) String() string {
	switch m {
	case HotAndColdGate:
		return "both"
	case HotGateOnly:
		return "hot"
	}
	return fmt.Sprintf("gatemode(%d)", int(m))
}

// ParseGateMode is the inverse of String.
func ParseGateMode(s string) (GateMode, error) {
	switch s {
	case "both", "":
		return HotAndColdGate, nil
	case "hot":
		return HotGateOnly, nil
	}
	return 0, fault.New(fault.InvalidParameter, "unknown gate mode %q (want both or hot)", s)
}

// passes returns the number of gate configurations visited.
func (m GateMode) passes() int {
	if m == HotGateOnly {
		return 1
	}
	return 2
}

// GatedConfig parameterizes a Gated TEM sweep. Gate is the outer axis,
// Heater the inner one.
type GatedConfig struct {
	Gate   sweep.Axis
	Heater sweep.Axis

	GateHold        time.Duration
	HeaterHold      time.Duration
	IntegrationTime time.Duration

	Gates GateMode

	// InvertColdGate drives the cold gate with negated setpoints and
	// negates its readings, so both configurations report the same sign
	// convention.
	InvertColdGate bool
}

// DefaultGatedConfig returns the stock sweep: gate -40..0 V in 9 steps with
// 20 s holds, heater 0..5 V in 6 steps with 10 s holds, 200 ms integration,
// both gates.
func DefaultGatedConfig() GatedConfig {
	return GatedConfig{
		Gate:            sweep.Axis{Start: -40, Stop: 0, Steps: 9},
		Heater:          sweep.Axis{Start: 0, Stop: 5, Steps: 6},
		GateHold:        20 * time.Second,
		HeaterHold:      10 * time.Second,
		IntegrationTime: 200 * time.Millisecond,
		Gates:           HotAndColdGate,
	}
}

// Validate reports every problem with c.
func (c GatedConfig) Validate() error {
	var p fault.Problems
	c.validate(&p)
	return p.Err(fault.InvalidParameter, "invalid gated sweep")
}

func (c GatedConfig) validate(p *fault.Problems) {
	p.Merge(c.Gate.Validate("gate"))
	p.Merge(c.Heater.Validate("heater"))
	finite(p, "gate start", c.Gate.Start)
	finite(p, "gate stop", c.Gate.Stop)
	finite(p, "heater start", c.Heater.Start)
	finite(p, "heater stop", c.Heater.Stop)
	nonNegative(p, "gate hold", c.GateHold)
	nonNegative(p, "heater hold", c.HeaterHold)
	nonNegative(p, "integration time", c.IntegrationTime)
	if c.Gates != HotAndColdGate && c.Gates != HotGateOnly {
		p.Addf("unknown gate mode %d", int(c.Gates))
	}
}

// TotalSteps returns the number of rows a complete sweep writes.
func (c GatedConfig) TotalSteps() int {
	return sweep.Product(c.Gate, c.Heater) * c.Gates.passes()
}

// GatedTEM measures thermo-voltage against heater power at a series of gate
// voltages, first with the hot-side gate and then with the cold-side gate.
type GatedTEM struct {
	*Engine

	cfg GatedConfig

	tv     instrument.Source
	hot    instrument.Source
	cold   instrument.Source
	heater instrument.Source
	stage  instrument.Thermometer
}

// NewGatedTEM creates an idle Gated TEM measurement with the default
// configuration. Roles are resolved from reg at Start.
func NewGatedTEM(reg *instrument.Registry, opts ...Option) *GatedTEM {
	g := &GatedTEM{cfg: DefaultGatedConfig()}
	g.Engine = newEngine(g, reg, opts)
	return g
}

// Configure replaces the sweep configuration. Only allowed while idle.
func (g *GatedTEM) Configure(cfg GatedConfig) error {
	return g.Engine.configure(cfg.validate, func() { g.cfg = cfg })
}

// Config returns the current configuration.
func (g *GatedTEM) Config() GatedConfig {
	g.Engine.mu.Lock()
	defer g.Engine.mu.Unlock()
	return g.cfg
}

func (g *GatedTEM) kind() string               { return KindGatedTEM }
func (g *GatedTEM) columns() []results.Column  { return GatedColumns() }
func (g *GatedTEM) validate(p *fault.Problems) { g.cfg.validate(p) }
func (g *GatedTEM) totalSteps() int            { return g.cfg.TotalSteps() }

func (g *GatedTEM) resolve(res *instrument.Resolver) {
	g.tv = res.Source(instrument.ThermoVoltage)
	g.hot = res.Source(instrument.HotGate)
	if g.cfg.Gates == HotAndColdGate {
		g.cold = res.Source(instrument.ColdGate)
	}
	g.heater = res.Source(instrument.Heater)
	g.stage = res.Thermometer(instrument.Stage)
}

func (g *GatedTEM) outputs() []output {
	return []output{
		{instrument.Heater, g.heater},
		{instrument.HotGate, g.hot},
		{instrument.ColdGate, g.cold},
		{instrument.ThermoVoltage, g.tv},
	}
}

type gatePass struct {
	role   instrument.Role
	src    instrument.Source
	config float64
	factor float64
}

func (g *GatedTEM) run(s *Session) error {
	cfg := g.cfg

	passes := []gatePass{{instrument.HotGate, g.hot, HotGateConfig, 1}}
	if cfg.Gates == HotAndColdGate {
		factor := 1.0
		if cfg.InvertColdGate {
			factor = -1
		}
		passes = append(passes, gatePass{instrument.ColdGate, g.cold, ColdGateConfig, factor})
	}

	// Everything off, then starting levels.
	for _, o := range g.outputs() {
		if o.src == nil {
			continue
		}
		if err := s.Disable(o.role, o.src); err != nil {
			return err
		}
	}
	if err := s.Do(instrument.ThermoVoltage, "set integration time", func() error {
		return g.tv.SetIntegrationTime(cfg.IntegrationTime)
	}); err != nil {
		return err
	}
	if err := s.Set(instrument.ThermoVoltage, g.tv, 0); err != nil {
		return err
	}
	for _, p := range passes {
		if err := s.Do(p.role, "set output mode", func() error {
			return p.src.SetOutputMode(true)
		}); err != nil {
			return err
		}
		if err := s.Set(p.role, p.src, p.factor*cfg.Gate.Start); err != nil {
			return err
		}
	}
	if err := s.Set(instrument.Heater, g.heater, cfg.Heater.Start); err != nil {
		return err
	}

	gates, err := cfg.Gate.Values()
	if err != nil {
		return err
	}
	heaters, err := cfg.Heater.Values()
	if err != nil {
		return err
	}

	for _, p := range passes {
		if err := s.Enable(instrument.ThermoVoltage, g.tv); err != nil {
			return err
		}
		if err := s.Enable(p.role, p.src); err != nil {
			return err
		}

		for _, gate := range gates {
			if err := s.Set(p.role, p.src, p.factor*gate); err != nil {
				return err
			}
			if err := s.Hold(cfg.GateHold); err != nil {
				return err
			}

			if err := s.Set(instrument.Heater, g.heater, cfg.Heater.Start); err != nil {
				return err
			}
			if err := s.Enable(instrument.Heater, g.heater); err != nil {
				return err
			}
			for _, h := range heaters {
				if err := s.Set(instrument.Heater, g.heater, h); err != nil {
					return err
				}
				if err := s.Hold(cfg.HeaterHold); err != nil {
					return err
				}
				if err := g.record(s, p, gate); err != nil {
					return err
				}
			}

			if err := s.Disable(instrument.Heater, g.heater); err != nil {
				return err
			}
			if err := s.Hold(cfg.HeaterHold); err != nil {
				return err
			}
		}

		// Next pass starts where this one ended.
		gates = sweep.Reverse(gates)
		if err := s.Disable(p.role, p.src); err != nil {
			return err
		}
	}
	return nil
}

// record takes one synchronized reading and appends it.
func (g *GatedTEM) record(s *Session, p gatePass, gateSet float64) error {
	r := s.Read()
	heaterV := r.Level(instrument.Heater, g.heater)
	heaterI := r.Sense(instrument.Heater, g.heater)
	temp := r.Temperature(instrument.Stage, g.stage)
	gateV := r.Level(p.role, p.src) * p.factor
	gateI := r.Sense(p.role, p.src) * p.factor
	thermoV := r.Sense(instrument.ThermoVoltage, g.tv)
	thermoI := r.Level(instrument.ThermoVoltage, g.tv)
	if err := r.Err(); err != nil {
		return err
	}

	return s.Append(
		temp,
		gateV,
		gateI,
		heaterV,
		heaterI,
		heaterV*heaterI,
		thermoV,
		gateSet,
		p.config,
		thermoI,
	)
}

func nonNegative(p *fault.Problems, name string, d time.Duration) {
	if d < 0 {
		p.Addf("%s must be >= 0, got %s", name, d)
	}
}

func finite(p *fault.Problems, name string, v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		p.Addf("%s must be finite, got %g", name, v)
	}
}
