package measure

import (
	"fmt"
	"time"

	"github.com/roach88/temeasure/internal/fault"
	"github.com/roach88/temeasure/internal/instrument"
	"github.com/roach88/temeasure/internal/results"
	"github.com/roach88/temeasure/internal/sweep"
)

// KindRTCalibration names the resistance-vs-temperature calibration.
const KindRTCalibration = "rt-calibration"

// RT calibration column indexes.
const (
	RTColNumber = iota
	RTColSweep
	RTColSampleTemperature
	RTColHeaterVoltage
	RTColHeaterCurrent
	RTColHeaterPower
	RTColRTVoltage
	RTColRTCurrent
	RTColRTResistance
)

// RTColumns returns the RT calibration column manifest.
func RTColumns() []results.Column {
	return []results.Column{
		results.NewColumn("No.", ""),
		results.NewColumn("Sweep No.", ""),
		results.NewColumn("Sample Temperature", "K"),
		results.NewColumn("Heater Voltage", "V"),
		results.NewColumn("Heater Current", "A"),
		results.NewColumn("Heater Power", "W"),
		results.NewColumn("RT Voltage", "V"),
		results.NewColumn("RT Current", "A"),
		results.NewColumn("RT Resistance", "Ω"),
	}
}

// ResistanceConvention selects how the RT Resistance column is derived.
type ResistanceConvention int

const (
	// VoltageOverCurrent records V/I (ohms).
	VoltageOverCurrent ResistanceConvention = iota
	// CurrentOverVoltage records I/V (the conductance).
	CurrentOverVoltage
)

// String returns "v/i" or "i/v".
func (c ResistanceConvention) String() string {
	switch c {
	case VoltageOverCurrent:
		return "v/i"
	case CurrentOverVoltage:
		return "i/v"
	}
	return fmt.Sprintf("convention(%d)", int(c))
}

// ParseResistanceConvention is the inverse of String.
func ParseResistanceConvention(s string) (ResistanceConvention, error) {
	switch s {
	case "v/i", "":
		return VoltageOverCurrent, nil
	case "i/v":
		return CurrentOverVoltage, nil
	}
	return 0, fault.New(fault.InvalidParameter, "unknown resistance convention %q (want v/i or i/v)", s)
}

// Apply derives the recorded value from a voltage and current reading.
// A zero denominator yields ±Inf or NaN.
func (c ResistanceConvention) Apply(voltage, current float64) float64 {
	if c == CurrentOverVoltage {
		return current / voltage
	}
	return voltage / current
}

// CurrentUnit is the unit the RT current axis is given in.
type CurrentUnit int

const (
	Amps CurrentUnit = iota
	Microamps
)

// String returns "A" or "uA".
func (u CurrentUnit) String() string {
	switch u {
	case Amps:
		return "A"
	case Microamps:
		return "uA"
	}
	return fmt.Sprintf("unit(%d)", int(u))
}

// ParseCurrentUnit is the inverse of String; "µA" is accepted too.
func ParseCurrentUnit(s string) (CurrentUnit, error) {
	switch s {
	case "A", "":
		return Amps, nil
	case "uA", "µA":
		return Microamps, nil
	}
	return 0, fault.New(fault.InvalidParameter, "unknown current unit %q (want A or uA)", s)
}

// ToAmps converts an axis value to amps.
func (u CurrentUnit) ToAmps(v float64) float64 {
	if u == Microamps {
		return v * 1e-6
	}
	return v
}

// RTConfig parameterizes an RT calibration. Each sweep steps the heater
// (outer axis) and, at every heater level, the RT sense current (inner axis).
type RTConfig struct {
	Heater  sweep.Axis
	Current sweep.Axis
	Sweeps  int

	HeaterHold      time.Duration
	CurrentHold     time.Duration
	RestHold        time.Duration
	IntegrationTime time.Duration

	Convention  ResistanceConvention
	CurrentUnit CurrentUnit
}

// DefaultRTConfig returns the stock calibration: one sweep, heater 0..5 V in
// 6 steps with 10 s holds, RT current 0..100 uA in 11 steps with 1 s holds.
func DefaultRTConfig() RTConfig {
	return RTConfig{
		Heater:          sweep.Axis{Start: 0, Stop: 5, Steps: 6},
		Current:         sweep.Axis{Start: 0, Stop: 100, Steps: 11},
		Sweeps:          1,
		HeaterHold:      10 * time.Second,
		CurrentHold:     time.Second,
		IntegrationTime: 200 * time.Millisecond,
		Convention:      VoltageOverCurrent,
		CurrentUnit:     Microamps,
	}
}

// Validate reports every problem with c.
func (c RTConfig) Validate() error {
	var p fault.Problems
	c.validate(&p)
	return p.Err(fault.InvalidParameter, "invalid rt calibration")
}

func (c RTConfig) validate(p *fault.Problems) {
	p.Merge(c.Heater.Validate("heater"))
	p.Merge(c.Current.Validate("current"))
	finite(p, "heater start", c.Heater.Start)
	finite(p, "heater stop", c.Heater.Stop)
	finite(p, "current start", c.Current.Start)
	finite(p, "current stop", c.Current.Stop)
	if c.Sweeps < 1 {
		p.Addf("sweeps must be >= 1, got %d", c.Sweeps)
	}
	nonNegative(p, "heater hold", c.HeaterHold)
	nonNegative(p, "current hold", c.CurrentHold)
	nonNegative(p, "rest hold", c.RestHold)
	nonNegative(p, "integration time", c.IntegrationTime)
	if c.Convention != VoltageOverCurrent && c.Convention != CurrentOverVoltage {
		p.Addf("unknown resistance convention %d", int(c.Convention))
	}
	if c.CurrentUnit != Amps && c.CurrentUnit != Microamps {
		p.Addf("unknown current unit %d", int(c.CurrentUnit))
	}
}

// TotalSteps returns the number of rows a complete calibration writes.
func (c RTConfig) TotalSteps() int {
	return sweep.Product(c.Heater, c.Current) * c.Sweeps
}

// RTCalibration records RT sensor resistance against stage temperature while
// the heater is stepped, repeated for a number of sweeps.
type RTCalibration struct {
	*Engine

	cfg RTConfig

	heater instrument.Source
	rt     instrument.Source
	stage  instrument.Thermometer
}

// NewRTCalibration creates an idle RT calibration with the default
// configuration. Roles are resolved from reg at Start.
func NewRTCalibration(reg *instrument.Registry, opts ...Option) *RTCalibration {
	c := &RTCalibration{cfg: DefaultRTConfig()}
	c.Engine = newEngine(c, reg, opts)
	return c
}

// Configure replaces the calibration configuration. Only allowed while idle.
func (c *RTCalibration) Configure(cfg RTConfig) error {
	return c.Engine.configure(cfg.validate, func() { c.cfg = cfg })
}

// Config returns the current configuration.
func (c *RTCalibration) Config() RTConfig {
	c.Engine.mu.Lock()
	defer c.Engine.mu.Unlock()
	return c.cfg
}

func (c *RTCalibration) kind() string               { return KindRTCalibration }
func (c *RTCalibration) columns() []results.Column  { return RTColumns() }
func (c *RTCalibration) validate(p *fault.Problems) { c.cfg.validate(p) }
func (c *RTCalibration) totalSteps() int            { return c.cfg.TotalSteps() }

func (c *RTCalibration) resolve(res *instrument.Resolver) {
	c.heater = res.Source(instrument.Heater)
	c.rt = res.Source(instrument.RT)
	c.stage = res.Thermometer(instrument.Stage)
}

func (c *RTCalibration) outputs() []output {
	return []output{
		{instrument.Heater, c.heater},
		{instrument.RT, c.rt},
	}
}

func (c *RTCalibration) run(s *Session) error {
	cfg := c.cfg

	heaters, err := cfg.Heater.Values()
	if err != nil {
		return err
	}
	currents, err := cfg.Current.Values()
	if err != nil {
		return err
	}

	if err := s.Disable(instrument.Heater, c.heater); err != nil {
		return err
	}
	if err := s.Disable(instrument.RT, c.rt); err != nil {
		return err
	}
	if err := s.Do(instrument.RT, "set integration time", func() error {
		return c.rt.SetIntegrationTime(cfg.IntegrationTime)
	}); err != nil {
		return err
	}
	if err := s.Set(instrument.Heater, c.heater, heaters[0]); err != nil {
		return err
	}
	if err := s.Set(instrument.RT, c.rt, cfg.CurrentUnit.ToAmps(currents[0])); err != nil {
		return err
	}

	for pass := 0; pass < cfg.Sweeps; pass++ {
		if err := s.Set(instrument.Heater, c.heater, heaters[0]); err != nil {
			return err
		}
		if err := s.Enable(instrument.Heater, c.heater); err != nil {
			return err
		}
		if err := s.Hold(cfg.HeaterHold); err != nil {
			return err
		}

		for _, h := range heaters {
			if err := s.Set(instrument.Heater, c.heater, h); err != nil {
				return err
			}
			if err := s.Hold(cfg.HeaterHold); err != nil {
				return err
			}

			if err := s.Set(instrument.RT, c.rt, cfg.CurrentUnit.ToAmps(currents[0])); err != nil {
				return err
			}
			if err := s.Enable(instrument.RT, c.rt); err != nil {
				return err
			}
			for _, i := range currents {
				if err := s.Set(instrument.RT, c.rt, cfg.CurrentUnit.ToAmps(i)); err != nil {
					return err
				}
				if err := s.Hold(cfg.CurrentHold); err != nil {
					return err
				}
				if err := c.record(s, pass); err != nil {
					return err
				}
			}

			if err := s.Disable(instrument.RT, c.rt); err != nil {
				return err
			}
			if err := s.Hold(cfg.RestHold); err != nil {
				return err
			}
		}

		if err := s.Disable(instrument.Heater, c.heater); err != nil {
			return err
		}
		if err := s.Hold(cfg.HeaterHold); err != nil {
			return err
		}
		heaters = sweep.Reverse(heaters)
	}
	return nil
}

func (c *RTCalibration) record(s *Session, pass int) error {
	r := s.Read()
	heaterV := r.Level(instrument.Heater, c.heater)
	heaterI := r.Sense(instrument.Heater, c.heater)
	rtV := r.Sense(instrument.RT, c.rt)
	rtI := r.Level(instrument.RT, c.rt)
	temp := r.Temperature(instrument.Stage, c.stage)
	if err := r.Err(); err != nil {
		return err
	}

	return s.Append(
		float64(pass),
		temp,
		heaterV,
		heaterI,
		heaterV*heaterI,
		rtV,
		rtI,
		c.cfg.Convention.Apply(rtV, rtI),
	)
}
