// Package config loads the YAML configuration file.
//
// A file is decoded with yaml.v3, unified with the embedded CUE schema
// (which supplies every default and rejects unknown fields), and decoded into
// File. Every violation, from the schema or from the measurement parameter
// checks, is reported together as one InvalidParameter error.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/temeasure/internal/fault"
	"github.com/roach88/temeasure/internal/measure"
	"github.com/roach88/temeasure/internal/results"
	"github.com/roach88/temeasure/internal/sweep"
)

//go:embed schema.cue
var schemaCUE string

// File is a fully defaulted configuration.
type File struct {
	OutputDir   string                `json:"output_dir"`
	Database    string                `json:"database"`
	Instruments map[string]Instrument `json:"instruments"`
	Gated       Gated                 `json:"gated"`
	RT          RT                    `json:"rt"`
	Logger      Logger                `json:"logger"`
	Stream      Stream                `json:"stream"`
}

// Instrument binds a role to a driver. "sim" is the only driver.
type Instrument struct {
	Driver string `json:"driver"`
	Label  string `json:"label,omitempty"`
}

// Gated holds gated TEM sweep parameters.
type Gated struct {
	Gate            sweep.Axis `json:"gate"`
	Heater          sweep.Axis `json:"heater"`
	GateHold        string     `json:"gate_hold"`
	HeaterHold      string     `json:"heater_hold"`
	IntegrationTime string     `json:"integration_time"`
	Gates           string     `json:"gates"`
	InvertColdGate  bool       `json:"invert_cold_gate"`
}

// RT holds RT calibration parameters.
type RT struct {
	Heater          sweep.Axis `json:"heater"`
	Current         sweep.Axis `json:"current"`
	Sweeps          int        `json:"sweeps"`
	HeaterHold      string     `json:"heater_hold"`
	CurrentHold     string     `json:"current_hold"`
	RestHold        string     `json:"rest_hold"`
	IntegrationTime string     `json:"integration_time"`
	Convention      string     `json:"convention"`
	CurrentUnit     string     `json:"current_unit"`
}

// Logger holds telemetry logger settings.
type Logger struct {
	Period   string   `json:"period"`
	Path     string   `json:"path"`
	Channels []string `json:"channels"`
}

// Stream holds streaming file settings.
type Stream struct {
	Delimiter string `json:"delimiter"`
	UnitLine  bool   `json:"unit_line"`
	Sync      bool   `json:"sync"`
}

// Load reads and validates the file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fault.Wrap(fault.NotConfigured, err, "read config %s", path)
	}
	return Parse(data)
}

// Default returns the configuration with every default applied and no
// instruments configured.
func Default() *File {
	f, err := Parse(nil)
	if err != nil {
		panic(fmt.Sprintf("config: defaults do not validate: %v", err))
	}
	return f
}

// Parse validates YAML data against the schema and applies defaults.
func Parse(data []byte) (*File, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fault.Wrap(fault.InvalidParameter, err, "parse config")
	}
	if doc == nil {
		doc = map[string]any{}
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile config schema: %w", err)
	}

	v := schema.LookupPath(cue.ParsePath("#Config")).Unify(ctx.Encode(doc))

	var p fault.Problems
	if err := v.Validate(cue.Concrete(true)); err != nil {
		for _, e := range cueerrors.Errors(err) {
			p.Add(e.Error())
		}
		return nil, p.Err(fault.InvalidParameter, "invalid configuration")
	}

	var f File
	if err := v.Decode(&f); err != nil {
		return nil, fault.Wrap(fault.InvalidParameter, err, "decode config")
	}

	// Build both measurement configs so parameter problems surface at load time.
	if _, err := f.GatedConfig(); err != nil {
		p.Merge(err)
	}
	if _, err := f.RTConfig(); err != nil {
		p.Merge(err)
	}
	if _, err := f.LoggerPeriod(); err != nil {
		p.Merge(err)
	}
	if err := p.Err(fault.InvalidParameter, "invalid configuration"); err != nil {
		return nil, err
	}
	return &f, nil
}

// GatedConfig converts the gated section.
func (f *File) GatedConfig() (measure.GatedConfig, error) {
	g := f.Gated
	var p fault.Problems
	cfg := measure.GatedConfig{
		Gate:            g.Gate,
		Heater:          g.Heater,
		GateHold:        duration(&p, "gated.gate_hold", g.GateHold),
		HeaterHold:      duration(&p, "gated.heater_hold", g.HeaterHold),
		IntegrationTime: duration(&p, "gated.integration_time", g.IntegrationTime),
		InvertColdGate:  g.InvertColdGate,
	}
	mode, err := measure.ParseGateMode(g.Gates)
	if err != nil {
		p.Addf("gated.gates: %v", err)
	}
	cfg.Gates = mode

	if p.Len() == 0 {
		if err := cfg.Validate(); err != nil {
			p.Merge(err)
		}
	}
	return cfg, p.Err(fault.InvalidParameter, "invalid gated configuration")
}

// RTConfig converts the rt section.
func (f *File) RTConfig() (measure.RTConfig, error) {
	r := f.RT
	var p fault.Problems
	cfg := measure.RTConfig{
		Heater:          r.Heater,
		Current:         r.Current,
		Sweeps:          r.Sweeps,
		HeaterHold:      duration(&p, "rt.heater_hold", r.HeaterHold),
		CurrentHold:     duration(&p, "rt.current_hold", r.CurrentHold),
		RestHold:        duration(&p, "rt.rest_hold", r.RestHold),
		IntegrationTime: duration(&p, "rt.integration_time", r.IntegrationTime),
	}
	conv, err := measure.ParseResistanceConvention(r.Convention)
	if err != nil {
		p.Addf("rt.convention: %v", err)
	}
	cfg.Convention = conv
	unit, err := measure.ParseCurrentUnit(r.CurrentUnit)
	if err != nil {
		p.Addf("rt.current_unit: %v", err)
	}
	cfg.CurrentUnit = unit

	if p.Len() == 0 {
		if err := cfg.Validate(); err != nil {
			p.Merge(err)
		}
	}
	return cfg, p.Err(fault.InvalidParameter, "invalid rt configuration")
}

// LoggerPeriod returns the telemetry logger sampling period.
func (f *File) LoggerPeriod() (time.Duration, error) {
	var p fault.Problems
	d := duration(&p, "logger.period", f.Logger.Period)
	if p.Len() == 0 && d <= 0 {
		p.Addf("logger.period must be > 0, got %s", d)
	}
	return d, p.Err(fault.InvalidParameter, "invalid logger configuration")
}

// StreamOptions returns the streaming file options.
func (f *File) StreamOptions() []results.StreamOption {
	opts := []results.StreamOption{
		results.WithUnitLine(f.Stream.UnitLine),
		results.WithSync(f.Stream.Sync),
	}
	for _, r := range f.Stream.Delimiter {
		opts = append(opts, results.WithDelimiter(r))
		break
	}
	return opts
}

func duration(p *fault.Problems, field, s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		p.Addf("%s: %v", field, err)
	}
	return d
}
