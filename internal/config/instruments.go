package config

import (
	"sort"

	"github.com/roach88/temeasure/internal/fault"
	"github.com/roach88/temeasure/internal/instrument"
	"github.com/roach88/temeasure/internal/instrument/sim"
	"github.com/roach88/temeasure/internal/sampler"
)

// DriverSim selects the simulated rig.
const DriverSim = "sim"

// Registry binds every configured role. Roles that are not configured stay
// unbound, so a measurement that needs them refuses to start.
func (f *File) Registry(rig *sim.Rig) (*instrument.Registry, error) {
	reg := instrument.NewRegistry()

	roles := make([]string, 0, len(f.Instruments))
	for role := range f.Instruments {
		roles = append(roles, role)
	}
	sort.Strings(roles)

	var p fault.Problems
	for _, name := range roles {
		inst := f.Instruments[name]
		role := instrument.Role(name)
		if inst.Driver != DriverSim {
			p.Addf("instruments.%s: unknown driver %q", name, inst.Driver)
			continue
		}
		if role == instrument.Stage {
			reg.Bind(role, rig.Stage())
			continue
		}
		ch := rig.Channel(role)
		if ch == nil {
			p.Addf("instruments.%s: no simulated instrument for role", name)
			continue
		}
		reg.Bind(role, ch)
	}
	if err := p.Err(fault.InvalidParameter, "invalid instrument configuration"); err != nil {
		return nil, err
	}
	return reg, nil
}

// unitReporter is implemented by instruments that know their units.
type unitReporter interface {
	Units() (source, sense string)
}

// LoggerChannels returns the telemetry channels named by the logger section.
// Thermometers log temperature; meters log both levels.
func (f *File) LoggerChannels(reg *instrument.Registry) ([]sampler.Channel, error) {
	var (
		p        fault.Problems
		channels []sampler.Channel
	)
	for _, name := range f.Logger.Channels {
		role := instrument.Role(name)
		h, ok := reg.Lookup(role)
		if !ok {
			p.Addf("logger channel %s has no configured instrument", name)
			continue
		}
		switch inst := h.(type) {
		case instrument.Thermometer:
			channels = append(channels, sampler.TemperatureChannel(role, inst))
		case instrument.Meter:
			var src, sense string
			if u, ok := inst.(unitReporter); ok {
				src, sense = u.Units()
			}
			channels = append(channels, sampler.MeterChannels(role, inst, src, sense)...)
		default:
			p.Addf("logger channel %s: %T cannot be read", name, h)
		}
	}
	if err := p.Err(fault.NotConfigured, "telemetry logger is not configured"); err != nil {
		return nil, err
	}
	return channels, nil
}
