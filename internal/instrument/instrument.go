// Package instrument declares the capabilities a measurement needs from lab
// hardware and resolves logical roles to live handles.
//
// Drivers and wire protocols live outside this module. A measurement only
// calls the capability methods below; which concrete instrument fills a role
// is decided by whoever populates the Registry.
package instrument

import "time"

// Meter is a read-only view of a source-measure channel. It is all a
// background sampler is given, so it can never change an output.
type Meter interface {
	// ReadOutputLevel returns the level currently being sourced.
	ReadOutputLevel() (float64, error)

	// ReadInputLevel returns the measured (sensed) quantity.
	ReadInputLevel() (float64, error)
}

// Source is a source-measure channel owned by a measurement run.
//
// A voltage-sourcing channel sources volts and senses amps; a
// current-sourcing channel sources amps and senses volts.
type Source interface {
	Meter

	EnableOutput() error
	DisableOutput() error
	SetOutputLevel(v float64) error
	SetIntegrationTime(d time.Duration) error

	// SetOutputMode selects what a disabled output looks like: high
	// impedance (floating) when true, zero-level when false.
	SetOutputMode(highImpedanceOnDisable bool) error
}

// Thermometer reads a temperature in kelvin.
type Thermometer interface {
	ReadTemperature() (float64, error)
}
