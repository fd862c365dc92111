package models

import "math"

// Physical constants in SI units. These are defaults for
// PhysicalConfiguration, not process-wide globals: every consumer receives
// the constants through an injected configuration value.
const (
	PlanckConstant = 6.62607015e-34  // J*s
	ElectronMass   = 9.1093837015e-31 // kg
	ElectronCharge = 1.602176634e-19  // C
)

// PhysicalConfiguration carries the acquisition parameters and physical
// constants the numerical core needs. It is supplied once at pipeline
// start and read-only throughout.
type PhysicalConfiguration struct {
	// AcceleratingVoltage of the microscope in volts.
	AcceleratingVoltage float64

	// DefocusSeparation is the axial distance between the defocused and
	// in-focus image planes in meters.
	DefocusSeparation float64

	// SampleThickness of the specimen in meters.
	SampleThickness float64

	// PixelPitch is the physical length per sample in meters, after any
	// decimation has been applied.
	PixelPitch float64

	// FrameRotation is the detector-to-sample rotation angle in radians,
	// applied to the reconstructed field components.
	FrameRotation float64

	// Planck, Mass and Charge allow the fundamental constants to be
	// overridden; zero values fall back to the SI defaults.
	Planck float64
	Mass   float64
	Charge float64
}

func (p PhysicalConfiguration) planck() float64 {
	if p.Planck > 0 {
		return p.Planck
	}
	return PlanckConstant
}

func (p PhysicalConfiguration) mass() float64 {
	if p.Mass > 0 {
		return p.Mass
	}
	return ElectronMass
}

func (p PhysicalConfiguration) charge() float64 {
	if p.Charge > 0 {
		return p.Charge
	}
	return ElectronCharge
}

// Wavelength returns the (non-relativistic) electron wavelength
// lambda = h / sqrt(2*m*e*V).
func (p PhysicalConfiguration) Wavelength() float64 {
	return p.planck() / math.Sqrt(2*p.mass()*p.charge()*p.AcceleratingVoltage)
}

// Wavenumber returns the axial wavenumber k_z = 2*pi/lambda.
func (p PhysicalConfiguration) Wavenumber() float64 {
	return 2 * math.Pi / p.Wavelength()
}

// FieldCoefficient returns h/(2*pi*e), the proportionality constant between
// the phase gradient and the projected in-plane induction.
func (p PhysicalConfiguration) FieldCoefficient() float64 {
	return p.planck() / (2 * math.Pi * p.charge())
}

// Validate checks the configuration for values the solver cannot work with.
func (p PhysicalConfiguration) Validate() error {
	if p.AcceleratingVoltage <= 0 {
		return Configf("accelerating voltage must be positive, got %g", p.AcceleratingVoltage)
	}
	if p.DefocusSeparation == 0 {
		return Configf("defocus separation must be nonzero")
	}
	if p.SampleThickness <= 0 {
		return Configf("sample thickness must be positive, got %g", p.SampleThickness)
	}
	if p.PixelPitch <= 0 {
		return Configf("pixel pitch must be positive, got %g", p.PixelPitch)
	}
	kz := p.Wavenumber()
	if math.IsNaN(kz) || math.IsInf(kz, 0) || kz <= 0 {
		return Configf("derived wavenumber is not finite and positive: %g", kz)
	}
	return nil
}
