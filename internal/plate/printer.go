package plate

import "fmt"

// UnknownModel is the placeholder model for G-code whose printer could not be identified.
const UnknownModel = "unknown"

// Axis names a motion axis.
type Axis byte

const (
	AxisX Axis = 'X'
	AxisY Axis = 'Y'
	AxisZ Axis = 'Z'
)

func (a Axis) String() string { return string(a) }

// Envelope is an axis-aligned box in printer coordinates (mm).
type Envelope struct {
	MinX float64 `yaml:"min_x" json:"min_x"`
	MaxX float64 `yaml:"max_x" json:"max_x"`
	MinY float64 `yaml:"min_y" json:"min_y"`
	MaxY float64 `yaml:"max_y" json:"max_y"`
	MinZ float64 `yaml:"min_z" json:"min_z"`
	MaxZ float64 `yaml:"max_z" json:"max_z"`
}

// Bounds returns the inclusive range for an axis.
func (e Envelope) Bounds(a Axis) (lo, hi float64) {
	switch a {
	case AxisX:
		return e.MinX, e.MaxX
	case AxisY:
		return e.MinY, e.MaxY
	default:
		return e.MinZ, e.MaxZ
	}
}

// Contains reports whether v lies within the envelope on axis a.
func (e Envelope) Contains(a Axis, v float64) bool {
	lo, hi := e.Bounds(a)
	return v >= lo && v <= hi
}

// Covers reports whether o lies entirely inside e.
func (e Envelope) Covers(o Envelope) bool {
	return o.MinX >= e.MinX && o.MaxX <= e.MaxX &&
		o.MinY >= e.MinY && o.MaxY <= e.MaxY &&
		o.MinZ >= e.MinZ && o.MaxZ <= e.MaxZ
}

// Printer is a printer profile with its safety envelope.
type Printer struct {
	Name          string   `yaml:"name" json:"name"`
	Model         string   `yaml:"model" json:"model"`
	Printable     Envelope `yaml:"printable" json:"printable"`
	Extended      Envelope `yaml:"extended" json:"extended"`
	FinishMarker  string   `yaml:"finish_marker" json:"finish_marker"`
	MaxNozzleTemp float64  `yaml:"max_nozzle_temp" json:"max_nozzle_temp"`
	MaxBedTemp    float64  `yaml:"max_bed_temp" json:"max_bed_temp"`
	MultiMaterial bool     `yaml:"multi_material" json:"multi_material"`
}

// Validate checks the profile is internally consistent.
func (p Printer) Validate() error {
	if p.Model == "" {
		return fmt.Errorf("printer %q: model is required", p.Name)
	}
	if p.FinishMarker == "" {
		return fmt.Errorf("printer %q: finish marker is required", p.Model)
	}
	if !p.Extended.Covers(p.Printable) {
		return fmt.Errorf("printer %q: extended envelope must contain the printable envelope", p.Model)
	}
	if p.MaxNozzleTemp <= 0 || p.MaxBedTemp <= 0 {
		return fmt.Errorf("printer %q: temperature limits must be positive", p.Model)
	}
	return nil
}
