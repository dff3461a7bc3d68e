package plate

import "strings"

// Kind is the filament material.
type Kind string

const (
	KindPLA   Kind = "PLA"
	KindPETG  Kind = "PETG"
	KindABS   Kind = "ABS"
	KindTPU   Kind = "TPU"
	KindASA   Kind = "ASA"
	KindHIPS  Kind = "HIPS"
	KindOther Kind = "OTHER"
)

// Default filament values used when a header list is shorter than its siblings.
const (
	DefaultColor = "#FFFFFF"
	DefaultKind  = KindPLA
)

// ParseKind maps a slicer material name to a Kind. Unknown names map to KindOther.
func ParseKind(s string) Kind {
	switch k := Kind(strings.ToUpper(strings.TrimSpace(s))); k {
	case KindPLA, KindPETG, KindABS, KindTPU, KindASA, KindHIPS:
		return k
	default:
		return KindOther
	}
}

// Filament describes one filament slot used by a plate
type Filament struct {
	Color       string  `json:"color"`
	CostPerKg   float64 `json:"cost_per_kg"`
	WeightGrams float64 `json:"weight_grams"`
	Kind        Kind    `json:"kind"`
}

// DefaultFilament is substituted when a plate lists no filament data.
func DefaultFilament() Filament {
	return Filament{Color: DefaultColor, Kind: DefaultKind}
}

// NormalizeColor makes sure a hex color carries its leading '#'.
func NormalizeColor(c string) string {
	c = strings.TrimSpace(c)
	if c == "" {
		return DefaultColor
	}
	if !strings.HasPrefix(c, "#") {
		c = "#" + c
	}
	return strings.ToUpper(c)
}
