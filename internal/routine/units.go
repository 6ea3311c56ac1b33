package routine

import "fmt"

// WeightUnit is a display unit for weights. The engine is kilograms-only;
// conversion happens at the presentation boundary.
type WeightUnit string

const (
	UnitKilograms WeightUnit = "kg"
	UnitPounds    WeightUnit = "lb"
)

const kgPerLb = 0.45359237

// UnitService converts between canonical kilograms and the user's display
// unit.
type UnitService struct {
	unit WeightUnit
}

// NewUnitService creates a converter for the given display unit. An
// unrecognized unit falls back to kilograms.
func NewUnitService(unit WeightUnit) *UnitService {
	if unit != UnitPounds {
		unit = UnitKilograms
	}
	return &UnitService{unit: unit}
}

// Unit returns the display unit.
func (s *UnitService) Unit() WeightUnit {
	return s.unit
}

// FromKilograms converts a canonical weight to the display unit.
func (s *UnitService) FromKilograms(kg float64) float64 {
	if s.unit == UnitPounds {
		return kg / kgPerLb
	}
	return kg
}

// ToKilograms converts a display-unit weight to canonical kilograms.
func (s *UnitService) ToKilograms(v float64) float64 {
	if s.unit == UnitPounds {
		return v * kgPerLb
	}
	return v
}

// Format renders a canonical weight for display, e.g. "25.0 kg" or
// "55.1 lb".
func (s *UnitService) Format(kg float64) string {
	return fmt.Sprintf("%.1f %s", s.FromKilograms(kg), s.unit)
}
