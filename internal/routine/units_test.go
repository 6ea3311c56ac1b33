package routine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnitServicePounds(t *testing.T) {
	s := NewUnitService(UnitPounds)
	assert.InDelta(t, 55.12, s.FromKilograms(25), 0.01)
	assert.InDelta(t, 25, s.ToKilograms(s.FromKilograms(25)), 1e-9)
	assert.Equal(t, "55.1 lb", s.Format(25))
}

func TestUnitServiceKilogramsPassThrough(t *testing.T) {
	s := NewUnitService(UnitKilograms)
	assert.Equal(t, 42.5, s.FromKilograms(42.5))
	assert.Equal(t, "42.5 kg", s.Format(42.5))
}

func TestUnitServiceUnknownFallsBackToKilograms(t *testing.T) {
	s := NewUnitService("stone")
	assert.Equal(t, UnitKilograms, s.Unit())
}
