package astronomy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPhaseAt(t *testing.T) {
	day := func(d float64) time.Duration { return time.Duration(d * 24 * float64(time.Hour)) }
	tests := []struct {
		name   string
		offset time.Duration
		want   string
	}{
		{"reference new moon", 0, "new"},
		{"first quarter", day(SynodicMonthDays / 4), "firstQuarter"},
		{"full", day(SynodicMonthDays / 2), "full"},
		{"third quarter", day(SynodicMonthDays * 3 / 4), "thirdQuarter"},
		{"next lunation", day(SynodicMonthDays*10 + 0.2), "new"},
		{"before reference", -day(SynodicMonthDays / 2), "full"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PhaseAt(referenceNewMoon.Add(tt.offset)))
		})
	}
}

func TestIllumination(t *testing.T) {
	tests := map[string]float64{
		"new":            0,
		"waxingCrescent": 25,
		"firstQuarter":   50,
		"WaxingGibbous":  75,
		"full":           100,
		"waningGibbous":  75,
		"thirdQuarter":   50,
		"lastQuarter":    50,
		"waningCrescent": 25,
		"":               50,
		"eclipse":        50,
	}
	for phase, want := range tests {
		assert.Equal(t, want, Illumination(phase), "Illumination(%q)", phase)
	}
}

// TestMoonAltitude_Range verifies the series stays within physical bounds and
// changes over a few hours.
func TestMoonAltitude_Range(t *testing.T) {
	base := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)
	seen := map[bool]bool{}
	for h := 0; h < 48; h += 3 {
		alt := MoonAltitude(0, 0, base.Add(time.Duration(h)*time.Hour))
		assert.GreaterOrEqual(t, alt, -90.0)
		assert.LessOrEqual(t, alt, 90.0)
		seen[alt > 0] = true
	}
	assert.Len(t, seen, 2, "moon should both rise and set over two days")
}
