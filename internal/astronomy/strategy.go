package astronomy

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"

	"github.com/kjstillabower/aurora-service/internal/models"
)

// ErrNoData is returned when the provider answers without any daily record.
var ErrNoData = errors.New("astronomy provider returned no data")

// Daily is the provider's record for the current day. Times are RFC 3339.
type Daily struct {
	Sunrise   *string
	Sunset    *string
	Moonrise  *string
	Moonset   *string
	MoonPhase string
}

// Provider supplies rise/set times and the moon phase for a location.
type Provider interface {
	DailyAstronomy(ctx context.Context, lat, lon float64) (Daily, error)
}

// Strategy produces the astronomy view for a location.
type Strategy interface {
	Compute(ctx context.Context, lat, lon float64) (*models.Astronomy, error)
	Name() string
}

// ProviderBacked takes rise/set times and phase from a Provider and computes
// altitudes and twilight locally.
type ProviderBacked struct {
	provider Provider
	clock    clockwork.Clock
}

func NewProviderBacked(provider Provider, clock clockwork.Clock) *ProviderBacked {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ProviderBacked{provider: provider, clock: clock}
}

func (p *ProviderBacked) Name() string { return "provider" }

func (p *ProviderBacked) Compute(ctx context.Context, lat, lon float64) (*models.Astronomy, error) {
	daily, err := p.provider.DailyAstronomy(ctx, lat, lon)
	if err != nil {
		return nil, fmt.Errorf("astronomy provider: %w", err)
	}
	return assemble(lat, lon, p.clock, daily), nil
}

// Approximated needs no provider: sunrise and sunset come from the hour-angle
// formula and the phase from the mean synodic month. Moonrise and moonset are unset.
type Approximated struct {
	clock clockwork.Clock
}

func NewApproximated(clock clockwork.Clock) *Approximated {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Approximated{clock: clock}
}

func (a *Approximated) Name() string { return "approximated" }

func (a *Approximated) Compute(ctx context.Context, lat, lon float64) (*models.Astronomy, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := a.clock.Now()
	daily := Daily{MoonPhase: PhaseAt(now)}
	daily.Sunrise, daily.Sunset = crossingStrings(lat, lon, AltitudeSunrise, now)
	return assemble(lat, lon, a.clock, daily), nil
}

func assemble(lat, lon float64, clock clockwork.Clock, daily Daily) *models.Astronomy {
	now := clock.Now().UTC()
	sunAlt := SunAltitude(lat, lon, now)
	moonAlt := MoonAltitude(lat, lon, now)
	tw := TwilightTimes(lat, lon, now)

	phase := daily.MoonPhase
	if phase == "" {
		phase = "unknown"
	}

	return &models.Astronomy{
		Sun: models.SunTimes{
			IsUp:             sunAlt > 0,
			Altitude:         sunAlt,
			Sunrise:          daily.Sunrise,
			Sunset:           daily.Sunset,
			CivilDawn:        tw.CivilDawn,
			CivilDusk:        tw.CivilDusk,
			NauticalDawn:     tw.NauticalDawn,
			NauticalDusk:     tw.NauticalDusk,
			AstronomicalDawn: tw.AstronomicalDawn,
			AstronomicalDusk: tw.AstronomicalDusk,
		},
		Moon: models.MoonInfo{
			IsUp:         moonAlt > 0,
			Altitude:     moonAlt,
			Moonrise:     daily.Moonrise,
			Moonset:      daily.Moonset,
			Phase:        phase,
			Illumination: Illumination(daily.MoonPhase),
		},
	}
}
