package service

import (
	"fmt"
	"math"
	"time"

	"github.com/kjstillabower/aurora-service/internal/models"
)

const (
	ovationNorthURL = "https://services.swpc.noaa.gov/images/animations/ovation/north/latest.jpg"
	ovationSouthURL = "https://services.swpc.noaa.gov/images/animations/ovation/south/latest.jpg"
	suviThematicURL = "https://services.swpc.noaa.gov/images/animations/suvi-primary-195/latest.png"
	sdoLatestBase   = "https://sdo.gsfc.nasa.gov/assets/img/latest/"

	// ovalLeadMinutes is how far ahead the OVATION model projects.
	ovalLeadMinutes = 30
)

var bortleDescriptions = [...]string{
	"",
	"Excellent dark sky",
	"Typical dark site",
	"Rural sky",
	"Rural/suburban transition",
	"Suburban sky",
	"Bright suburban",
	"Suburban/urban transition",
	"City sky",
	"Inner city sky",
}

// AuroraOvalAt returns the OVATION oval image links stamped with now.
func AuroraOvalAt(now time.Time) *models.AuroraOval {
	return &models.AuroraOval{
		North:               ovationNorthURL,
		South:               ovationSouthURL,
		Timestamp:           now.UTC(),
		ForecastLeadMinutes: ovalLeadMinutes,
	}
}

// SunImageryAt returns the latest GOES SUVI and SDO AIA image links.
func SunImageryAt(now time.Time) *models.SunImagery {
	ts := now.UTC()
	sdo := func(channel, desc string) models.SunImage {
		return models.SunImage{URL: sdoLatestBase + "latest_1024_" + channel + ".jpg", Timestamp: ts, Description: desc}
	}
	return &models.SunImagery{
		ThematicMap: models.SunImage{URL: suviThematicURL, Timestamp: ts, Description: "GOES SUVI 195A"},
		AIA193:      sdo("0193", "SDO AIA 193 Angstrom - Corona"),
		AIA171:      sdo("0171", "SDO AIA 171 Angstrom - Corona/Transition Region"),
		AIA131:      sdo("0131", "SDO AIA 131 Angstrom - Flares"),
		AIA1700:     sdo("1700", "SDO AIA 1700 Angstrom - Photosphere"),
	}
}

// EstimateLightPollution bands the Bortle class by latitude alone:
// beyond 60 degrees is class 2, beyond 45 is class 4, everything else 5.
func EstimateLightPollution(lat float64) *models.LightPollution {
	bortle := 5
	switch abs := math.Abs(lat); {
	case abs > 60:
		bortle = 2
	case abs > 45:
		bortle = 4
	}
	return &models.LightPollution{
		Bortle:      bortle,
		Description: bortleDescriptions[bortle],
	}
}

// EstimateTimezone returns a rough "UTC+N" offset from longitude.
func EstimateTimezone(lon float64) string {
	offset := int(math.Floor(lon/15 + 0.5))
	if offset >= 0 {
		return fmt.Sprintf("UTC+%d", offset)
	}
	return fmt.Sprintf("UTC%d", offset)
}
