package service

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/kjstillabower/aurora-service/internal/models"
)

// DefaultWebcams is served when no webcam directory file can be read.
func DefaultWebcams() []models.Webcam {
	return []models.Webcam{
		{
			Name:       "Churchill Northern Studies Centre",
			Location:   "Churchill, Manitoba, Canada",
			URL:        "https://www.youtube.com/embed/Cx5lHPhikDM",
			StreamType: "youtube",
			Lat:        58.7684,
			Lon:        -94.1650,
			Active:     true,
		},
		{
			Name:       "Fairbanks Aurora Cam",
			Location:   "Fairbanks, Alaska, USA",
			URL:        "https://www.youtube.com/embed/SHGSHAXAeJA",
			StreamType: "youtube",
			Lat:        64.8378,
			Lon:        -147.7164,
			Active:     true,
		},
		{
			Name:       "Abisko Sky Station",
			Location:   "Abisko, Sweden",
			URL:        "https://www.youtube.com/embed/tHJeMrJhE8c",
			StreamType: "youtube",
			Lat:        68.3496,
			Lon:        18.8306,
			Active:     true,
		},
	}
}

// LoadWebcams reads a JSON array of webcams from path. An empty path, an
// unreadable file, or an empty list returns DefaultWebcams along with the
// reason, so callers can log it and carry on.
func LoadWebcams(path string) ([]models.Webcam, error) {
	if path == "" {
		return DefaultWebcams(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultWebcams(), fmt.Errorf("read webcams %s: %w", path, err)
	}
	var cams []models.Webcam
	if err := json.Unmarshal(data, &cams); err != nil {
		return DefaultWebcams(), fmt.Errorf("parse webcams %s: %w", path, err)
	}
	if len(cams) == 0 {
		return DefaultWebcams(), fmt.Errorf("webcams %s: empty list", path)
	}
	return cams, nil
}
