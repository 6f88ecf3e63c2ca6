package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/kjstillabower/aurora-service/internal/models"
)

// ErrInvalidCoordinates is returned when latitude or longitude is out of range or not a number.
var ErrInvalidCoordinates = errors.New("invalid coordinates")

// ErrInvalidViews is returned when a requested view name is unknown.
var ErrInvalidViews = errors.New("invalid views")

var validate = validator.New()

// ValidationError describes the rejected field. It unwraps to one of the sentinels above.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Coordinates is a geographic point in decimal degrees.
type Coordinates struct {
	Lat float64 `validate:"latitude"`
	Lon float64 `validate:"longitude"`
}

// ValidateCoordinates rejects lat outside [-90, 90], lon outside [-180, 180], and NaN or infinite values.
func ValidateCoordinates(lat, lon float64) error {
	err := validate.Struct(Coordinates{Lat: lat, Lon: lon})
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		field := strings.ToLower(fe.Field())
		return &ValidationError{
			Field:  field,
			Reason: fmt.Sprintf("%v is not a valid %s", fe.Value(), fe.Tag()),
			Err:    ErrInvalidCoordinates,
		}
	}
	return &ValidationError{Field: "coordinates", Reason: err.Error(), Err: ErrInvalidCoordinates}
}

// ParseViews turns a comma-separated list of view names into a set. Blank
// input selects every view; unknown names are rejected.
func ParseViews(csv string) (models.ViewSet, error) {
	csv = strings.TrimSpace(csv)
	if csv == "" {
		return models.NewViewSet(models.AllViews...), nil
	}

	known := models.NewViewSet(models.AllViews...)
	set := models.ViewSet{}
	var unknown []string
	for _, part := range strings.Split(csv, ",") {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		v := models.View(name)
		if !known.Has(v) {
			unknown = append(unknown, name)
			continue
		}
		set[v] = struct{}{}
	}
	if len(unknown) > 0 {
		return nil, &ValidationError{
			Field:  "views",
			Reason: "unknown view(s): " + strings.Join(unknown, ", "),
			Err:    ErrInvalidViews,
		}
	}
	if len(set) == 0 {
		return models.NewViewSet(models.AllViews...), nil
	}
	return set, nil
}
