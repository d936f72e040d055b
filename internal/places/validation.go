package places

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
)

// proximityThreshold is the per-axis distance (about 11 m) under which two
// coordinates are considered the same location.
const proximityThreshold = 1e-4 * s1.Degree

var validate = validator.New()

func validateCandidate(candidate Candidate) error {
	if math.IsNaN(candidate.Lat) || math.IsNaN(candidate.Lon) {
		return fmt.Errorf("%w: coordinates must be numbers", ErrInvalidCandidate)
	}
	if err := validate.Struct(candidate); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidCandidate, formatValidationError(err))
	}
	return nil
}

func validateAccessRequest(request AccessRequest, category string) error {
	if err := validate.Struct(request); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidRequest, formatValidationError(err))
	}
	if category == LoneSoldierCategory && strings.TrimSpace(request.MilitaryID) == "" {
		return fmt.Errorf("%w: militaryid is required", ErrInvalidRequest)
	}
	return nil
}

func formatValidationError(err error) string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err.Error()
	}
	messages := make([]string, 0, len(validationErrors))
	for _, fieldError := range validationErrors {
		messages = append(messages, formatFieldError(fieldError))
	}
	return strings.Join(messages, "; ")
}

func formatFieldError(fieldError validator.FieldError) string {
	field := strings.ToLower(fieldError.Field())
	switch fieldError.Tag() {
	case "required", "required_if":
		return fmt.Sprintf("%s is required", field)
	case "required_without":
		return fmt.Sprintf("%s is required when %s is empty", field, strings.ToLower(fieldError.Param()))
	case "email":
		return fmt.Sprintf("%s must be a valid email", field)
	case "latitude", "longitude":
		return fmt.Sprintf("%s must be a valid %s", field, fieldError.Tag())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

// isDuplicate reports whether candidate collides with an existing place by
// formatted label or by both coordinates falling within proximityThreshold.
func isDuplicate(existing []Place, candidate Place) bool {
	incoming := s2.LatLngFromDegrees(candidate.Lat, candidate.Lon)
	for _, place := range existing {
		if candidate.Formatted != "" && place.Formatted == candidate.Formatted {
			return true
		}
		saved := s2.LatLngFromDegrees(place.Lat, place.Lon)
		if angleDelta(saved.Lat, incoming.Lat) < proximityThreshold &&
			angleDelta(saved.Lng, incoming.Lng) < proximityThreshold {
			return true
		}
	}
	return false
}

func angleDelta(a, b s1.Angle) s1.Angle {
	return (a - b).Abs()
}
