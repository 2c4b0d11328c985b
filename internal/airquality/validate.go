package airquality

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks an aggregation request. Too many locations yields a 413
// ValidationError, any other violation a 400.
func Validate(req AggregateRequest) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var fields validator.ValidationErrors
	if !errors.As(err, &fields) || len(fields) == 0 {
		return &ValidationError{Status: http.StatusBadRequest, Message: err.Error()}
	}

	for _, fe := range fields {
		if fe.StructField() == "LocationIDs" && fe.Tag() == "max" {
			return &ValidationError{
				Status:  http.StatusRequestEntityTooLarge,
				Message: fmt.Sprintf("too many locations: %d (max %d)", len(req.LocationIDs), MaxLocations),
			}
		}
	}

	fe := fields[0]
	var msg string
	switch fe.StructField() {
	case "City":
		msg = "city is required"
	case "Country":
		msg = "country is required"
	case "LocationIDs":
		msg = "locationIds must be a non-empty list"
	default:
		msg = fmt.Sprintf("invalid %s: %s", fe.Field(), fe.Tag())
	}
	return &ValidationError{Status: http.StatusBadRequest, Message: msg}
}
