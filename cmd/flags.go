package cmd

import (
	"fmt"
	"time"

	"github.com/smaxtec/sxapi/sxapi"
)

// parseTime accepts RFC 3339 timestamps and plain dates. Dates are UTC
// midnight; an empty value is the zero time.
func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: use YYYY-MM-DD or RFC 3339", value)
	}
	return t, nil
}

// parseRange parses the --from and --to flags
func parseRange(from, to string) (time.Time, time.Time, error) {
	start, err := parseTime(from)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := parseTime(to)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

// subjectFromFlags picks the animal or device given on the command line
func subjectFromFlags(animalID, deviceID string) (sxapi.Subject, error) {
	switch {
	case animalID != "" && deviceID != "":
		return nil, fmt.Errorf("--animal and --device are mutually exclusive")
	case animalID != "":
		return sxapi.AnimalID(animalID), nil
	case deviceID != "":
		return sxapi.DeviceID(deviceID), nil
	default:
		return nil, fmt.Errorf("either --animal or --device is required")
	}
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
