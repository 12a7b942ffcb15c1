package ows

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrNoObservations is returned when a GetObservation response has no values block.
var ErrNoObservations = errors.New("no sensor data found in response")

// Reading is one timestamped observation value.
type Reading struct {
	Timestamp string    `json:"timestamp" doc:"Timestamp as sent by the service"`
	At        time.Time `json:"at" doc:"Instant of the observation"`
	Date      string    `json:"date" doc:"Date in the service zone"`
	Time      string    `json:"time" doc:"Wall-clock time in the service zone"`
	Value     float64   `json:"value" doc:"Observed value"`
}

// ParseObservations reads the swe:values block of a GetObservation response.
// Records are separated by '@' and fields by ','; records with a missing or
// unparseable timestamp or value are skipped.
func ParseObservations(raw []byte, zone *time.Location) ([]Reading, error) {
	root, err := readDocument(raw)
	if err != nil {
		return nil, err
	}
	if root.Tag == "ExceptionReport" {
		return nil, fmt.Errorf("%w: %s", ErrServiceException, text(firstDescendant(root, "ExceptionText")))
	}
	values := firstDescendant(root, "values")
	if values == nil {
		return nil, ErrNoObservations
	}

	readings := []Reading{}
	for _, record := range strings.Split(text(values), "@") {
		fields := strings.Split(strings.TrimSpace(record), ",")
		if len(fields) < 2 || fields[0] == "" || fields[1] == "" {
			continue
		}
		at, ok := parseTimestamp(fields[0], zone)
		if !ok {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
		if err != nil {
			continue
		}
		local := at.In(zone)
		readings = append(readings, Reading{
			Timestamp: fields[0],
			At:        at.UTC(),
			Date:      local.Format(time.DateOnly),
			Time:      local.Format(time.TimeOnly),
			Value:     v,
		})
	}
	return readings, nil
}
