package ais

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

// maxRecordEcho limits how much of a bad record is kept in a ParseError.
const maxRecordEcho = 120

// ParseError reports a stream record that does not match the {progress, row} schema.
type ParseError struct {
	// Record is the offending record, truncated for display
	Record string

	// Field names the field that failed validation ("" when the JSON itself is invalid)
	Field string

	// Err is the underlying cause
	Err error
}

func (e *ParseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("malformed stream record: %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("malformed stream record: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// IsParseError checks if an error is (or wraps) a ParseError.
func IsParseError(err error) (*ParseError, bool) {
	var pe *ParseError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

var (
	errInvalidUTF8 = errors.New("record is not valid UTF-8")
	errMissing     = errors.New("required field missing")
	errOutOfBounds = errors.New("value out of bounds")
)

// rawMessage mirrors StreamMessage with pointers so missing fields can be told
// apart from zero values.
type rawMessage struct {
	Progress *int    `json:"progress"`
	Row      *rawRow `json:"row"`
}

type rawRow struct {
	T        *int64   `json:"t"`
	VesselID *string  `json:"vessel_id"`
	Lon      *float64 `json:"lon"`
	Lat      *float64 `json:"lat"`
	Heading  *float64 `json:"heading"`
	Course   *float64 `json:"course"`
	Speed    *float64 `json:"speed"`
}

// ParseMessage decodes one NDJSON record into a StreamMessage.
//
// Validation is strict: the record must be valid UTF-8 holding a JSON object
// with an integer progress in [0, 100] and a row carrying t, vessel_id, lon
// and lat with the right types and bounds. Optional angles must lie in
// [0, 360) and speed must be >= 0. Optional fields may be omitted or null.
// Unknown fields are ignored.
// Any violation returns a *ParseError; there is no best-effort partial result.
func ParseMessage(record string) (StreamMessage, error) {
	if !utf8.ValidString(record) {
		return StreamMessage{}, newParseError(record, "", errInvalidUTF8)
	}

	var raw rawMessage
	if err := json.Unmarshal([]byte(record), &raw); err != nil {
		return StreamMessage{}, newParseError(record, "", err)
	}

	if raw.Progress == nil {
		return StreamMessage{}, newParseError(record, "progress", errMissing)
	}
	if *raw.Progress < 0 || *raw.Progress > 100 {
		return StreamMessage{}, newParseError(record, "progress",
			fmt.Errorf("%w: %d not in [0, 100]", errOutOfBounds, *raw.Progress))
	}
	if raw.Row == nil {
		return StreamMessage{}, newParseError(record, "row", errMissing)
	}

	row, field, err := raw.Row.validate()
	if err != nil {
		return StreamMessage{}, newParseError(record, "row."+field, err)
	}

	return StreamMessage{Progress: *raw.Progress, Row: row}, nil
}

// validate checks field presence and bounds and converts to a PositionRecord.
// On failure it returns the name of the offending field.
func (r *rawRow) validate() (PositionRecord, string, error) {
	switch {
	case r.T == nil:
		return PositionRecord{}, "t", errMissing
	case r.VesselID == nil:
		return PositionRecord{}, "vessel_id", errMissing
	case r.Lon == nil:
		return PositionRecord{}, "lon", errMissing
	case r.Lat == nil:
		return PositionRecord{}, "lat", errMissing
	}

	if *r.Lat < -90 || *r.Lat > 90 {
		return PositionRecord{}, "lat", fmt.Errorf("%w: %g not in [-90, 90]", errOutOfBounds, *r.Lat)
	}
	if *r.Lon < -180 || *r.Lon > 180 {
		return PositionRecord{}, "lon", fmt.Errorf("%w: %g not in [-180, 180]", errOutOfBounds, *r.Lon)
	}
	if r.Heading != nil && !validAngle(*r.Heading) {
		return PositionRecord{}, "heading", fmt.Errorf("%w: %g not in [0, 360)", errOutOfBounds, *r.Heading)
	}
	if r.Course != nil && !validAngle(*r.Course) {
		return PositionRecord{}, "course", fmt.Errorf("%w: %g not in [0, 360)", errOutOfBounds, *r.Course)
	}
	if r.Speed != nil && *r.Speed < 0 {
		return PositionRecord{}, "speed", fmt.Errorf("%w: %g is negative", errOutOfBounds, *r.Speed)
	}

	return PositionRecord{
		T:        *r.T,
		VesselID: *r.VesselID,
		Lon:      *r.Lon,
		Lat:      *r.Lat,
		Heading:  r.Heading,
		Course:   r.Course,
		Speed:    r.Speed,
	}, "", nil
}

func validAngle(deg float64) bool {
	return deg >= 0 && deg < 360
}

func newParseError(record, field string, err error) *ParseError {
	if len(record) > maxRecordEcho {
		record = record[:maxRecordEcho] + "..."
	}
	return &ParseError{Record: record, Field: field, Err: err}
}
