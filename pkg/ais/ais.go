// Package ais holds the wire types of the AIS data service and a client for it.
//
// The service streams vessel positions as newline-delimited JSON. Each line is a
// StreamMessage carrying the server's progress estimate and one PositionRecord.
// Everything else the service offers (file listing, time bounds, heatmap binning,
// unique-vessel counting) is computed server-side and only consumed here.
package ais

import (
	"context"
	"io"
)

// PositionRecord is a single AIS position report.
// All positions are WGS84 decimal degrees.
type PositionRecord struct {
	// T is the report time in Unix epoch milliseconds
	T int64 `json:"t" msgpack:"t"`

	// VesselID identifies the vessel (anonymised MMSI in the Piraeus dataset)
	VesselID string `json:"vessel_id" msgpack:"vessel_id"`

	// Lon is longitude in decimal degrees (-180 to +180)
	Lon float64 `json:"lon" msgpack:"lon"`

	// Lat is latitude in decimal degrees (-90 to +90)
	Lat float64 `json:"lat" msgpack:"lat"`

	// Heading is the bow orientation in degrees [0, 360), 0 = North, clockwise.
	// nil when the transponder did not report it.
	Heading *float64 `json:"heading,omitempty" msgpack:"heading,omitempty"`

	// Course is the direction of travel over ground in degrees [0, 360).
	Course *float64 `json:"course,omitempty" msgpack:"course,omitempty"`

	// Speed is speed over ground in knots (>= 0)
	Speed *float64 `json:"speed,omitempty" msgpack:"speed,omitempty"`
}

// Stopped reports whether the record carries an explicit zero speed.
// A record without a speed is not considered stopped.
func (r PositionRecord) Stopped() bool {
	return r.Speed != nil && *r.Speed == 0
}

// StreamMessage is one line of a row stream.
type StreamMessage struct {
	// Progress is the server's completion estimate (0-100).
	// It is not guaranteed to be monotonic.
	Progress int `json:"progress"`

	// Row is the position carried by this message
	Row PositionRecord `json:"row"`
}

// FileInfo describes a dataset file available on the service.
type FileInfo struct {
	Name string `json:"name"`
}

// TimeBounds is the [Min, Max] timestamp range of a file in epoch millis.
type TimeBounds struct {
	Min int64 `json:"min"`
	Max int64 `json:"max"`
}

// HeatmapCell is one non-empty cell of a server-side heatmap.
type HeatmapCell struct {
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
	Count float64 `json:"count"`
}

// VesselCount is the number of unique vessels in one file.
// Progress is only set by the multi-file stream.
type VesselCount struct {
	File          string `json:"file"`
	UniqueVessels int    `json:"unique_vessels"`
	Progress      int    `json:"progress,omitempty"`
}

// Service is the interface the ingestion pipeline needs from the data service.
// Stream methods return the raw NDJSON body; the caller owns it and must close it.
type Service interface {
	// ListFiles returns the files available for loading.
	ListFiles(ctx context.Context) ([]FileInfo, error)

	// StreamByIndex streams rows [start, end) of file.
	StreamByIndex(ctx context.Context, file string, start, end int) (io.ReadCloser, error)

	// StreamByTime streams rows of file with startTs <= t <= endTs.
	StreamByTime(ctx context.Context, file string, startTs, endTs int64) (io.ReadCloser, error)

	// TimeBounds returns the timestamp range of file.
	TimeBounds(ctx context.Context, file string) (TimeBounds, error)
}
