package dataset

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/unklstewy/ais-scope/pkg/ais"
)

// Snapshot formats understood by WriteSnapshot and ReadSnapshot.
const (
	FormatJSON    = "json"
	FormatMsgpack = "msgpack"
)

// Snapshot is the exported form of a dataset.
type Snapshot struct {
	File    string               `json:"file" msgpack:"file"`
	MinT    int64                `json:"min_t" msgpack:"min_t"`
	MaxT    int64                `json:"max_t" msgpack:"max_t"`
	Records []ais.PositionRecord `json:"records" msgpack:"records"`
}

// FormatFromPath picks a snapshot format from a file extension.
func FormatFromPath(path string) string {
	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, ".msgpack") || strings.HasSuffix(lower, ".mpk") {
		return FormatMsgpack
	}
	return FormatJSON
}

// WriteSnapshot encodes the dataset to w. Only frozen datasets can be
// exported so the snapshot never observes a load in progress.
func (d *Dataset) WriteSnapshot(w io.Writer, file, format string) error {
	if !d.Frozen() {
		return fmt.Errorf("snapshot: dataset is still loading")
	}

	snap := Snapshot{File: file, Records: d.Records()}
	if b, ok := d.Bounds(); ok {
		snap.MinT, snap.MaxT = b.Start, b.End
	}

	switch format {
	case FormatMsgpack:
		if err := msgpack.NewEncoder(w).Encode(&snap); err != nil {
			return fmt.Errorf("snapshot: failed to encode msgpack: %w", err)
		}
	case FormatJSON, "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(&snap); err != nil {
			return fmt.Errorf("snapshot: failed to encode json: %w", err)
		}
	default:
		return fmt.Errorf("snapshot: unknown format %q", format)
	}
	return nil
}

// ReadSnapshot decodes a snapshot written by WriteSnapshot into a frozen Dataset.
func ReadSnapshot(r io.Reader, format string) (*Dataset, string, error) {
	var snap Snapshot
	switch format {
	case FormatMsgpack:
		if err := msgpack.NewDecoder(r).Decode(&snap); err != nil {
			return nil, "", fmt.Errorf("snapshot: failed to decode msgpack: %w", err)
		}
	case FormatJSON, "":
		if err := json.NewDecoder(r).Decode(&snap); err != nil {
			return nil, "", fmt.Errorf("snapshot: failed to decode json: %w", err)
		}
	default:
		return nil, "", fmt.Errorf("snapshot: unknown format %q", format)
	}

	d := New()
	for _, rec := range snap.Records {
		if err := d.Append(rec); err != nil {
			return nil, "", err
		}
	}
	d.Finalize()
	return d, snap.File, nil
}
