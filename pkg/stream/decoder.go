// Package stream splits a chunked byte stream into newline-delimited records.
//
// Chunk boundaries carry no meaning: a record, a multi-byte UTF-8 character or
// the delimiter itself may be split across two reads. The Decoder keeps the
// trailing incomplete record between chunks so the records it produces are the
// same for every partition of the input.
//
// Framing is strict. A record is complete only once its delimiter has been
// seen; an unterminated tail at end of stream is kept in Remainder and never
// emitted.
package stream

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"iter"
)

// Delimiter terminates every record.
const Delimiter = '\n'

// DefaultChunkSize is the read size used by Records.
const DefaultChunkSize = 32 * 1024

// Decoder is a stateful record splitter. The zero value is ready to use.
// A Decoder must not be shared between concurrent streams.
type Decoder struct {
	// buf holds the bytes after the last delimiter seen so far.
	// Bytes are only turned into strings once a record is complete, so a
	// UTF-8 sequence split across chunks is reassembled before decoding.
	buf []byte

	// ChunkSize is the read size used by Records (DefaultChunkSize if 0)
	ChunkSize int
}

// NewDecoder creates a Decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends chunk to the buffer and returns every record completed by it,
// in order, without delimiters. The trailing fragment stays buffered.
func (d *Decoder) Feed(chunk []byte) []string {
	if len(chunk) == 0 {
		return nil
	}
	d.buf = append(d.buf, chunk...)

	var records []string
	start := 0
	for {
		i := bytes.IndexByte(d.buf[start:], Delimiter)
		if i < 0 {
			break
		}
		records = append(records, string(d.buf[start:start+i]))
		start += i + 1
	}

	if start > 0 {
		// Compact so the buffer never grows past one partial record
		n := copy(d.buf, d.buf[start:])
		d.buf = d.buf[:n]
	}
	return records
}

// Remainder returns the buffered bytes that have not been terminated yet.
func (d *Decoder) Remainder() []byte {
	return d.buf
}

// Reset discards any buffered partial record.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
}

// ReadError wraps a failure of the underlying reader.
type ReadError struct {
	Err error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("stream read failed: %v", e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// Records returns a lazy sequence of the records in r.
//
// Exactly one chunk is read per step, and only when the consumer asks for a
// record that is not yet buffered; breaking out of the loop stops consumption
// without reading further. The sequence ends at io.EOF. A read failure is
// yielded once as a *ReadError and ends the sequence.
//
// The sequence is not restartable: it consumes r and d.
func (d *Decoder) Records(r io.Reader) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		size := d.ChunkSize
		if size <= 0 {
			size = DefaultChunkSize
		}
		chunk := make([]byte, size)

		for {
			n, err := r.Read(chunk)
			if n > 0 {
				for _, rec := range d.Feed(chunk[:n]) {
					if !yield(rec, nil) {
						return
					}
				}
			}
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield("", &ReadError{Err: err})
				return
			}
		}
	}
}
