//go:build linux

// Package capture implements the optional capture sink transport.Session
// can be given: every read and write report is appended to a file as
// <float64 wall-clock seconds><int32 length><length bytes>, interleaved in
// stream order, for offline replay and debugging.
package capture

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"sync"
	"time"

	"joycontrol.dev/transport"
)

// Clock returns the current time for a capture record's timestamp; tests
// substitute a deterministic clock.
type Clock func() time.Time

// File is a capture sink backed by an os.File, safe for concurrent use by
// the transport's reader and writer goroutines.
type File struct {
	mu    sync.Mutex
	w     *bufio.Writer
	f     *os.File
	clock Clock
}

// Create opens path for writing (truncating any existing content) and
// returns a capture sink backed by it.
func Create(path string) (*File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	return &File{f: f, w: bufio.NewWriter(f), clock: time.Now}, nil
}

// Capture implements transport.CaptureSink.
func (c *File) Capture(dir transport.Direction, b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var header [12]byte
	binary.BigEndian.PutUint64(header[0:8], math.Float64bits(secondsSince(c.clock())))
	binary.BigEndian.PutUint32(header[8:12], uint32(len(b)))
	c.w.Write(header[:])
	c.w.Write(b)
}

// secondsSince renders t as a float64 count of wall-clock seconds, the
// capture format's timestamp unit.
func secondsSince(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// Flush flushes buffered output to disk without closing the file.
func (c *File) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.w.Flush()
}

// Close flushes and closes the underlying file.
func (c *File) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.w.Flush(); err != nil {
		c.f.Close()
		return err
	}
	return c.f.Close()
}

// Record is one decoded capture entry, as returned by ReadAll.
type Record struct {
	Dir       transport.Direction
	Timestamp float64
	Payload   []byte
}

// ReadAll decodes every record in a capture file written by File, in
// stream order. The on-disk format doesn't distinguish read from write
// records (they simply interleave in capture order), so Dir is always
// transport.DirRead here; callers that need direction should consult
// their own recv/send framing if they add one.
func ReadAll(r io.Reader) ([]Record, error) {
	var out []Record
	var header [12]byte
	for {
		if _, err := io.ReadFull(r, header[:]); err != nil {
			if err == io.EOF {
				return out, nil
			}
			return out, fmt.Errorf("capture: read header: %w", err)
		}
		ts := math.Float64frombits(binary.BigEndian.Uint64(header[0:8]))
		n := binary.BigEndian.Uint32(header[8:12])
		payload := make([]byte, n)
		if _, err := io.ReadFull(r, payload); err != nil {
			return out, fmt.Errorf("capture: read payload: %w", err)
		}
		out = append(out, Record{Timestamp: ts, Payload: payload})
	}
}
