// Package amiibo loads and saves amiibo NFC tag files: flat 540-byte NTAG
// dumps (572 bytes including a manufacturer signature nobody here verifies)
// that the MCU engine reads and, on a console-initiated write, mutates.
package amiibo

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// DataSize is the amount of user-accessible tag memory the MCU engine
// exchanges with the console; Data() and WriteRegion always operate within
// this range regardless of the file's on-disk size.
const DataSize = 540

// signedSize is the size of a dump that also carries the (unverified)
// 32-byte manufacturer signature trailer.
const signedSize = 572

// Tag is one loaded amiibo file: 540 bytes of NTAG user memory plus the
// bookkeeping needed to back it up on first write. It implements the Tag
// interface the mcu package needs from an inserted NFC tag.
type Tag struct {
	mu      sync.Mutex
	data    [DataSize]byte
	path    string // source file path; "" for a tag created in memory
	mutable bool   // true once saved (after a backup, for a tag loaded from a file)
}

// Load reads an amiibo dump from path: 540 bytes is an exact user-memory
// dump, 572 bytes is the same with a trailing signature that is read but
// never checked. Shorter files still load, zero-padded, since dumps in
// the wild are often truncated.
func Load(path string) (*Tag, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("amiibo: %w", err)
	}
	t := &Tag{path: path}
	switch {
	case len(b) >= signedSize:
		copy(t.data[:], b[:DataSize])
	case len(b) >= DataSize:
		copy(t.data[:], b[:DataSize])
	default:
		// Short file: per the source's tolerant behavior, load what's
		// there and leave the rest zeroed.
		copy(t.data[:], b)
	}
	return t, nil
}

// New returns a fresh, all-zero tag with the given UID, suitable for the
// CLI's "nfc" command to mint a blank tag. It has no backing file until
// its first Save, at which point it is saved to a scratch path under
// os.TempDir.
func New(uid [7]byte) *Tag {
	t := &Tag{}
	t.setUID(uid)
	return t
}

func (t *Tag) setUID(uid [7]byte) {
	// UID() reconstructs bytes[0..3]++bytes[4..8], deliberately skipping
	// byte 3 (a BCC/check byte on real tags); write the inverse here.
	t.data[0] = uid[0]
	t.data[1] = uid[1]
	t.data[2] = uid[2]
	t.data[4] = uid[3]
	t.data[5] = uid[4]
	t.data[6] = uid[5]
	t.data[7] = uid[6]
}

// UID returns the tag's 7-byte UID: bytes[0..3] concatenated with
// bytes[4..8], skipping byte 3 (an undocumented but consistent convention
// across every known reimplementation of this protocol).
func (t *Tag) UID() [7]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	var uid [7]byte
	copy(uid[0:3], t.data[0:3])
	copy(uid[3:7], t.data[4:8])
	return uid
}

// Data returns a copy of the tag's 540-byte user memory.
func (t *Tag) Data() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]byte, DataSize)
	copy(out, t.data[:])
	return out
}

// SetLockBytes writes the 4-byte write-lock value at offset 16, used
// transiently by the MCU engine's write-fragment reassembly to mark the
// tag locked for the duration of a write, then to clear it again.
func (t *Tag) SetLockBytes(v [4]byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	copy(t.data[16:20], v[:])
}

// ErrRegionOutOfRange is returned by WriteRegion when addr/len would write
// past the end of the 540-byte tag.
var ErrRegionOutOfRange = fmt.Errorf("amiibo: write region out of range")

// WriteRegion copies data into the tag at byte offset addr. It is the
// mcu package's low-level primitive for applying the (addr, len, data)
// triples in a reassembled write buffer.
func (t *Tag) WriteRegion(addr int, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if addr < 0 || addr+len(data) > DataSize {
		return ErrRegionOutOfRange
	}
	copy(t.data[addr:addr+len(data)], data)
	return nil
}

// Save persists the tag to its backing file, taking a numbered backup
// first if this is the tag's first write since it was loaded. A tag with
// no backing path (one minted fresh by the CLI) is saved to a new scratch
// file under os.TempDir the first time, and to that same path thereafter.
func (t *Tag) Save() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.path == "" {
		path, err := scratchPath(os.TempDir())
		if err != nil {
			return err
		}
		t.path = path
	} else if !t.mutable {
		if err := backup(t.path); err != nil {
			return err
		}
	}
	t.mutable = true
	return os.WriteFile(t.path, t.data[:], 0o644)
}

// Path returns the tag's current backing file path, or "" if it has never
// been saved.
func (t *Tag) Path() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.path
}

// backup copies path to path.bakN for the smallest N whose candidate
// doesn't already exist.
func backup(path string) error {
	for n := 0; ; n++ {
		candidate := fmt.Sprintf("%s.bak%d", path, n)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			b, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("amiibo: backup: %w", err)
			}
			return os.WriteFile(candidate, b, 0o644)
		}
	}
}

// scratchPath returns the smallest-N "amiibo_N.bin" path under dir that
// doesn't already exist.
func scratchPath(dir string) (string, error) {
	for n := 0; ; n++ {
		candidate := filepath.Join(dir, fmt.Sprintf("amiibo_%d.bin", n))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		}
	}
}
