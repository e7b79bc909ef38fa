// Package pairing persists the small record the reconnection bootstrap
// path needs to remember about a console this process has previously
// completed pairing with: its Bluetooth address and the controller
// identity it was paired as.
package pairing

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"
)

// Record is one paired console, as remembered across process restarts.
type Record struct {
	// Address is the console's 6-byte Bluetooth address.
	Address [6]byte `cbor:"address"`
	// ControllerKind mirrors state.Kind without importing it, so this
	// package stays independent of the session-lifetime packages.
	ControllerKind byte `cbor:"kind"`
	// DeviceName is the adapter name advertised during the pairing that
	// produced this record, kept for diagnostics.
	DeviceName string `cbor:"name"`
}

// Store is an on-disk list of Records, keyed by address, encoded as CBOR.
type Store struct {
	path    string
	records map[[6]byte]Record
}

// Open loads a Store from path, or returns an empty Store if the file
// doesn't exist yet.
func Open(path string) (*Store, error) {
	s := &Store{path: path, records: make(map[[6]byte]Record)}
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pairing: %w", err)
	}
	var list []Record
	if err := cbor.Unmarshal(b, &list); err != nil {
		return nil, fmt.Errorf("pairing: decode %s: %w", path, err)
	}
	for _, r := range list {
		s.records[r.Address] = r
	}
	return s, nil
}

// Lookup returns the remembered record for addr, if any.
func (s *Store) Lookup(addr [6]byte) (Record, bool) {
	r, ok := s.records[addr]
	return r, ok
}

// Remember adds or replaces the record for r.Address and persists the
// store to disk.
func (s *Store) Remember(r Record) error {
	s.records[r.Address] = r
	return s.save()
}

func (s *Store) save() error {
	list := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		list = append(list, r)
	}
	b, err := cbor.Marshal(list)
	if err != nil {
		return fmt.Errorf("pairing: encode: %w", err)
	}
	if err := os.WriteFile(s.path, b, 0o600); err != nil {
		return fmt.Errorf("pairing: write %s: %w", s.path, err)
	}
	return nil
}

// FormatAddress renders a Bluetooth address in the conventional
// colon-separated hex form, big-endian byte order.
func FormatAddress(addr [6]byte) string {
	parts := make([]string, len(addr))
	for i, b := range addr {
		parts[i] = hex.EncodeToString([]byte{b})
	}
	out := parts[0]
	for _, p := range parts[1:] {
		out += ":" + p
	}
	return out
}
