package amiibo

import (
	"os"
	"path/filepath"
	"testing"
)

func TestUIDSkipsByteThree(t *testing.T) {
	tag := New([7]byte{0x04, 0x88, 0xCA, 0xA5, 0x62, 0x5F, 0x80})
	got := tag.UID()
	want := [7]byte{0x04, 0x88, 0xCA, 0xA5, 0x62, 0x5F, 0x80}
	if got != want {
		t.Fatalf("UID() = %x, want %x", got, want)
	}
}

func TestLoad540And572(t *testing.T) {
	idx300 := 300
	dir := t.TempDir()
	data540 := make([]byte, DataSize)
	for i := range data540 {
		data540[i] = byte(i)
	}
	p540 := filepath.Join(dir, "tag540.bin")
	if err := os.WriteFile(p540, data540, 0o644); err != nil {
		t.Fatal(err)
	}
	tag, err := Load(p540)
	if err != nil {
		t.Fatal(err)
	}
	if got := tag.Data(); len(got) != DataSize || got[300] != byte(idx300) {
		t.Fatalf("unexpected 540-byte load")
	}

	data572 := append(append([]byte(nil), data540...), make([]byte, 32)...)
	for i := range data572[DataSize:] {
		data572[DataSize+i] = 0xEE // signature bytes, must be ignored
	}
	p572 := filepath.Join(dir, "tag572.bin")
	if err := os.WriteFile(p572, data572, 0o644); err != nil {
		t.Fatal(err)
	}
	tag2, err := Load(p572)
	if err != nil {
		t.Fatal(err)
	}
	if got := tag2.Data(); len(got) != DataSize || got[300] != byte(idx300) {
		t.Fatalf("572-byte load diverged from the 540-byte body")
	}
}

func TestShortFileLoadsTolerantly(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "short.bin")
	if err := os.WriteFile(p, make([]byte, 541), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(p); err != nil {
		t.Fatalf("Load(541 bytes) should succeed, got %v", err)
	}
}

func TestFirstWriteBacksUpFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "tag.bin")
	if err := os.WriteFile(p, make([]byte, DataSize), 0o644); err != nil {
		t.Fatal(err)
	}
	tag, err := Load(p)
	if err != nil {
		t.Fatal(err)
	}
	if err := tag.WriteRegion(0, []byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	if err := tag.Save(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(p + ".bak0"); err != nil {
		t.Fatalf("expected backup file: %v", err)
	}
	if err := tag.Save(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(p + ".bak1"); !os.IsNotExist(err) {
		t.Fatalf("second save should not create another backup")
	}
}

func TestWriteRegionOutOfRange(t *testing.T) {
	tag := New([7]byte{})
	if err := tag.WriteRegion(DataSize-1, []byte{1, 2}); err == nil {
		t.Fatal("expected ErrRegionOutOfRange")
	}
}

func TestScratchSaveUsesSmallestAvailableName(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "amiibo_0.bin"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	path, err := scratchPath(dir)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != "amiibo_1.bin" {
		t.Fatalf("scratchPath = %s, want amiibo_1.bin", path)
	}
}
