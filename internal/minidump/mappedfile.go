package minidump

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// MappedFile owns a shared, read-only mmap of a minidump file. Every
// slice handed out by View (directly or via a stream/string/MemoryView
// lookup) is a borrow of these pages and must not outlive Close, per
// spec §3 invariant 4.
type MappedFile struct {
	f    *os.File
	data []byte
}

// OpenMapped opens path and maps it read-only and shared.
func OpenMapped(path string) (*MappedFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("minidump: open: %w", err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("minidump: stat: %w", err)
	}
	size := fi.Size()
	if size == 0 {
		f.Close()
		return nil, fmt.Errorf("%w: empty file", ErrMalformedDump)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("minidump: mmap: %w", err)
	}
	return &MappedFile{f: f, data: data}, nil
}

// View returns the entire mapped region. Callers must not retain slices
// derived from it past Close.
func (m *MappedFile) View() []byte { return m.data }

// Size returns the mapped file size.
func (m *MappedFile) Size() uint64 { return uint64(len(m.data)) }

// Close unmaps the pages and closes the file handle. Safe to call once;
// a second call is a no-op.
func (m *MappedFile) Close() error {
	if m.data == nil {
		return nil
	}
	err := unix.Munmap(m.data)
	m.data = nil
	cerr := m.f.Close()
	if err != nil {
		return fmt.Errorf("minidump: munmap: %w", err)
	}
	return cerr
}

// slice returns a bounds-checked sub-slice [off, off+size) of the mapped
// view, using saturating arithmetic so a huge off+size never wraps.
func (m *MappedFile) slice(off, size uint64) ([]byte, bool) {
	if size == 0 {
		return nil, true
	}
	total := m.Size()
	if off > total {
		return nil, false
	}
	end := off + size
	if end < off || end > total { // overflow or out of bounds
		return nil, false
	}
	return m.data[off:end], true
}
