//go:build linux || darwin

package storage

import (
	"os"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// growthSize is the granularity the mapped region grows by. The file is
// extended sparsely so untouched pages cost nothing on disk.
const growthSize = 16 << 20

// MMap implements Storage using memory-mapped I/O
type MMap struct {
	file     *os.File
	pageSize int
	data     []byte
	empty    bool
	counters
}

var _ Storage = (*MMap)(nil)

// NewMMap opens or creates the file at path and maps it
func NewMMap(path string, pageSize int) (*MMap, error) {
	if pageSize <= 0 {
		return nil, errors.Newf("invalid page size %d", pageSize)
	}
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}

	m := &MMap{file: file, pageSize: pageSize}
	size := info.Size()
	if size == 0 {
		m.empty = true
		size = m.roundUp(int64(pageSize))
		if err := file.Truncate(size); err != nil {
			file.Close()
			return nil, errors.Wrap(err, "grow file")
		}
	}
	if err := m.mapRegion(size); err != nil {
		file.Close()
		return nil, err
	}
	return m, nil
}

func (m *MMap) roundUp(size int64) int64 {
	return (size + growthSize - 1) / growthSize * growthSize
}

func (m *MMap) mapRegion(size int64) error {
	data, err := unix.Mmap(int(m.file.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return errors.Wrapf(err, "mmap %d bytes", size)
	}
	m.data = data
	return nil
}

// grow remaps the file so that it covers at least size bytes
func (m *MMap) grow(size int64) error {
	newSize := m.roundUp(size)

	// start writeback early so munmap has less to do
	_ = unix.Msync(m.data, unix.MS_ASYNC)
	if err := unix.Munmap(m.data); err != nil {
		return errors.Wrap(err, "munmap")
	}
	m.data = nil
	if err := m.file.Truncate(newSize); err != nil {
		return errors.Wrap(err, "grow file")
	}
	return m.mapRegion(newSize)
}

// ReadPage copies page id out of the mapped region. The copy keeps callers
// valid across a remap.
func (m *MMap) ReadPage(id uint64, buf []byte) error {
	if m.data == nil {
		return ErrClosed
	}
	if len(buf) != m.pageSize {
		return errors.Newf("buffer of %d bytes for page size %d", len(buf), m.pageSize)
	}

	m.reads.Add(1)
	off := int64(id) * int64(m.pageSize)
	if off+int64(m.pageSize) > int64(len(m.data)) {
		clear(buf)
		return nil
	}
	copy(buf, m.data[off:])
	m.read.Add(uint64(m.pageSize))
	return nil
}

// WritePage copies buf into the mapped region, growing it when needed
func (m *MMap) WritePage(id uint64, buf []byte) error {
	if m.data == nil {
		return ErrClosed
	}
	if len(buf) != m.pageSize {
		return errors.Newf("buffer of %d bytes for page size %d", len(buf), m.pageSize)
	}

	off := int64(id) * int64(m.pageSize)
	end := off + int64(m.pageSize)
	if end > int64(len(m.data)) {
		if err := m.grow(end); err != nil {
			return err
		}
	}

	m.writes.Add(1)
	copy(m.data[off:end], buf)
	m.written.Add(uint64(m.pageSize))
	return nil
}

// Sync flushes the memory-mapped region to disk
func (m *MMap) Sync() error {
	if m.data == nil {
		return ErrClosed
	}
	if err := unix.Msync(m.data, unix.MS_SYNC); err != nil {
		return errors.Wrap(err, "msync")
	}
	return m.file.Sync()
}

// Empty returns whether the file was created by this open
func (m *MMap) Empty() (bool, error) {
	return m.empty, nil
}

// Stats returns I/O statistics
func (m *MMap) Stats() Stats {
	return m.stats()
}

// Close unmaps the region and closes the file
func (m *MMap) Close() error {
	if m.file == nil {
		return nil
	}
	if m.data != nil {
		if err := unix.Munmap(m.data); err != nil {
			return errors.Wrap(err, "munmap")
		}
		m.data = nil
	}
	err := m.file.Close()
	m.file = nil
	return err
}
