// Package storage reads and writes fixed-size pages of an index file.
package storage

import (
	"io"
	"os"
	"sync/atomic"

	"github.com/cockroachdb/errors"
)

// ErrClosed is returned by every operation on a closed backend.
var ErrClosed = errors.New("storage closed")

// Storage is a page-addressed file. Pages never written read back as zeros.
type Storage interface {
	ReadPage(id uint64, buf []byte) error
	WritePage(id uint64, buf []byte) error
	Sync() error
	Empty() (bool, error)
	Stats() Stats
	Close() error
}

// Stats holds I/O statistics
type Stats struct {
	Reads   uint64
	Writes  uint64
	Read    uint64
	Written uint64
}

type counters struct {
	reads   atomic.Uint64
	writes  atomic.Uint64
	read    atomic.Uint64
	written atomic.Uint64
}

func (c *counters) stats() Stats {
	return Stats{
		Reads:   c.reads.Load(),
		Writes:  c.writes.Load(),
		Read:    c.read.Load(),
		Written: c.written.Load(),
	}
}

// File implements Storage with positioned reads and writes on a regular file
type File struct {
	file     *os.File
	pageSize int
	counters
}

var _ Storage = (*File)(nil)

// NewFile opens or creates the file at path
func NewFile(path string, pageSize int) (*File, error) {
	if pageSize <= 0 {
		return nil, errors.Newf("invalid page size %d", pageSize)
	}
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	return &File{file: file, pageSize: pageSize}, nil
}

// ReadPage fills buf with page id
func (f *File) ReadPage(id uint64, buf []byte) error {
	if f.file == nil {
		return ErrClosed
	}
	if len(buf) != f.pageSize {
		return errors.Newf("buffer of %d bytes for page size %d", len(buf), f.pageSize)
	}

	f.reads.Add(1)
	n, err := f.file.ReadAt(buf, int64(id)*int64(f.pageSize))
	f.read.Add(uint64(n))
	if err == io.EOF {
		// past the end of file: the page was allocated but never written
		clear(buf[n:])
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "read page %d", id)
	}
	return nil
}

// WritePage writes buf as page id
func (f *File) WritePage(id uint64, buf []byte) error {
	if f.file == nil {
		return ErrClosed
	}
	if len(buf) != f.pageSize {
		return errors.Newf("buffer of %d bytes for page size %d", len(buf), f.pageSize)
	}

	f.writes.Add(1)
	n, err := f.file.WriteAt(buf, int64(id)*int64(f.pageSize))
	f.written.Add(uint64(n))
	if err != nil {
		return errors.Wrapf(err, "write page %d", id)
	}
	if n != len(buf) {
		return errors.Newf("short write: wrote %d bytes, expected %d", n, len(buf))
	}
	return nil
}

// Sync flushes buffered writes to disk
func (f *File) Sync() error {
	if f.file == nil {
		return ErrClosed
	}
	return f.file.Sync()
}

// Empty returns whether the file is empty
func (f *File) Empty() (bool, error) {
	if f.file == nil {
		return false, ErrClosed
	}
	info, err := f.file.Stat()
	if err != nil {
		return false, err
	}
	return info.Size() == 0, nil
}

// Stats returns I/O statistics
func (f *File) Stats() Stats {
	return f.stats()
}

// Close closes the file
func (f *File) Close() error {
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	return err
}
