//go:build !linux && !darwin

package storage

// MMap falls back to File on platforms without mmap support
type MMap struct {
	*File
}

func NewMMap(path string, pageSize int) (*MMap, error) {
	f, err := NewFile(path, pageSize)
	if err != nil {
		return nil, err
	}
	return &MMap{File: f}, nil
}
