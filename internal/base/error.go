package base

import "github.com/cockroachdb/errors"

var (
	ErrIncompatibleKeyType    = errors.New("incompatible key type")
	ErrKeyNotUnique           = errors.New("key not unique")
	ErrKeyNotFound            = errors.New("key not found")
	ErrUnsupportedIndexType   = errors.New("unsupported index type")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrIndexedFieldNotFound   = errors.New("indexed field not found")

	ErrKeyTooLarge    = errors.New("key too large")
	ErrOutOfRange     = errors.New("position out of range")
	ErrIndexClosed    = errors.New("index is closed")
	ErrInvalidOptions = errors.New("invalid options")

	ErrCorruption         = errors.New("data corruption detected")
	ErrPageOverflow       = errors.New("page overflow")
	ErrInvalidMagicNumber = errors.New("invalid magic number")
	ErrInvalidVersion     = errors.New("invalid format version")
	ErrInvalidPageSize    = errors.New("invalid page size")
	ErrInvalidChecksum    = errors.New("invalid checksum")
)
