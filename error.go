package ordex

import (
	"github.com/alexhholmes/ordex/internal/base"
	"github.com/alexhholmes/ordex/internal/storage"
)

//goland:noinspection GoUnusedGlobalVariable
var (
	ErrIncompatibleKeyType    = base.ErrIncompatibleKeyType
	ErrKeyNotUnique           = base.ErrKeyNotUnique
	ErrKeyNotFound            = base.ErrKeyNotFound
	ErrUnsupportedIndexType   = base.ErrUnsupportedIndexType
	ErrConcurrentModification = base.ErrConcurrentModification
	ErrIndexedFieldNotFound   = base.ErrIndexedFieldNotFound

	ErrIndexClosed    = base.ErrIndexClosed
	ErrKeyTooLarge    = base.ErrKeyTooLarge
	ErrOutOfRange     = base.ErrOutOfRange
	ErrInvalidOptions = base.ErrInvalidOptions

	ErrCorruption         = base.ErrCorruption
	ErrPageOverflow       = base.ErrPageOverflow
	ErrInvalidMagicNumber = base.ErrInvalidMagicNumber
	ErrInvalidVersion     = base.ErrInvalidVersion
	ErrInvalidPageSize    = base.ErrInvalidPageSize
	ErrInvalidChecksum    = base.ErrInvalidChecksum
	ErrStorageClosed      = storage.ErrClosed
)
