package ordex

// Options configures an Index.
type Options struct {
	path            string // index file, empty for an in-memory index
	pageSize        int    // bytes per node page
	nodeCapacity    int    // max keys per node, 0 derives it from pageSize
	cacheSize       int    // pages held by the buffer pool
	mmap            bool   // memory-mapped file I/O instead of positioned reads/writes
	concurrent      bool   // iterators resync after changes instead of failing
	caseInsensitive bool   // fold string keys to lower case
	logger          Logger
}

// DefaultOptions returns the configuration used when no option is given:
// an in-memory index with 4KB nodes and strict iterators.
//
//goland:noinspection GoUnusedExportedFunction
func DefaultOptions() Options {
	return Options{
		pageSize:  4096,
		cacheSize: 1024,
		logger:    DiscardLogger{},
	}
}

// Option configures index options using the functional options pattern.
type Option func(*Options)

// WithFile keeps the index in the file at path. The file is created when
// missing and reopened otherwise.
func WithFile(path string) Option {
	return func(opts *Options) {
		opts.path = path
	}
}

// WithPageSize sets the node page size in bytes. It must be a power of two
// between 1KB and 64KB, and must match the size an existing file was
// created with.
func WithPageSize(size int) Option {
	return func(opts *Options) {
		opts.pageSize = size
	}
}

// WithNodeCapacity caps the number of keys per node below what a page
// holds. Small capacities give deep trees, which is mostly useful in tests.
func WithNodeCapacity(n int) Option {
	return func(opts *Options) {
		opts.nodeCapacity = n
	}
}

// WithCacheSize sets how many pages the buffer pool of a file-backed index
// keeps in memory.
func WithCacheSize(pages int) Option {
	return func(opts *Options) {
		opts.cacheSize = pages
	}
}

// WithMMap uses memory-mapped I/O for the index file.
//
//goland:noinspection GoUnusedExportedFunction
func WithMMap() Option {
	return func(opts *Options) {
		opts.mmap = true
	}
}

// WithConcurrentIterators lets iterators continue across changes made to
// the index while they are open. Each iterator then re-seeks from its last
// entry and sees whatever the index holds at that point. Without this
// option such an iterator fails with ErrConcurrentModification.
func WithConcurrentIterators() Option {
	return func(opts *Options) {
		opts.concurrent = true
	}
}

// WithCaseInsensitive lower-cases string keys and string components of
// composite keys before they are stored or compared. The original case is
// not recoverable from the index.
func WithCaseInsensitive() Option {
	return func(opts *Options) {
		opts.caseInsensitive = true
	}
}

// WithLogger sets the logger. A nil logger discards everything.
func WithLogger(l Logger) Option {
	return func(opts *Options) {
		if l == nil {
			l = DiscardLogger{}
		}
		opts.logger = l
	}
}
