package blinkmap

// Options configures tree behavior. Sizes and capacity are fixed per tree
// instance: they shape the on-disk slot layout and are validated against
// the file headers on reopen.
type Options struct {
	maxKeySize     int
	maxValueSize   int
	capacity       uint64 // slot capacity per store
	syncEveryWrite bool
	nodeCacheSize  int   // decoded nodes held in the LRU
	keyCacheBytes  int64 // budget for the key payload cache
	logger         Logger
	locks          LockPolicy
}

func defaultOptions() Options {
	return Options{
		maxKeySize:    256,
		maxValueSize:  1024,
		capacity:      1 << 20,
		nodeCacheSize: 1024,
		keyCacheBytes: 16 << 20, // 16MB
		logger:        DiscardLogger{},
		locks:         NoLocks{},
	}
}

// Option configures the tree using the functional options pattern.
type Option func(*Options)

// WithMaxKeySize bounds key length in bytes. Determines the key and index
// slot sizes on disk.
func WithMaxKeySize(n int) Option {
	return func(o *Options) {
		o.maxKeySize = n
	}
}

// WithMaxValueSize bounds value length in bytes. Determines the value slot
// size on disk.
func WithMaxValueSize(n int) Option {
	return func(o *Options) {
		o.maxValueSize = n
	}
}

// WithCapacity bounds the number of slots each of the three stores may
// allocate. Allocation past the bound fails with ErrStoreFull.
func WithCapacity(n uint64) Option {
	return func(o *Options) {
		o.capacity = n
	}
}

// WithSyncEveryWrite fsyncs the backing files after every slot write.
// Maximum durability, fsync-bound throughput. The default syncs on Close
// and explicit Sync only.
func WithSyncEveryWrite() Option {
	return func(o *Options) {
		o.syncEveryWrite = true
	}
}

// WithNodeCacheSize sets how many decoded index nodes stay in memory.
func WithNodeCacheSize(n int) Option {
	return func(o *Options) {
		o.nodeCacheSize = n
	}
}

// WithKeyCacheBytes sets the in-memory budget for cached key payloads.
func WithKeyCacheBytes(n int64) Option {
	return func(o *Options) {
		o.keyCacheBytes = n
	}
}

// WithLogger routes tree diagnostics to the given logger. A *slog.Logger
// satisfies the interface directly.
func WithLogger(l Logger) Option {
	return func(o *Options) {
		o.logger = l
	}
}

// WithLockPolicy installs per-node latching around node reads and writes.
func WithLockPolicy(p LockPolicy) Option {
	return func(o *Options) {
		o.locks = p
	}
}
