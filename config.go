package lightnvm

// Config controls how a device is opened and how commands are issued
type Config struct {
	// Backend selects the transport; BeAny tries every registered one
	Backend BackendID

	// Registry resolves Backend to an opener (required by Open)
	Registry *Registry

	// Writable opens the device for erase and write
	Writable bool

	// IOUring asks file backed transports to submit through io_uring
	IOUring bool

	// Quirks are OR-ed with the quirks derived from the device serial
	Quirks Quirks

	// PMode overrides the plane mode derived from the geometry
	PMode *uint16

	// MetaMode is used by helpers filling out-of-band buffers
	MetaMode MetaMode

	// Per-opcode address limits (0 means NaddrMax)
	EraseNaddrsMax int
	ReadNaddrsMax  int
	WriteNaddrsMax int

	// NoBoundsCheck skips address validation before submission
	NoBoundsCheck bool

	// AbortOnError stops a multi-command call at the first failing command
	// instead of attempting every command.
	AbortOnError bool

	// BbtCache keeps bad block tables in memory until flushed
	BbtCache     bool
	BbtCacheSize int // Tables kept (default: DefaultBbtCacheSize)

	// Logger for device messages (if nil, uses the default logger)
	Logger *Logger

	// Observer for metrics collection (if nil, records to Device.Metrics)
	Observer Observer
}

// DefaultConfig returns a read-only configuration trying every backend in reg
func DefaultConfig(reg *Registry) Config {
	return Config{
		Backend:      BeAny,
		Registry:     reg,
		MetaMode:     MetaModeNone,
		BbtCacheSize: DefaultBbtCacheSize,
	}
}
