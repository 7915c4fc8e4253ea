// Package interfaces defines the contract between the device handle and the
// transports that execute vector commands.
package interfaces

// Ret carries the lower-level completion codes of a command
type Ret struct {
	Status uint64
	Result uint32
}

// Backend executes vector commands on device-encoded addresses.
//
// Addresses are already converted to the device format and each call
// carries at most 64 of them. data and meta, when non-nil, hold exactly one
// sector (respectively one OOB area) per address. Failures are reported as
// syscall.Errno values together with whatever completion codes the transport
// produced.
type Backend interface {
	// Identify returns the 4096 byte identify payload
	Identify() ([]byte, error)

	// Erase resets the blocks or chunks addressed by ppas. When meta is
	// non-nil it receives one 64 byte chunk descriptor per address.
	Erase(ppas []uint64, meta []byte, flags uint16) (Ret, error)

	// Write programs one sector per address
	Write(ppas []uint64, data, meta []byte, flags uint16) (Ret, error)

	// Read fetches one sector per address
	Read(ppas []uint64, data, meta []byte, flags uint16) (Ret, error)

	// Copy moves sectors from src to dst without host transfer
	Copy(src, dst []uint64, flags uint16) (Ret, error)

	// Close releases the transport. No other method may be called after.
	Close() error
}

// BbtBackend is implemented by transports exposing 1.2 bad block tables
type BbtBackend interface {
	Backend

	// GetBbt returns the raw table (header plus nblks states) of the
	// (ch,lun) encoded in ppa.
	GetBbt(ppa uint64, nblks int) ([]byte, Ret, error)

	// SetBbt marks up to 64 addresses with state
	SetBbt(ppas []uint64, state uint16) (Ret, error)
}

// ReportBackend is implemented by transports exposing 2.0 chunk reports
type ReportBackend interface {
	Backend

	// Report returns the raw report of every chunk on the device, ordered by
	// group, parallel unit and chunk.
	Report() ([]byte, Ret, error)
}

// SerialBackend is implemented by transports that know the controller serial
type SerialBackend interface {
	Backend

	Serial() string
}

// Command is one unit of asynchronous work
type Command struct {
	Opcode uint8
	Ppas   []uint64
	Dst    []uint64
	Data   []byte
	Meta   []byte
	Flags  uint16
}

// Callback receives the completion of an asynchronous command
type Callback func(ret Ret, err error)

// AsyncContext queues commands and reaps their completions
type AsyncContext interface {
	// Submit queues cmd. It returns syscall.EAGAIN when Depth commands are
	// outstanding; reap completions to make room.
	Submit(cmd *Command, cb Callback) error

	// Poke reaps up to max completions without blocking; max <= 0 means
	// all available. Callbacks run on the calling goroutine.
	Poke(max int) (int, error)

	// Wait reaps completions until nothing is outstanding
	Wait() (int, error)

	// Outstanding returns the number of submitted but unreaped commands
	Outstanding() int

	// Depth returns the maximum number of commands in flight
	Depth() int

	Close() error
}

// AsyncBackend is implemented by transports supporting asynchronous commands
type AsyncBackend interface {
	Backend

	NewAsync(depth int) (AsyncContext, error)
}

// Opener opens a backend for the device at path. flags carries
// OpenWritable and friends.
type Opener func(path string, flags int) (Backend, error)

// Open flags
const (
	OpenWritable = 0x1
	OpenIOUring  = 0x2 // Prefer io_uring for file backed transports
)

// Registrar accepts backend registrations
type Registrar interface {
	Register(id int, name string, open Opener) error
}
