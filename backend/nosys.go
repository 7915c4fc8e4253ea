package backend

import (
	"syscall"

	"github.com/ehrlich-b/go-lightnvm/internal/interfaces"
)

// Nosys is a transport that implements nothing. It stands in for backends
// that are not built into this library, so that asking for them by name
// fails with ENOSYS instead of a missing registration.
type Nosys struct{}

// OpenNosys is the Opener for unsupported backends
func OpenNosys(string, int) (interfaces.Backend, error) {
	return nil, syscall.ENOSYS
}

func (Nosys) Identify() ([]byte, error) { return nil, syscall.ENOSYS }

func (Nosys) Erase([]uint64, []byte, uint16) (interfaces.Ret, error) {
	return interfaces.Ret{}, syscall.ENOSYS
}

func (Nosys) Write([]uint64, []byte, []byte, uint16) (interfaces.Ret, error) {
	return interfaces.Ret{}, syscall.ENOSYS
}

func (Nosys) Read([]uint64, []byte, []byte, uint16) (interfaces.Ret, error) {
	return interfaces.Ret{}, syscall.ENOSYS
}

func (Nosys) Copy([]uint64, []uint64, uint16) (interfaces.Ret, error) {
	return interfaces.Ret{}, syscall.ENOSYS
}

func (Nosys) Close() error { return nil }

var _ interfaces.Backend = Nosys{}
