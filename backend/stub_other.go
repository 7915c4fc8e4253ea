//go:build !linux

package backend

import (
	"syscall"

	"github.com/ehrlich-b/go-lightnvm/internal/interfaces"
)

// OpenIoctl is the Opener for the IOCTL backend, which requires Linux
func OpenIoctl(string, int) (interfaces.Backend, error) {
	return nil, syscall.ENOSYS
}

// OpenNocd is the Opener for the NOCD backend, which requires Linux
func OpenNocd(string, int) (interfaces.Backend, error) {
	return nil, syscall.ENOSYS
}
