package lightnvm

import (
	"errors"
	"fmt"
	"strings"
	"syscall"
)

// Error represents a structured lightnvm error with context and errno mapping
type Error struct {
	Op     string        // Operation that failed (e.g., "erase", "bbt_get")
	Device string        // Device name ("" if not applicable)
	Code   ErrorCode     // High-level error category
	Errno  syscall.Errno // Transport errno (0 if not applicable)
	Status uint64        // Device completion status of the failing command
	Result uint32        // Device completion result of the failing command
	Addr   *Addr         // Offending address, if any
	Bounds BoundsMask    // Violated dimensions for out of bounds errors
	Msg    string        // Human-readable message
	Inner  error         // Wrapped error
}

// Error implements the error interface
func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.Device != "" {
		parts = append(parts, fmt.Sprintf("dev=%s", e.Device))
	}
	if e.Addr != nil {
		parts = append(parts, fmt.Sprintf("addr=%s", e.Addr))
	}
	if e.Bounds != 0 {
		parts = append(parts, fmt.Sprintf("bounds=%s", e.Bounds))
	}
	if e.Status != 0 || e.Result != 0 {
		parts = append(parts, fmt.Sprintf("status=0x%x result=0x%x", e.Status, e.Result))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("lightnvm: %s (%s)", msg, strings.Join(parts, " "))
	}

	return fmt.Sprintf("lightnvm: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is provides errors.Is support against codes, legacy sentinels and errnos
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}

	if ne, ok := target.(NvmError); ok {
		return e.Code == ErrorCode(ne)
	}

	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}

	if errno, ok := target.(syscall.Errno); ok {
		return e.Errno != 0 && e.Errno == errno
	}

	return false
}

// ErrorCode represents high-level error categories
type ErrorCode string

const (
	ErrCodeInvalidArgument    ErrorCode = "invalid argument"
	ErrCodeOutOfBounds        ErrorCode = "address out of bounds"
	ErrCodeInsufficientMemory ErrorCode = "insufficient memory"
	ErrCodeIOError            ErrorCode = "I/O error"
	ErrCodeNotSupported       ErrorCode = "not supported"
	ErrCodeInvalidGeometry    ErrorCode = "invalid geometry"
	ErrCodeDeviceNotFound     ErrorCode = "device not found"
	ErrCodeDeviceBusy         ErrorCode = "device busy"
	ErrCodePermissionDenied   ErrorCode = "permission denied"
	ErrCodeTimeout            ErrorCode = "timeout"
)

// NvmError is the plain sentinel form of an ErrorCode
type NvmError string

func (e NvmError) Error() string {
	return string(e)
}

// Sentinels usable with errors.Is
const (
	ErrInvalidArgument    NvmError = "invalid argument"
	ErrOutOfBounds        NvmError = "address out of bounds"
	ErrInsufficientMemory NvmError = "insufficient memory"
	ErrIOError            NvmError = "I/O error"
	ErrNotSupported       NvmError = "not supported"
	ErrInvalidGeometry    NvmError = "invalid geometry"
	ErrDeviceNotFound     NvmError = "device not found"
	ErrDeviceBusy         NvmError = "device busy"
	ErrPermissionDenied   NvmError = "permission denied"
)

// Error constructors

// NewError creates a new structured error
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{
		Op:   op,
		Code: code,
		Msg:  msg,
	}
}

// NewErrorWithErrno creates a new structured error with errno
func NewErrorWithErrno(op string, code ErrorCode, errno syscall.Errno) *Error {
	return &Error{
		Op:    op,
		Code:  code,
		Errno: errno,
		Msg:   errno.Error(),
	}
}

// NewBoundsError reports the first offending address and the OR of all
// violated dimensions.
func NewBoundsError(op string, addr Addr, mask BoundsMask) *Error {
	return &Error{
		Op:     op,
		Code:   ErrCodeOutOfBounds,
		Errno:  syscall.EINVAL,
		Addr:   &addr,
		Bounds: mask,
	}
}

// NewIOError wraps a failed command together with its completion codes
func NewIOError(op string, ret Ret, inner error) *Error {
	e := &Error{
		Op:     op,
		Code:   ErrCodeIOError,
		Status: ret.Status,
		Result: ret.Result,
		Inner:  inner,
	}
	var errno syscall.Errno
	if errors.As(inner, &errno) {
		e.Errno = errno
		e.Code = mapErrnoToCode(errno)
		if e.Code == ErrCodeInvalidArgument {
			// The device rejected a command the host considered valid
			e.Code = ErrCodeIOError
		}
	}
	if inner != nil {
		e.Msg = inner.Error()
	}
	return e
}

// WrapError wraps an existing error with lightnvm context
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	// If it's already a structured error, just update the operation
	if ne, ok := inner.(*Error); ok {
		cp := *ne
		cp.Op = op
		return &cp
	}

	code := ErrCodeIOError
	var errno syscall.Errno
	if errors.As(inner, &errno) {
		code = mapErrnoToCode(errno)
		return &Error{
			Op:    op,
			Code:  code,
			Errno: errno,
			Msg:   inner.Error(),
			Inner: inner,
		}
	}

	return &Error{
		Op:    op,
		Code:  code,
		Msg:   inner.Error(),
		Inner: inner,
	}
}

// mapErrnoToCode maps syscall errno to error codes
func mapErrnoToCode(errno syscall.Errno) ErrorCode {
	switch errno {
	case syscall.ENOENT, syscall.ENODEV, syscall.ENXIO:
		return ErrCodeDeviceNotFound
	case syscall.EBUSY:
		return ErrCodeDeviceBusy
	case syscall.EINVAL, syscall.E2BIG:
		return ErrCodeInvalidArgument
	case syscall.ENOSYS, syscall.EOPNOTSUPP, syscall.ENOTTY:
		return ErrCodeNotSupported
	case syscall.EPERM, syscall.EACCES, syscall.EROFS:
		return ErrCodePermissionDenied
	case syscall.ENOMEM, syscall.ENOSPC:
		return ErrCodeInsufficientMemory
	case syscall.ETIMEDOUT:
		return ErrCodeTimeout
	default:
		return ErrCodeIOError
	}
}

// IsCode checks if an error matches a specific error code
func IsCode(err error, code ErrorCode) bool {
	var nvmErr *Error
	if errors.As(err, &nvmErr) {
		return nvmErr.Code == code
	}
	return false
}

// IsErrno checks if an error matches a specific errno
func IsErrno(err error, errno syscall.Errno) bool {
	var nvmErr *Error
	if errors.As(err, &nvmErr) {
		return nvmErr.Errno == errno
	}
	return false
}

func (d *Device) errorf(op string, code ErrorCode, format string, args ...any) *Error {
	return &Error{
		Op:     op,
		Device: d.name,
		Code:   code,
		Msg:    fmt.Sprintf(format, args...),
	}
}

func (d *Device) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	e := WrapError(op, err)
	if e.Device == "" {
		e.Device = d.name
	}
	return e
}
