package lightnvm

import (
	"github.com/ehrlich-b/go-lightnvm/internal/interfaces"
	"github.com/ehrlich-b/go-lightnvm/internal/logging"
)

// Backend contract, shared with the transports in package backend
type (
	Backend       = interfaces.Backend
	BbtBackend    = interfaces.BbtBackend
	ReportBackend = interfaces.ReportBackend
	SerialBackend = interfaces.SerialBackend
	AsyncBackend  = interfaces.AsyncBackend
	AsyncContext  = interfaces.AsyncContext
	Command       = interfaces.Command
	Callback      = interfaces.Callback
	Ret           = interfaces.Ret
	Opener        = interfaces.Opener
	Registrar     = interfaces.Registrar
)

// Opener flags
const (
	OpenWritable = interfaces.OpenWritable
	OpenIOUring  = interfaces.OpenIOUring
)

// Logging
type (
	Logger       = logging.Logger
	LoggerConfig = logging.Config
	LogLevel     = logging.LogLevel
)

const (
	LevelDebug = logging.LevelDebug
	LevelInfo  = logging.LevelInfo
	LevelWarn  = logging.LevelWarn
	LevelError = logging.LevelError
)

// NewLogger creates a logger for Config.Logger
func NewLogger(config *LoggerConfig) *Logger {
	return logging.NewLogger(config)
}

// DefaultLoggerConfig returns the logging defaults: info level, text to stderr
func DefaultLoggerConfig() *LoggerConfig {
	return logging.DefaultConfig()
}
