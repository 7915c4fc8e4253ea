package backend

import (
	"io"

	"github.com/ehrlich-b/go-lightnvm/internal/logging"
)

func quietLogger() *logging.Logger {
	return logging.NewLogger(&logging.Config{
		Level:  logging.LevelError,
		Format: "json",
		Output: io.Discard,
		Sync:   true,
	})
}
