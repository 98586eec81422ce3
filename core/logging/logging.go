// Package logging is a thin wrapper of zap logging library.
//
// Log level of each package is taken from environment variable TSBRIDGE_LOG_<pkg>, or
// TSBRIDGE_LOG if the former is absent. TSBRIDGE_LOG_FORMAT=console selects a human readable
// encoder in place of JSON.
package logging

import (
	"os"
	"strconv"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var root = func() *zap.Logger {
	encoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	if os.Getenv("TSBRIDGE_LOG_FORMAT") == "console" {
		encoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	}
	return zap.New(zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), zap.DebugLevel))
}()

// Named creates a named logger without initialization.
func Named(pkg string) *zap.Logger {
	return root.Named(pkg)
}

// New creates a logger initialized with configured log level.
//
// By codebase convention, this should appear in the same .go file as the package docstring:
//
//	var logger = logging.New("Foo")
func New(pkg string) *zap.Logger {
	return Named(pkg).WithOptions(zap.IncreaseLevel(GetLevel(pkg).al))
}

// Hex creates a field that renders an unsigned integer as hexadecimal string.
func Hex[T ~uint8 | ~uint16 | ~uint32 | ~uint64](key string, value T) zap.Field {
	return zap.Stringer(key, hexValue(value))
}

type hexValue uint64

func (v hexValue) String() string {
	return "0x" + strconv.FormatUint(uint64(v), 16)
}
