package logger

import (
	"io"
	"os"

	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// DebugEnv turns on debug logging regardless of flags and settings.
const DebugEnv = "LMN_DEBUG"

// Options select where log lines go and how verbose they are.
type Options struct {
	Debug bool
	File  string    // Optional rotating log file; JSON encoded
	Out   io.Writer // Console sink; os.Stderr when nil
}

func (o Options) debug() bool {
	if _, ok := os.LookupEnv(DebugEnv); ok {
		return true
	}
	return o.Debug
}

// Otel wraps l so log lines are also recorded as events on the span in the context
// passed to the Ctx variants.
func Otel(l *zap.Logger) *otelzap.Logger {
	return otelzap.New(l, otelzap.WithMinLevel(zap.InfoLevel))
}
