// Package errchain formats wrapped error chains for logging and for
// returning to callers that want a layer-by-layer breakdown of what went
// wrong rather than just the outermost message.
package errchain

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Log walks err's chain via errors.Unwrap and emits one structured log
// entry per layer under msg.
func Log(logger *zap.Logger, msg string, err error) {
	if err == nil {
		logger.Info(msg, zap.String("error", "<nil>"))
		return
	}
	for i, e := 0, err; e != nil; i, e = i+1, errors.Unwrap(e) {
		logger.Error(msg,
			zap.Int("layer", i),
			zap.String("type", fmt.Sprintf("%T", e)),
			zap.String("message", e.Error()),
		)
	}
}

// Format renders err's chain as one line per layer, outermost first, for
// callers that want plain text (e.g. an HTTP error response body).
func Format(err error) []string {
	if err == nil {
		return []string{"<nil>"}
	}
	var lines []string
	for i, e := 0, err; e != nil; i, e = i+1, errors.Unwrap(e) {
		lines = append(lines, fmt.Sprintf("[%d] %T: %v", i, e, e))
	}
	return lines
}
