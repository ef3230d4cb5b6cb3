// Package logger provides the process-wide debug logger.
package logger

import (
	"log"
	"os"
)

// DebugLog prints a debug message when ECG_DEBUG=1 is set in the environment.
func DebugLog(format string, args ...any) {
	if os.Getenv("ECG_DEBUG") == "1" {
		log.Printf("[DEBUG] "+format, args...)
	}
}

// WarnLog prints a non-fatal warning. Warnings are always emitted; they mark
// degraded-but-continuing conditions such as advisory OCR failures.
func WarnLog(format string, args ...any) {
	log.Printf("[WARN] "+format, args...)
}
