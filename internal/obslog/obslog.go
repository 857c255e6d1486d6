// Package obslog is a minimal leveled logger. The teacher repo prints
// status lines straight to stdout with fmt.Printf and never pulls in a
// structured logging library; no pack example in this module's domain does
// either (zap appears only in 2lar-b2 and eion, neither the chosen
// teacher). This keeps that texture instead of introducing an unrelated
// dependency — see DESIGN.md.
package obslog

import (
	"log"
	"os"
)

type Logger struct {
	prefix string
	l      *log.Logger
}

func New(prefix string) *Logger {
	return &Logger{prefix: prefix, l: log.New(os.Stderr, "", log.LstdFlags)}
}

func (lg *Logger) Infof(format string, args ...interface{}) {
	lg.l.Printf("[INFO] "+lg.prefix+" "+format, args...)
}

func (lg *Logger) Warnf(format string, args ...interface{}) {
	lg.l.Printf("[WARN] "+lg.prefix+" "+format, args...)
}

func (lg *Logger) Errorf(format string, args ...interface{}) {
	lg.l.Printf("[ERROR] "+lg.prefix+" "+format, args...)
}
