// Package rtlog is the runtime's structured logger: one charmbracelet/log
// logger per subsystem, with a strftime-formatted deadline prefix for the
// file-read scheduler's trace lines.
package rtlog

import (
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/lestrrat-go/strftime"
)

var base = log.NewWithOptions(os.Stderr, log.Options{
	ReportTimestamp: true,
	TimeFormat:      time.StampMilli,
})

// For returns a named, prefix-tagged logger for one subsystem ("ioreq",
// "resource", "mixer", ...), mirroring the original's per-module DMSG tags.
func For(subsystem string) *log.Logger {
	return base.WithPrefix(subsystem)
}

var deadlineFormat = mustFormatter("%H:%M:%S")

func mustFormatter(layout string) *strftime.Strftime {
	f, err := strftime.New(layout)
	if err != nil {
		panic(err)
	}
	return f
}

// FormatDeadline renders a wall-clock deadline the way scheduler trace
// lines report missed/expired deadlines.
func FormatDeadline(t time.Time) string {
	var b []byte
	return string(deadlineFormat.AppendFormat(b, t))
}
