package trail

import (
	"fmt"
	"strings"
)

// Formatter renders entries as human-readable text.
type Formatter interface {
	Format(entries []Entry) string
}

// PlainFormatter prefixes each line with its wall-clock time.
type PlainFormatter struct{}

func (f *PlainFormatter) Format(entries []Entry) string {
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%s %s %s\n", e.Timestamp.Format("15:04:05"), marker(e.Line), e.Line)
	}
	return b.String()
}

func marker(line string) string {
	switch {
	case strings.HasPrefix(line, "[Final]"):
		return "✓"
	case strings.HasPrefix(line, "[Error]"):
		return "✗"
	case strings.HasPrefix(line, "[Step"):
		return "▶"
	default:
		return "·"
	}
}
