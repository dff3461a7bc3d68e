// Package diag defines the diagnostic record shared by every processing layer.
package diag

import (
	"fmt"
	"strings"
)

// Severity of a diagnostic.
type Severity int

const (
	Info Severity = iota
	Warning
	Error
)

func (s Severity) String() string {
	switch s {
	case Info:
		return "info"
	case Warning:
		return "warning"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// MarshalText renders the severity name, so diagnostics serialize readably.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a severity name.
func (s *Severity) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "info":
		*s = Info
	case "warning", "warn":
		*s = Warning
	case "error":
		*s = Error
	default:
		return fmt.Errorf("unknown severity %q", string(b))
	}
	return nil
}

// Source tags which layer produced a diagnostic.
type Source string

const (
	SourceParser    Source = "parser"
	SourceExtractor Source = "extractor"
	SourceCompiler  Source = "compiler"
	SourceValidator Source = "validator"
	SourceRepack    Source = "repack"
	SourceIngest    Source = "ingest"
)

// Diagnostic is a single finding. Line is 1-based; 0 means no line.
type Diagnostic struct {
	Severity Severity `json:"severity"`
	Source   Source   `json:"source"`
	Message  string   `json:"message"`
	Line     int      `json:"line,omitempty"`
}

func (d Diagnostic) String() string {
	if d.Line > 0 {
		return fmt.Sprintf("[%s] %s: line %d: %s", d.Severity, d.Source, d.Line, d.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", d.Severity, d.Source, d.Message)
}

// List accumulates diagnostics in emission order.
type List []Diagnostic

// Add appends a diagnostic.
func (l *List) Add(sev Severity, src Source, line int, format string, args ...any) {
	*l = append(*l, Diagnostic{
		Severity: sev,
		Source:   src,
		Message:  fmt.Sprintf(format, args...),
		Line:     line,
	})
}

// Infof appends an Info without line number.
func (l *List) Infof(src Source, format string, args ...any) {
	l.Add(Info, src, 0, format, args...)
}

// Warnf appends a Warning without line number.
func (l *List) Warnf(src Source, format string, args ...any) {
	l.Add(Warning, src, 0, format, args...)
}

// Errorf appends an Error without line number.
func (l *List) Errorf(src Source, format string, args ...any) {
	l.Add(Error, src, 0, format, args...)
}

// Extend appends all of other.
func (l *List) Extend(other List) {
	*l = append(*l, other...)
}

// Remap re-tags diagnostics for a new layer, keeping severity and line and
// prefixing each message.
func (l List) Remap(src Source, prefix string) List {
	out := make(List, len(l))
	for i, d := range l {
		d.Source = src
		if prefix != "" {
			d.Message = prefix + d.Message
		}
		out[i] = d
	}
	return out
}

// HasErrors reports whether any diagnostic is an Error.
func (l List) HasErrors() bool {
	return l.Count(Error) > 0
}

// Count returns the number of diagnostics with the given severity.
func (l List) Count(sev Severity) int {
	n := 0
	for _, d := range l {
		if d.Severity == sev {
			n++
		}
	}
	return n
}

// Filter returns diagnostics with severity at or above min.
func (l List) Filter(min Severity) List {
	var out List
	for _, d := range l {
		if d.Severity >= min {
			out = append(out, d)
		}
	}
	return out
}

// Log renders the list one diagnostic per line.
func (l List) Log() string {
	var b strings.Builder
	for _, d := range l {
		b.WriteString(d.String())
		b.WriteByte('\n')
	}
	return b.String()
}
