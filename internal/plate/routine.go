package plate

import "strings"

// Routine is an ordered G-code program. Lines are never reordered or deduplicated.
type Routine struct {
	lines []string
}

// NewRoutine creates a routine holding a copy of lines.
func NewRoutine(lines ...string) *Routine {
	r := &Routine{lines: make([]string, 0, len(lines))}
	r.lines = append(r.lines, lines...)
	return r
}

// ParseRoutine splits program text into lines. A trailing newline does not
// produce an empty final line.
func ParseRoutine(text string) *Routine {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return NewRoutine()
	}
	return &Routine{lines: strings.Split(text, "\n")}
}

// Lines returns the program lines. The slice must not be modified.
func (r *Routine) Lines() []string {
	if r == nil {
		return nil
	}
	return r.lines
}

// Len returns the number of lines.
func (r *Routine) Len() int {
	if r == nil {
		return 0
	}
	return len(r.lines)
}

// Append adds lines at the end.
func (r *Routine) Append(lines ...string) {
	r.lines = append(r.lines, lines...)
}

// InsertAt inserts lines before position i. i is clamped to [0, Len].
func (r *Routine) InsertAt(i int, lines ...string) {
	if i < 0 {
		i = 0
	}
	if i > len(r.lines) {
		i = len(r.lines)
	}
	out := make([]string, 0, len(r.lines)+len(lines))
	out = append(out, r.lines[:i]...)
	out = append(out, lines...)
	out = append(out, r.lines[i:]...)
	r.lines = out
}

// InsertBefore inserts lines before the first line matching match and reports
// whether such a line was found. Nothing is inserted when no line matches.
func (r *Routine) InsertBefore(match func(string) bool, lines ...string) bool {
	for i, l := range r.lines {
		if match(l) {
			r.InsertAt(i, lines...)
			return true
		}
	}
	return false
}

// Clone returns an independent copy.
func (r *Routine) Clone() *Routine {
	if r == nil {
		return NewRoutine()
	}
	return NewRoutine(r.lines...)
}

// String joins the lines with '\n' and a trailing newline.
func (r *Routine) String() string {
	if r.Len() == 0 {
		return ""
	}
	return strings.Join(r.lines, "\n") + "\n"
}

// PlateChangeRoutine is a named G-code fragment run between two plates.
type PlateChangeRoutine struct {
	Name        string
	Description string
	Model       string
	Program     *Routine
}
