// Package plate holds the plate job data model shared by the parser,
// extractor, compiler and repackager.
package plate

import (
	"time"
)

// SourceArchive is the container a job was extracted from. Bytes is shared
// between all jobs of the same container and must not be modified.
type SourceArchive struct {
	Bytes []byte
	Entry string
}

// Job is one printable plate.
type Job struct {
	ID          string
	Name        string
	Filaments   []Filament
	Program     *Routine
	Printer     Printer
	PlateChange *PlateChangeRoutine
	Duration    time.Duration
	Thumbnail   string
	Source      *SourceArchive

	// Selected is owned by the presentation layer.
	Selected bool
}

// Kinds returns the filament kinds in slot order.
func (j *Job) Kinds() []Kind {
	kinds := make([]Kind, len(j.Filaments))
	for i, f := range j.Filaments {
		kinds[i] = f.Kind
	}
	return kinds
}

// HasSource reports whether the job came from a container.
func (j *Job) HasSource() bool {
	return j.Source != nil && len(j.Source.Bytes) > 0
}

// TotalWeight sums filament weights in grams.
func (j *Job) TotalWeight() float64 {
	var w float64
	for _, f := range j.Filaments {
		w += f.WeightGrams
	}
	return w
}

// EnsureFilaments substitutes the default filament when none are set.
func (j *Job) EnsureFilaments() {
	if len(j.Filaments) == 0 {
		j.Filaments = []Filament{DefaultFilament()}
	}
}

// Selected filters the jobs whose selection flag is set, preserving order.
func Selected(jobs []*Job) []*Job {
	out := make([]*Job, 0, len(jobs))
	for _, j := range jobs {
		if j.Selected {
			out = append(out, j)
		}
	}
	return out
}
