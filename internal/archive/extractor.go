// Package archive reads plate jobs out of 3MF-style zip containers.
package archive

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/cuongbtq/platecompiler/internal/diag"
	"github.com/cuongbtq/platecompiler/internal/gcode"
	"github.com/cuongbtq/platecompiler/internal/plate"
	"github.com/cuongbtq/platecompiler/internal/printer"
	"github.com/google/uuid"
)

// GCodeExt is the entry suffix that marks a plate program.
const GCodeExt = ".gcode"

// Result is the outcome of one extraction. Jobs is empty when the container
// could not be read.
type Result struct {
	Jobs        []*plate.Job
	Diagnostics diag.List
}

// Extractor turns container bytes into jobs.
type Extractor struct {
	registry *printer.Registry
	parser   *gcode.Parser
	newID    func() string
}

// NewExtractor creates an extractor. A nil registry uses the embedded catalog.
func NewExtractor(registry *printer.Registry) *Extractor {
	if registry == nil {
		registry = printer.Default()
	}
	return &Extractor{
		registry: registry,
		parser:   gcode.NewParser(registry),
		newID:    uuid.NewString,
	}
}

type parsedEntry struct {
	file *zip.File
	text string
	meta *gcode.Metadata
}

// Extract reads every G-code entry of the container. Jobs are named after
// their entries.
func (e *Extractor) Extract(data []byte) Result {
	return e.ExtractNamed("", data)
}

// ExtractNamed is Extract with jobs named after displayName. When the
// container holds several plates the entry name is appended.
func (e *Extractor) ExtractNamed(displayName string, data []byte) Result {
	var res Result

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		res.Diagnostics.Errorf(diag.SourceExtractor, "corrupt container: %v", err)
		return res
	}

	index := make(map[string]*zip.File, len(zr.File))
	var programs []*zip.File
	for _, f := range zr.File {
		index[f.Name] = f
		if !f.FileInfo().IsDir() && strings.HasSuffix(strings.ToLower(f.Name), GCodeExt) {
			programs = append(programs, f)
		}
	}
	if len(programs) == 0 {
		res.Diagnostics.Errorf(diag.SourceExtractor, "container has no %s entries", GCodeExt)
		return res
	}

	var entries []parsedEntry
	for _, f := range programs {
		if pe, ok := e.parseEntry(f, &res.Diagnostics); ok {
			entries = append(entries, pe)
		}
	}
	if len(entries) == 0 {
		return res
	}

	target := e.resolvePrinter(index, entries, &res.Diagnostics)

	routine, ok := e.registry.Routine(target.Model)
	if !ok {
		res.Diagnostics.Infof(diag.SourceExtractor, "no default plate-change routine for %s; assign one before merging plates", target.Model)
	}

	base := gcode.PlateName(displayName)
	for _, pe := range entries {
		job := &plate.Job{
			ID:          e.newID(),
			Name:        jobName(base, pe.meta.Name, len(entries)),
			Filaments:   pe.meta.Filaments,
			Program:     plate.ParseRoutine(pe.text),
			Printer:     target,
			PlateChange: routine,
			Duration:    pe.meta.Duration,
			Thumbnail:   thumbnail(index, pe, &res.Diagnostics),
			Source:      &plate.SourceArchive{Bytes: data, Entry: pe.file.Name},
		}
		job.EnsureFilaments()
		res.Jobs = append(res.Jobs, job)
	}
	return res
}

// parseEntry reads and parses one G-code entry. Failures are scoped to the entry.
func (e *Extractor) parseEntry(f *zip.File, diags *diag.List) (parsedEntry, bool) {
	prefix := f.Name + ": "

	data, err := readEntry(f)
	if err != nil {
		diags.Warnf(diag.SourceExtractor, "%sskipped: %v", prefix, err)
		return parsedEntry{}, false
	}

	text := string(data)
	meta, parseDiags, err := e.parser.Parse(text, path.Base(f.Name))
	diags.Extend(parseDiags.Remap(diag.SourceExtractor, prefix))
	if err != nil || parseDiags.HasErrors() {
		diags.Warnf(diag.SourceExtractor, "%sskipped: not a valid plate program", prefix)
		return parsedEntry{}, false
	}
	return parsedEntry{file: f, text: text, meta: meta}, true
}

// resolvePrinter determines the printer once per container, preferring the
// project settings, then the 3D model metadata, then the first G-code header.
func (e *Extractor) resolvePrinter(index map[string]*zip.File, entries []parsedEntry, diags *diag.List) plate.Printer {
	lookups := []struct {
		path string
		read func(*zip.File) (string, error)
	}{
		{ProjectSettingsPath, projectPrinter},
		{ModelPath, modelPrinter},
	}
	for _, l := range lookups {
		f, ok := index[l.path]
		if !ok {
			continue
		}
		value, err := l.read(f)
		if err != nil {
			diags.Warnf(diag.SourceExtractor, "%s: unreadable: %v", l.path, err)
			continue
		}
		if value == "" {
			continue
		}
		if p, ok := e.registry.Match(value); ok {
			return p
		}
	}

	if meta := entries[0].meta; meta.PrinterKnown {
		return meta.Printer
	}

	p := e.registry.DefaultPrinter()
	diags.Infof(diag.SourceExtractor, "printer not identified; using default profile %s", p.Name)
	return p
}

// thumbnail returns the Metadata/<base>.png image next to the entry, base64
// encoded, or the inline thumbnail from the G-code header.
func thumbnail(index map[string]*zip.File, pe parsedEntry, diags *diag.List) string {
	base := strings.TrimSuffix(path.Base(pe.file.Name), path.Ext(pe.file.Name))
	f, ok := index["Metadata/"+base+".png"]
	if !ok {
		return pe.meta.Thumbnail
	}
	data, err := readEntry(f)
	if err != nil {
		diags.Warnf(diag.SourceExtractor, "%s: unreadable thumbnail: %v", f.Name, err)
		return pe.meta.Thumbnail
	}
	return base64.StdEncoding.EncodeToString(data)
}

func jobName(base, entryName string, plates int) string {
	switch {
	case base == "":
		return entryName
	case plates > 1:
		return fmt.Sprintf("%s - %s", base, entryName)
	default:
		return base
	}
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read entry %s: %w", f.Name, err)
	}
	return data, nil
}
