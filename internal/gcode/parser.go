// Package gcode extracts plate metadata from the header comments that slicers
// write into G-code.
package gcode

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cuongbtq/platecompiler/internal/diag"
	"github.com/cuongbtq/platecompiler/internal/plate"
	"github.com/cuongbtq/platecompiler/internal/printer"
)

// Header markers, matched case-insensitively.
const (
	MarkerPrintingTime   = "model printing time"
	MarkerFilamentColour = "filament_colour"
	MarkerFilamentWeight = "filament used [g]"
	MarkerFilamentCost   = "filament cost"
	MarkerFilamentType   = "filament_type"
	MarkerPrinterModel   = "printer_model ="
	MarkerThumbnailBegin = "thumbnail begin"
	MarkerThumbnailEnd   = "thumbnail end"
)

var requiredMarkers = []string{MarkerPrintingTime, MarkerFilamentColour, MarkerFilamentWeight}

// ErrMissingHeader is returned when content lacks one of the required header markers.
var ErrMissingHeader = errors.New("missing required G-code header")

// Recognized file extensions stripped from display names.
var extensions = []string{".3mf", ".gcode", ".gco", ".g"}

var (
	durationSpaced  = regexp.MustCompile(`(?:(\d+)d\s*)?(\d+)h (\d+)m (\d+)s`)
	durationCompact = regexp.MustCompile(`(?:(\d+)d)?(\d+)h(\d+)m(\d+)s`)
	durationPartial = regexp.MustCompile(`(?:(\d+)m\s*)?(\d+)s`)
)

// Metadata is what the parser extracts from one G-code program.
type Metadata struct {
	Name         string
	PrinterModel string
	Printer      plate.Printer
	PrinterKnown bool
	Duration     time.Duration
	Filaments    []plate.Filament
	Thumbnail    string
}

// Parser extracts Metadata using a printer registry to resolve models.
type Parser struct {
	registry *printer.Registry
}

// NewParser creates a parser. A nil registry uses the embedded catalog.
func NewParser(registry *printer.Registry) *Parser {
	if registry == nil {
		registry = printer.Default()
	}
	return &Parser{registry: registry}
}

// Validate reports whether content carries every required header marker.
func Validate(content string) bool {
	return len(MissingMarkers(content)) == 0
}

// MissingMarkers lists the required header markers absent from content.
func MissingMarkers(content string) []string {
	lower := strings.ToLower(content)
	var missing []string
	for _, m := range requiredMarkers {
		if !strings.Contains(lower, m) {
			missing = append(missing, m)
		}
	}
	return missing
}

// PlateName derives a plate name from a display name.
func PlateName(displayName string) string {
	name := strings.TrimSpace(displayName)
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	for stripped := true; stripped; {
		stripped = false
		for _, ext := range extensions {
			if len(name) > len(ext) && strings.EqualFold(name[len(name)-len(ext):], ext) {
				name = name[:len(name)-len(ext)]
				stripped = true
			}
		}
	}
	return strings.TrimSpace(name)
}

// Parse extracts metadata from G-code text. When a required marker is
// missing it returns ErrMissingHeader and attempts no parsing.
func (p *Parser) Parse(content, displayName string) (*Metadata, diag.List, error) {
	var diags diag.List

	if missing := MissingMarkers(content); len(missing) > 0 {
		diags.Errorf(diag.SourceParser, "not a sliced plate: missing header %s", strings.Join(missing, ", "))
		return nil, diags, ErrMissingHeader
	}

	h := scanHeader(content)

	meta := &Metadata{
		Name:      PlateName(displayName),
		Thumbnail: h.thumbnail,
	}

	p.parsePrinter(h, meta, &diags)
	parseDuration(h, meta, &diags)
	parseFilaments(h, meta, &diags)

	return meta, diags, nil
}

func (p *Parser) parsePrinter(h header, meta *Metadata, diags *diag.List) {
	meta.PrinterModel = plate.UnknownModel

	value, ok := h.values[MarkerPrinterModel]
	if !ok {
		diags.Warnf(diag.SourceParser, "no printer_model header; printer is unknown")
		return
	}

	pr, ok := p.registry.Match(value)
	if !ok {
		diags.Infof(diag.SourceParser, "printer model %q is not a known profile", value)
		return
	}

	meta.Printer = pr
	meta.PrinterModel = pr.Model
	meta.PrinterKnown = true
}

func parseDuration(h header, meta *Metadata, diags *diag.List) {
	d, ok := ParseDuration(h.printingTime)
	if !ok {
		diags.Warnf(diag.SourceParser, "could not parse model printing time %q", strings.TrimSpace(h.printingTime))
		return
	}
	meta.Duration = d
}

// ParseDuration reads slicer time text such as "1h 23m 45s" or "1h23m45s".
// A leading day count ("2d 1h 0m 0s") and minute/second-only forms are accepted.
func ParseDuration(s string) (time.Duration, bool) {
	for _, re := range []*regexp.Regexp{durationSpaced, durationCompact} {
		if m := re.FindStringSubmatch(s); m != nil {
			return time.Duration(atoi(m[1]))*24*time.Hour +
				time.Duration(atoi(m[2]))*time.Hour +
				time.Duration(atoi(m[3]))*time.Minute +
				time.Duration(atoi(m[4]))*time.Second, true
		}
	}
	if m := durationPartial.FindStringSubmatch(s); m != nil {
		return time.Duration(atoi(m[1]))*time.Minute + time.Duration(atoi(m[2]))*time.Second, true
	}
	return 0, false
}

func parseFilaments(h header, meta *Metadata, diags *diag.List) {
	colors := splitList(h.values[MarkerFilamentColour], ";")
	kinds := splitList(h.values[MarkerFilamentType], ";")
	weights := splitList(h.values[MarkerFilamentWeight], ",")
	costs := splitList(h.values[MarkerFilamentCost], ",")

	n := max(len(colors), len(kinds), len(weights), len(costs))
	if n == 0 {
		diags.Warnf(diag.SourceParser, "no filament data found; using default filament")
		meta.Filaments = []plate.Filament{plate.DefaultFilament()}
		return
	}

	meta.Filaments = make([]plate.Filament, n)
	for i := range n {
		f := plate.DefaultFilament()
		if c := at(colors, i); c != "" {
			f.Color = plate.NormalizeColor(c)
		}
		if k := at(kinds, i); k != "" {
			f.Kind = plate.ParseKind(k)
		}
		if w := at(weights, i); w != "" {
			f.WeightGrams = parseNumber(w, "weight", i, diags)
		}

		var rawCost float64
		if c := at(costs, i); c != "" {
			rawCost = parseNumber(c, "cost", i, diags)
		}
		switch {
		case rawCost > 0 && f.WeightGrams > 0:
			f.CostPerKg = rawCost / (f.WeightGrams / 1000)
		case rawCost > 0:
			diags.Warnf(diag.SourceParser, "filament %d has cost %.2f but no weight; cost per kg set to 0", i+1, rawCost)
		}

		meta.Filaments[i] = f
	}
}

func parseNumber(s, what string, i int, diags *diag.List) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || v < 0 {
		diags.Warnf(diag.SourceParser, "filament %d: invalid %s %q", i+1, what, s)
		return 0
	}
	return v
}

// splitList splits a header list keeping empty interior positions so that
// values stay aligned with their slot. Trailing empty values are dropped.
func splitList(s, sep string) []string {
	parts := strings.Split(strings.TrimSpace(s), sep)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	for len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return parts
}

func at(list []string, i int) string {
	if i < len(list) {
		return list[i]
	}
	return ""
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
