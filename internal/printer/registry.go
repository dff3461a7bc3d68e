// Package printer provides the printer profile and plate-change routine
// catalog. A Registry is built from YAML and passed to the components that
// need it.
package printer

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cuongbtq/platecompiler/internal/plate"
	"gopkg.in/yaml.v3"
)

//go:embed catalog
var embedded embed.FS

var (
	// ErrUnknownPrinter is returned when a model is not in the catalog.
	ErrUnknownPrinter = errors.New("unknown printer model")

	// ErrUnknownRoutine is returned when a routine name is not in the catalog.
	ErrUnknownRoutine = errors.New("unknown plate-change routine")
)

type catalogFile struct {
	DefaultModel string         `yaml:"default_model"`
	Printers     []printerEntry `yaml:"printers"`
	Routines     []routineEntry `yaml:"routines"`
}

type printerEntry struct {
	plate.Printer `yaml:",inline"`
	Aliases       []string `yaml:"aliases"`
}

type routineEntry struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Model       string `yaml:"model"`
	File        string `yaml:"file"`
	GCode       string `yaml:"gcode"`
	Default     bool   `yaml:"default"`
}

// Registry holds printer profiles and plate-change routines.
type Registry struct {
	printers     []plate.Printer
	aliases      map[string][]string
	routines     []*plate.PlateChangeRoutine
	defaults     map[string]*plate.PlateChangeRoutine
	defaultModel string
}

// Default returns the registry built from the embedded catalog.
func Default() *Registry {
	r, err := Parse(mustRead(embedded, "catalog/catalog.yaml"), mustSub(embedded, "catalog"))
	if err != nil {
		panic(fmt.Sprintf("embedded printer catalog: %v", err))
	}
	return r
}

// Load reads a catalog file from disk. Routine files are resolved relative
// to the catalog's directory. An empty path returns the embedded catalog.
func Load(path string) (*Registry, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read printer catalog: %w", err)
	}

	return Parse(data, os.DirFS(filepath.Dir(path)))
}

// Parse builds a registry from catalog YAML. fsys resolves routine files.
func Parse(data []byte, fsys fs.FS) (*Registry, error) {
	var cf catalogFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("failed to parse printer catalog: %w", err)
	}

	if len(cf.Printers) == 0 {
		return nil, fmt.Errorf("printer catalog defines no printers")
	}

	r := &Registry{
		aliases:  make(map[string][]string),
		defaults: make(map[string]*plate.PlateChangeRoutine),
	}

	for _, pe := range cf.Printers {
		if err := pe.Printer.Validate(); err != nil {
			return nil, err
		}
		if pe.Name == "" {
			pe.Name = pe.Model
		}
		if _, dup := r.Lookup(pe.Model); dup {
			return nil, fmt.Errorf("duplicate printer model %q", pe.Model)
		}
		r.printers = append(r.printers, pe.Printer)
		for _, a := range pe.Aliases {
			r.aliases[pe.Model] = append(r.aliases[pe.Model], strings.ToLower(a))
		}
	}

	r.defaultModel = cf.DefaultModel
	if r.defaultModel == "" {
		r.defaultModel = r.printers[0].Model
	}
	if _, ok := r.Lookup(r.defaultModel); !ok {
		return nil, fmt.Errorf("default model %q: %w", r.defaultModel, ErrUnknownPrinter)
	}

	for _, re := range cf.Routines {
		routine, err := loadRoutine(re, fsys)
		if err != nil {
			return nil, err
		}
		p, ok := r.Lookup(routine.Model)
		if !ok {
			return nil, fmt.Errorf("routine %q targets model %q: %w", re.Name, re.Model, ErrUnknownPrinter)
		}
		routine.Model = p.Model
		r.routines = append(r.routines, routine)
		if re.Default {
			r.defaults[p.Model] = routine
		}
	}

	return r, nil
}

func loadRoutine(re routineEntry, fsys fs.FS) (*plate.PlateChangeRoutine, error) {
	if re.Name == "" {
		return nil, fmt.Errorf("routine name is required")
	}

	text := re.GCode
	if re.File != "" {
		if fsys == nil {
			return nil, fmt.Errorf("routine %q: no filesystem to read %s", re.Name, re.File)
		}
		data, err := fs.ReadFile(fsys, re.File)
		if err != nil {
			return nil, fmt.Errorf("routine %q: %w", re.Name, err)
		}
		text = string(data)
	}

	program := plate.ParseRoutine(text)
	if program.Len() == 0 {
		return nil, fmt.Errorf("routine %q has no G-code", re.Name)
	}

	return &plate.PlateChangeRoutine{
		Name:        re.Name,
		Description: strings.TrimSpace(re.Description),
		Model:       re.Model,
		Program:     program,
	}, nil
}

// Printers returns all profiles in catalog order.
func (r *Registry) Printers() []plate.Printer {
	out := make([]plate.Printer, len(r.printers))
	copy(out, r.printers)
	return out
}

// Lookup finds a profile by model identifier (case-insensitive).
func (r *Registry) Lookup(model string) (plate.Printer, bool) {
	for _, p := range r.printers {
		if strings.EqualFold(p.Model, strings.TrimSpace(model)) {
			return p, true
		}
	}
	return plate.Printer{}, false
}

// Match identifies the printer named somewhere in text, e.g. a
// "printer_model = Bambu Lab A1 mini" header value. Longer model names are
// tried first so a "mini" variant wins over its generic sibling.
func (r *Registry) Match(text string) (plate.Printer, bool) {
	lower := strings.ToLower(text)
	if strings.TrimSpace(lower) == "" {
		return plate.Printer{}, false
	}

	candidates := r.Printers()
	sort.SliceStable(candidates, func(i, j int) bool {
		return len(candidates[i].Model) > len(candidates[j].Model)
	})

	for _, p := range candidates {
		if strings.Contains(lower, strings.ToLower(p.Model)) {
			return p, true
		}
	}
	for _, p := range candidates {
		for _, a := range r.aliases[p.Model] {
			if containsWord(lower, a) {
				return p, true
			}
		}
	}
	return plate.Printer{}, false
}

// containsWord matches alias as a whole token so that short aliases do not
// fire inside unrelated words.
func containsWord(s, word string) bool {
	for _, f := range strings.FieldsFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	}) {
		if f == word {
			return true
		}
	}
	return false
}

// DefaultPrinter returns the fallback profile.
func (r *Registry) DefaultPrinter() plate.Printer {
	p, _ := r.Lookup(r.defaultModel)
	return p
}

// Routine returns the default plate-change routine for a model.
func (r *Registry) Routine(model string) (*plate.PlateChangeRoutine, bool) {
	p, ok := r.Lookup(model)
	if !ok {
		return nil, false
	}
	routine, ok := r.defaults[p.Model]
	return routine, ok
}

// RoutineByName finds a routine by name (case-insensitive).
func (r *Registry) RoutineByName(name string) (*plate.PlateChangeRoutine, error) {
	for _, routine := range r.routines {
		if strings.EqualFold(routine.Name, strings.TrimSpace(name)) {
			return routine, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownRoutine, name)
}

// Routines returns all routines in catalog order.
func (r *Registry) Routines() []*plate.PlateChangeRoutine {
	out := make([]*plate.PlateChangeRoutine, len(r.routines))
	copy(out, r.routines)
	return out
}

func mustRead(fsys fs.FS, name string) []byte {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		panic(err)
	}
	return data
}

func mustSub(fsys fs.FS, dir string) fs.FS {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		panic(err)
	}
	return sub
}
