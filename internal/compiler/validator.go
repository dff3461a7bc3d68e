package compiler

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/cuongbtq/platecompiler/internal/diag"
	"github.com/cuongbtq/platecompiler/internal/plate"
)

// PrintingHeight is the Z ceiling (mm) below which an extruding move marks the
// start of actual printing.
const PrintingHeight = 0.5

// Phase is the validator's view of where the program is.
type Phase int

const (
	// NotYetPrinting covers homing, heating, and parking before the first layer.
	NotYetPrinting Phase = iota
	// Printing is entered once and never left.
	Printing
)

var (
	paramRe = regexp.MustCompile(`([A-Z])\s*([-+]?[0-9]*\.?[0-9]+)`)
	tempRe  = regexp.MustCompile(`S\s*([0-9.]+)`)
)

type tempLimit int

const (
	noTemp tempLimit = iota
	nozzleTemp
	bedTemp
)

var tempCommands = map[string]tempLimit{
	"M104": nozzleTemp,
	"M109": nozzleTemp,
	"M140": bedTemp,
	"M190": bedTemp,
}

var motionCommands = map[string]bool{
	"G0": true, "G1": true, "G2": true, "G3": true,
}

var axes = []plate.Axis{plate.AxisX, plate.AxisY, plate.AxisZ}

// Validator checks one program against a printer's safety envelope.
type Validator struct {
	printer plate.Printer
	source  diag.Source
	prefix  string

	phase        Phase
	z            float64
	finishSeen   bool
	finishMarker string
	diags        diag.List
}

// NewValidator creates a validator. prefix is prepended to every message.
func NewValidator(p plate.Printer, prefix string) *Validator {
	return &Validator{
		printer:      p,
		source:       diag.SourceValidator,
		prefix:       prefix,
		finishMarker: strings.TrimSpace(p.FinishMarker),
	}
}

// Validate runs a single pass over program and returns its findings.
func Validate(program *plate.Routine, p plate.Printer) diag.List {
	return NewValidator(p, "").Run(program)
}

// Phase returns the phase reached so far.
func (v *Validator) Phase() Phase { return v.phase }

// Run validates every line. A validator is single-use.
func (v *Validator) Run(program *plate.Routine) diag.List {
	for i, line := range program.Lines() {
		v.line(i+1, line)
	}
	if !v.finishSeen {
		v.diags.Add(diag.Error, v.source, 0, "%sfinish marker %q not found", v.prefix, v.finishMarker)
	}
	return v.diags
}

func (v *Validator) line(n int, raw string) {
	if v.finishMarker != "" && strings.Contains(raw, v.finishMarker) {
		v.finishSeen = true
	}

	code := strings.TrimSpace(raw)
	if i := strings.IndexByte(code, ';'); i >= 0 {
		code = strings.TrimSpace(code[:i])
	}
	if code == "" {
		return
	}

	code = strings.ToUpper(code)
	cmd, args := splitCommand(code)

	if limit := tempCommands[cmd]; limit != noTemp {
		v.checkTemp(n, cmd, limit, args)
		return
	}
	if motionCommands[cmd] {
		v.checkMotion(n, args)
	}
}

// splitCommand separates the command word from its parameters and folds
// zero-padded forms such as G01 into G1.
func splitCommand(code string) (string, string) {
	end := 1
	for end < len(code) && (code[end] >= '0' && code[end] <= '9' || code[end] == '.') {
		end++
	}
	cmd, args := code[:end], code[end:]
	if len(cmd) > 2 && cmd[1] == '0' {
		trimmed := strings.TrimLeft(cmd[1:], "0")
		if trimmed == "" {
			trimmed = "0"
		}
		cmd = cmd[:1] + trimmed
	}
	return cmd, args
}

func (v *Validator) checkTemp(n int, cmd string, limit tempLimit, args string) {
	m := tempRe.FindStringSubmatch(args)
	if m == nil {
		return
	}
	t, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return
	}

	ceiling, what := v.printer.MaxNozzleTemp, "nozzle"
	if limit == bedTemp {
		ceiling, what = v.printer.MaxBedTemp, "bed"
	}
	if t > ceiling {
		v.diags.Add(diag.Warning, v.source, n, "%s%s %s temperature %.0f exceeds maximum %.0f", v.prefix, cmd, what, t, ceiling)
	}
}

func (v *Validator) checkMotion(n int, args string) {
	var (
		pos    = make(map[plate.Axis]float64, 3)
		hasE   bool
		hasPos bool
	)
	for _, m := range paramRe.FindAllStringSubmatch(args, -1) {
		val, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		switch a := plate.Axis(m[1][0]); a {
		case plate.AxisX, plate.AxisY, plate.AxisZ:
			pos[a] = val
			hasPos = true
		case 'E':
			hasE = true
		}
	}

	if z, ok := pos[plate.AxisZ]; ok {
		v.z = z
	}

	if hasPos {
		for _, a := range axes {
			val, ok := pos[a]
			if !ok {
				continue
			}
			if !v.printer.Extended.Contains(a, val) {
				lo, hi := v.printer.Extended.Bounds(a)
				v.diags.Add(diag.Error, v.source, n, "%s%s=%.3f outside travel limits [%.1f, %.1f]", v.prefix, a, val, lo, hi)
			}
			if v.phase == Printing && !v.printer.Printable.Contains(a, val) {
				lo, hi := v.printer.Printable.Bounds(a)
				v.diags.Add(diag.Warning, v.source, n, "%s%s=%.3f outside printable area [%.1f, %.1f]", v.prefix, a, val, lo, hi)
			}
		}
	}

	if v.phase == NotYetPrinting && hasE && v.z > 0 && v.z < PrintingHeight {
		v.phase = Printing
	}
}
