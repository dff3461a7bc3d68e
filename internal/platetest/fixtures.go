// Package platetest builds sliced G-code and plate archives for tests.
package platetest

import (
	"archive/zip"
	"bytes"
	"fmt"
	"strings"
)

// FinishMarker is the finish line emitted by the slicer for both catalog printers.
const FinishMarker = "; EXECUTABLE_BLOCK_END"

// GCode describes a sliced plate program.
type GCode struct {
	PrintingTime string
	Colours      string
	Weights      string
	Costs        string
	Types        string
	PrinterModel string
	Thumbnail    []string
	Body         []string
	NoFinish     bool
}

// DefaultGCode is a two-filament A1 mini plate.
func DefaultGCode() GCode {
	return GCode{
		PrintingTime: "1h 23m 45s",
		Colours:      "#FF0000;00FF00",
		Weights:      "12.50, 3.20",
		Costs:        "0.31, 0.08",
		Types:        "PLA;PETG",
		PrinterModel: "Bambu Lab A1 mini",
		Thumbnail:    []string{"iVBORw0KGgo", "AAAANSUhEUg"},
		Body: []string{
			"M104 S220",
			"M140 S60",
			"G28",
			"G1 Z0.2 F600",
			"G1 X10 Y10 E1.5 F1200",
			"G1 X100 Y100 E5.0",
			"G1 Z10",
		},
	}
}

// String renders the program text.
func (g GCode) String() string {
	var b strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format, args...)
		b.WriteByte('\n')
	}

	line("; HEADER_BLOCK_START")
	line("; BambuStudio 01.09.07.52")
	if g.PrintingTime != "" {
		line("; model printing time: %s; total estimated time: %s", g.PrintingTime, g.PrintingTime)
	}
	line("; total layer number: 50")
	line("; HEADER_BLOCK_END")
	line("")
	if len(g.Thumbnail) > 0 {
		line("; THUMBNAIL_BLOCK_START")
		line("; thumbnail begin 4x4 %d", len(strings.Join(g.Thumbnail, "")))
		for _, t := range g.Thumbnail {
			line("; %s", t)
		}
		line("; thumbnail end")
		line("; THUMBNAIL_BLOCK_END")
		line("")
	}
	line("; filament used [g] = %s", g.Weights)
	if g.Costs != "" {
		line("; filament cost = %s", g.Costs)
	}
	line("; filament_colour = %s", g.Colours)
	if g.Types != "" {
		line("; filament_type = %s", g.Types)
	}
	if g.PrinterModel != "" {
		line("; printer_model = %s", g.PrinterModel)
	}
	line("; EXECUTABLE_BLOCK_START")
	for _, l := range g.Body {
		line("%s", l)
	}
	if !g.NoFinish {
		line("%s", FinishMarker)
	}
	return b.String()
}

// Entry is one file inside a test archive.
type Entry struct {
	Name  string
	Data  []byte
	Store bool
}

// Archive zips entries in order. Entries marked Store are not compressed.
func Archive(entries ...Entry) []byte {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		method := zip.Deflate
		if e.Store {
			method = zip.Store
		}
		w, err := zw.CreateHeader(&zip.FileHeader{Name: e.Name, Method: method})
		if err != nil {
			panic(err)
		}
		if _, err := w.Write(e.Data); err != nil {
			panic(err)
		}
	}
	if err := zw.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// ReadArchive returns entry names in order and their contents.
func ReadArchive(data []byte) ([]string, map[string][]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, nil, err
	}
	names := make([]string, 0, len(zr.File))
	contents := make(map[string][]byte, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			return nil, nil, err
		}
		var b bytes.Buffer
		_, err = b.ReadFrom(rc)
		rc.Close()
		if err != nil {
			return nil, nil, err
		}
		names = append(names, f.Name)
		contents[f.Name] = b.Bytes()
	}
	return names, contents, nil
}
