package repack

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strconv"
	"time"

	"github.com/cuongbtq/platecompiler/internal/plate"
)

const xmlHeader = `<?xml version="1.0" encoding="UTF-8"?>` + "\n"

const contentTypes = xmlHeader + `<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
 <Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>
 <Default Extension="model" ContentType="application/vnd.ms-package.3dmanufacturing-3dmodel+xml"/>
 <Default Extension="png" ContentType="image/png"/>
 <Default Extension="gcode" ContentType="text/x.gcode"/>
</Types>
`

const rootRels = xmlHeader + `<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
 <Relationship Target="/3D/3dmodel.model" Id="rel-1" Type="http://schemas.microsoft.com/3dmanufacturing/2013/01/3dmodel"/>
 <Relationship Target="/Metadata/plate_1.png" Id="rel-2" Type="http://schemas.openxmlformats.org/package/2006/relationships/metadata/thumbnail"/>
 <Relationship Target="/Metadata/plate_1_small.png" Id="rel-4" Type="http://schemas.bambulab.com/package/2021/cover-thumbnail-small"/>
</Relationships>
`

const modelRels = xmlHeader + `<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
 <Relationship Target="/Metadata/plate_1.gcode" Id="rel-1" Type="http://schemas.bambulab.com/package/2021/gcode"/>
</Relationships>
`

type keyValue struct {
	Key   string `xml:"key,attr"`
	Value string `xml:"value,attr"`
}

type modelMetadata struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

type modelDocument struct {
	XMLName   xml.Name        `xml:"model"`
	Unit      string          `xml:"unit,attr"`
	Lang      string          `xml:"xml:lang,attr"`
	Namespace string          `xml:"xmlns,attr"`
	Metadata  []modelMetadata `xml:"metadata"`
	Resources struct{}        `xml:"resources"`
	Build     struct{}        `xml:"build"`
}

func modelFile(in BuildInput, created time.Time) ([]byte, error) {
	date := created.UTC().Format("2006-01-02")
	doc := modelDocument{
		Unit:      "millimeter",
		Lang:      "en-US",
		Namespace: "http://schemas.microsoft.com/3dmanufacturing/core/2015/02",
		Metadata: []modelMetadata{
			{Name: "Application", Value: Application},
			{Name: "BambuStudio:3mfVersion", Value: "1"},
			{Name: "Title", Value: in.Title},
			{Name: "Designer", Value: in.Designer},
			{Name: "CreationDate", Value: date},
			{Name: "ModificationDate", Value: date},
			{Name: "PlateCount", Value: strconv.Itoa(len(in.Jobs))},
			{Name: "PrinterModel", Value: in.Printer.Name},
		},
	}
	return marshalXML(doc)
}

type platePart struct {
	Metadata []keyValue `xml:"metadata"`
}

type modelSettings struct {
	XMLName xml.Name  `xml:"config"`
	Plate   platePart `xml:"plate"`
}

func modelSettingsFile(in BuildInput) ([]byte, error) {
	doc := modelSettings{Plate: platePart{Metadata: []keyValue{
		{Key: "plater_id", Value: "1"},
		{Key: "plater_name", Value: in.Title},
		{Key: "locked", Value: "false"},
		{Key: "gcode_file", Value: GCodePath},
		{Key: "thumbnail_file", Value: "Metadata/plate_1.png"},
		{Key: "thumbnail_no_light_file", Value: "Metadata/plate_no_light_1.png"},
		{Key: "top_file", Value: "Metadata/top_1.png"},
		{Key: "pick_file", Value: "Metadata/pick_1.png"},
		{Key: "merged_plates", Value: strconv.Itoa(len(in.Jobs))},
	}}}
	return marshalXML(doc)
}

type projectSettings struct {
	PrinterModel      string   `json:"printer_model"`
	PrinterSettingsID string   `json:"printer_settings_id"`
	FilamentColour    []string `json:"filament_colour"`
	FilamentType      []string `json:"filament_type"`
	NozzleTempLimit   string   `json:"nozzle_temperature_range_high"`
	BedTempLimit      string   `json:"bed_temperature_limit"`
	PrintableArea     []string `json:"printable_area"`
	PrintableHeight   string   `json:"printable_height"`
	Version           string   `json:"version"`
}

func projectSettingsFile(in BuildInput, filaments []plate.Filament) ([]byte, error) {
	p := in.Printer
	doc := projectSettings{
		PrinterModel:      p.Name,
		PrinterSettingsID: p.Name,
		NozzleTempLimit:   formatFloat(p.MaxNozzleTemp),
		BedTempLimit:      formatFloat(p.MaxBedTemp),
		PrintableArea: []string{
			fmt.Sprintf("%sx%s", formatFloat(p.Printable.MinX), formatFloat(p.Printable.MinY)),
			fmt.Sprintf("%sx%s", formatFloat(p.Printable.MaxX), formatFloat(p.Printable.MinY)),
			fmt.Sprintf("%sx%s", formatFloat(p.Printable.MaxX), formatFloat(p.Printable.MaxY)),
			fmt.Sprintf("%sx%s", formatFloat(p.Printable.MinX), formatFloat(p.Printable.MaxY)),
		},
		PrintableHeight: formatFloat(p.Printable.MaxZ),
		Version:         ProjectVersion,
	}
	for _, f := range filaments {
		doc.FilamentColour = append(doc.FilamentColour, f.Color)
		doc.FilamentType = append(doc.FilamentType, string(f.Kind))
	}

	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal project settings: %w", err)
	}
	return append(data, '\n'), nil
}

type headerItem struct {
	Key   string `xml:"key,attr"`
	Value string `xml:"value,attr"`
}

type sliceFilament struct {
	ID    int    `xml:"id,attr"`
	Type  string `xml:"type,attr"`
	Color string `xml:"color,attr"`
	UsedG string `xml:"used_g,attr"`
}

type slicePlate struct {
	Metadata  []keyValue      `xml:"metadata"`
	Filaments []sliceFilament `xml:"filament"`
}

type sliceInfo struct {
	XMLName xml.Name     `xml:"config"`
	Header  []headerItem `xml:"header>header_item"`
	Plate   slicePlate   `xml:"plate"`
}

func sliceInfoFile(in BuildInput, filaments []plate.Filament) ([]byte, error) {
	var weight float64
	for _, f := range filaments {
		weight += f.WeightGrams
	}

	doc := sliceInfo{
		Header: []headerItem{
			{Key: "X-BBL-Client-Type", Value: "slicer"},
			{Key: "X-BBL-Client-Version", Value: ProjectVersion},
		},
		Plate: slicePlate{Metadata: []keyValue{
			{Key: "index", Value: "1"},
			{Key: "printer_model_id", Value: in.Printer.Model},
			{Key: "prediction", Value: strconv.Itoa(int(in.Duration.Round(time.Second) / time.Second))},
			{Key: "weight", Value: fmt.Sprintf("%.2f", weight)},
			{Key: "plate_count", Value: strconv.Itoa(len(in.Jobs))},
		}},
	}
	for i, f := range filaments {
		doc.Plate.Filaments = append(doc.Plate.Filaments, sliceFilament{
			ID:    i + 1,
			Type:  string(f.Kind),
			Color: f.Color,
			UsedG: fmt.Sprintf("%.2f", f.WeightGrams),
		})
	}
	return marshalXML(doc)
}

// mergeFilaments folds the filaments of every job into one list, one slot
// per distinct colour and kind, summing weights.
func mergeFilaments(jobs []*plate.Job) []plate.Filament {
	var out []plate.Filament
	slot := make(map[string]int)
	for _, j := range jobs {
		for _, f := range j.Filaments {
			key := f.Color + "|" + string(f.Kind)
			if i, ok := slot[key]; ok {
				out[i].WeightGrams += f.WeightGrams
				continue
			}
			slot[key] = len(out)
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		out = append(out, plate.DefaultFilament())
	}
	return out
}

func marshalXML(v any) ([]byte, error) {
	data, err := xml.MarshalIndent(v, "", " ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %T: %w", v, err)
	}
	out := make([]byte, 0, len(xmlHeader)+len(data)+1)
	out = append(out, xmlHeader...)
	out = append(out, data...)
	return append(out, '\n'), nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
