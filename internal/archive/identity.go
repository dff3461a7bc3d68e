package archive

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"
)

// Container paths consulted for printer identity.
const (
	ProjectSettingsPath = "Metadata/project_settings.config"
	ModelPath           = "3D/3dmodel.model"
)

// metadataExpr selects every <metadata> element regardless of namespace.
var metadataExpr = xpath.MustCompile(`//*[local-name()='metadata']`)

// projectPrinter reads the printer model from the project settings JSON.
// printer_settings_id is used when printer_model is absent.
func projectPrinter(f *zip.File) (string, error) {
	data, err := readEntry(f)
	if err != nil {
		return "", err
	}
	var settings struct {
		PrinterModel      string `json:"printer_model"`
		PrinterSettingsID any    `json:"printer_settings_id"`
	}
	if err := json.Unmarshal(data, &settings); err != nil {
		return "", err
	}
	if s := strings.TrimSpace(settings.PrinterModel); s != "" {
		return s, nil
	}
	switch v := settings.PrinterSettingsID.(type) {
	case string:
		return strings.TrimSpace(v), nil
	case []any:
		if len(v) > 0 {
			if s, ok := v[0].(string); ok {
				return strings.TrimSpace(s), nil
			}
		}
	}
	return "", nil
}

// modelPrinter returns the value of the first 3D model metadata element
// whose name mentions a printer.
func modelPrinter(f *zip.File) (string, error) {
	data, err := readEntry(f)
	if err != nil {
		return "", err
	}
	doc, err := xmlquery.Parse(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	for _, n := range xmlquery.QuerySelectorAll(doc, metadataExpr) {
		name := strings.ToLower(n.SelectAttr("name"))
		if !strings.Contains(name, "printer") {
			continue
		}
		if v := strings.TrimSpace(n.InnerText()); v != "" {
			return v, nil
		}
	}
	return "", nil
}
