package gcode

import (
	"bufio"
	"strings"
)

type header struct {
	// values maps a list marker to the text after its '=' or ':' separator.
	values       map[string]string
	printingTime string
	thumbnail    string
}

var valueMarkers = []string{
	MarkerFilamentColour,
	MarkerFilamentWeight,
	MarkerFilamentCost,
	MarkerFilamentType,
	MarkerPrinterModel,
}

// scanHeader walks comment lines once. The first occurrence of each marker wins.
func scanHeader(content string) header {
	h := header{values: make(map[string]string)}

	var (
		inThumb   bool
		thumbDone bool
		thumb     strings.Builder
		timeFound bool
	)

	sc := bufio.NewScanner(strings.NewReader(content))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, ";") {
			continue
		}
		lower := strings.ToLower(line)

		if !thumbDone {
			switch {
			case !inThumb && strings.Contains(lower, MarkerThumbnailBegin):
				inThumb = true
				continue
			case inThumb && strings.Contains(lower, MarkerThumbnailEnd):
				inThumb = false
				thumbDone = true
				continue
			case inThumb:
				thumb.WriteString(strings.TrimSpace(strings.TrimLeft(line, ";")))
				continue
			}
		}

		if !timeFound {
			if i := strings.Index(lower, MarkerPrintingTime); i >= 0 {
				rest := line[i+len(MarkerPrintingTime):]
				rest = strings.TrimLeft(rest, " :=")
				if j := strings.Index(rest, ";"); j >= 0 {
					rest = rest[:j]
				}
				h.printingTime = rest
				timeFound = true
				continue
			}
		}

		for _, m := range valueMarkers {
			if _, seen := h.values[m]; seen {
				continue
			}
			i := strings.Index(lower, m)
			if i < 0 {
				continue
			}
			rest := line[i+len(m):]
			if j := strings.IndexAny(rest, "=:"); j >= 0 && strings.TrimSpace(rest[:j]) == "" {
				rest = rest[j+1:]
			}
			h.values[m] = strings.TrimSpace(rest)
			break
		}
	}

	if thumbDone {
		h.thumbnail = thumb.String()
	}
	return h
}
