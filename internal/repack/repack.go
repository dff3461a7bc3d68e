// Package repack writes compiled programs back into 3MF-style containers,
// either built from scratch or spliced into the container a plate came from.
package repack

import (
	"archive/zip"
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cuongbtq/platecompiler/internal/plate"
)

// Fixed container paths.
const (
	ContentTypesPath    = "[Content_Types].xml"
	RelsPath            = "_rels/.rels"
	ModelPath           = "3D/3dmodel.model"
	ModelRelsPath       = "3D/_rels/3dmodel.model.rels"
	ModelSettingsPath   = "Metadata/model_settings.config"
	ProjectSettingsPath = "Metadata/project_settings.config"
	SliceInfoPath       = "Metadata/slice_info.config"
	GCodePath           = "Metadata/plate_1.gcode"
	ChecksumExt         = ".md5"
)

// ThumbnailPaths are the names viewers look for the plate preview under.
var ThumbnailPaths = []string{
	"Metadata/plate_1.png",
	"Metadata/plate_1_small.png",
	"Metadata/plate_no_light_1.png",
	"Metadata/top_1.png",
	"Metadata/pick_1.png",
}

const (
	Application    = "platecompiler"
	ProjectVersion = "01.09.07.52"
)

var (
	// ErrNoSource is returned by splice mode when the first job did not come
	// from a container.
	ErrNoSource = errors.New("no source container to splice into")

	// ErrEntryNotFound is returned when the program entry is missing from the source.
	ErrEntryNotFound = errors.New("program entry not found in source container")
)

// Mode selects how the output container is produced.
type Mode string

const (
	ModeBuild  Mode = "build"
	ModeSplice Mode = "splice"
)

// ParseMode parses a mode name. Empty selects ModeBuild.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeBuild, nil
	case ModeBuild, ModeSplice:
		return m, nil
	default:
		return "", fmt.Errorf("unknown repack mode %q", s)
	}
}

// BuildInput is everything Build needs to assemble a container.
type BuildInput struct {
	Program   string
	Title     string
	Designer  string
	Printer   plate.Printer
	Jobs      []*plate.Job
	Duration  time.Duration
	Thumbnail string // base64 PNG; a placeholder is generated when empty or undecodable
	Created   time.Time
}

// Title names a container after its jobs: the job name for a single job,
// otherwise the first name and how many follow.
func Title(jobs []*plate.Job) string {
	switch len(jobs) {
	case 0:
		return ""
	case 1:
		return jobs[0].Name
	default:
		return fmt.Sprintf("%s + %d more", jobs[0].Name, len(jobs)-1)
	}
}

// Checksum returns the lower-case hex MD5 of text.
func Checksum(text string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Build assembles a new container around the program.
func Build(in BuildInput) ([]byte, error) {
	if in.Created.IsZero() {
		in.Created = time.Now()
	}
	if in.Title == "" {
		in.Title = "Merged plates"
	}

	filaments := mergeFilaments(in.Jobs)

	model, err := modelFile(in, in.Created)
	if err != nil {
		return nil, err
	}
	settings, err := modelSettingsFile(in)
	if err != nil {
		return nil, err
	}
	project, err := projectSettingsFile(in, filaments)
	if err != nil {
		return nil, err
	}
	slice, err := sliceInfoFile(in, filaments)
	if err != nil {
		return nil, err
	}
	thumb, err := thumbnailPNG(in.Thumbnail)
	if err != nil {
		return nil, err
	}

	entries := []struct {
		name  string
		data  []byte
		store bool
	}{
		{name: ContentTypesPath, data: []byte(contentTypes)},
		{name: RelsPath, data: []byte(rootRels)},
		{name: ModelPath, data: model},
		{name: ModelRelsPath, data: []byte(modelRels)},
		{name: ModelSettingsPath, data: settings},
		{name: ProjectSettingsPath, data: project},
		{name: SliceInfoPath, data: slice},
		{name: GCodePath, data: []byte(in.Program)},
		{name: GCodePath + ChecksumExt, data: []byte(Checksum(in.Program))},
	}
	for _, p := range ThumbnailPaths {
		entries = append(entries, struct {
			name  string
			data  []byte
			store bool
		}{name: p, data: thumb, store: true})
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		method := zip.Deflate
		if e.store {
			method = zip.Store
		}
		if err := writeEntry(zw, &zip.FileHeader{Name: e.name, Method: method, Modified: in.Created}, e.data); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize container: %w", err)
	}
	return buf.Bytes(), nil
}

// Splice copies source into a new container, replacing entry with program
// and its checksum side-car with a fresh checksum. Every other entry is copied
// without recompression. A missing side-car is added right after entry.
func Splice(source []byte, entry, program string) ([]byte, error) {
	if len(source) == 0 {
		return nil, ErrNoSource
	}

	zr, err := zip.NewReader(bytes.NewReader(source), int64(len(source)))
	if err != nil {
		return nil, fmt.Errorf("failed to open source container: %w", err)
	}

	sidecar := entry + ChecksumExt
	var found, hasSidecar bool
	for _, f := range zr.File {
		switch f.Name {
		case entry:
			found = true
		case sidecar:
			hasSidecar = true
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, entry)
	}

	sum := []byte(Checksum(program))

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range zr.File {
		switch f.Name {
		case entry:
			if err := writeEntry(zw, replacementHeader(f), []byte(program)); err != nil {
				return nil, err
			}
			if !hasSidecar {
				hdr := replacementHeader(f)
				hdr.Name = sidecar
				hdr.Comment = ""
				if err := writeEntry(zw, hdr, sum); err != nil {
					return nil, err
				}
			}
		case sidecar:
			if err := writeEntry(zw, replacementHeader(f), sum); err != nil {
				return nil, err
			}
		default:
			if err := zw.Copy(f); err != nil {
				return nil, fmt.Errorf("failed to copy entry %s: %w", f.Name, err)
			}
		}
	}
	if err := zw.SetComment(zr.Comment); err != nil {
		return nil, fmt.Errorf("failed to set container comment: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize container: %w", err)
	}
	return buf.Bytes(), nil
}

// SpliceJobs splices program into the container the first job came from.
func SpliceJobs(jobs []*plate.Job, program string) ([]byte, error) {
	if len(jobs) == 0 || !jobs[0].HasSource() {
		return nil, ErrNoSource
	}
	src := jobs[0].Source
	return Splice(src.Bytes, src.Entry, program)
}

// Pack produces container bytes in the given mode.
func Pack(mode Mode, in BuildInput) ([]byte, error) {
	switch mode {
	case ModeSplice:
		return SpliceJobs(in.Jobs, in.Program)
	case ModeBuild, "":
		return Build(in)
	default:
		return nil, fmt.Errorf("unknown repack mode %q", mode)
	}
}

// replacementHeader keeps the original entry's name, method, timestamp and
// comment. Sizes and CRC are recomputed by the writer. Modified stays zero so
// the writer keeps the DOS date and time fields verbatim.
func replacementHeader(f *zip.File) *zip.FileHeader {
	return &zip.FileHeader{
		Name:         f.Name,
		Comment:      f.Comment,
		Method:       f.Method,
		ModifiedTime: f.ModifiedTime, //nolint:staticcheck
		ModifiedDate: f.ModifiedDate, //nolint:staticcheck
	}
}

func writeEntry(zw *zip.Writer, hdr *zip.FileHeader, data []byte) error {
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("failed to create entry %s: %w", hdr.Name, err)
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write entry %s: %w", hdr.Name, err)
	}
	return nil
}
