package repack

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
)

// PlaceholderSize is the edge length of the generated placeholder thumbnail.
const PlaceholderSize = 128

var placeholderColor = color.RGBA{R: 0xd8, G: 0xd8, B: 0xd8, A: 0xff}

// thumbnailPNG returns the decoded thumbnail when it is a valid PNG and a
// placeholder otherwise.
func thumbnailPNG(encoded string) ([]byte, error) {
	if data, ok := decodeThumbnail(encoded); ok {
		return data, nil
	}
	return Placeholder()
}

func decodeThumbnail(encoded string) ([]byte, bool) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, false
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, false
	}
	if _, err := png.Decode(bytes.NewReader(data)); err != nil {
		return nil, false
	}
	return data, true
}

// Placeholder renders a flat grey square PNG.
func Placeholder() ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, PlaceholderSize, PlaceholderSize))
	for y := range PlaceholderSize {
		for x := range PlaceholderSize {
			img.Set(x, y, placeholderColor)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode placeholder thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
