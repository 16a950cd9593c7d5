// Package photo normalises camera captures before they are stored or sent
// to face recognition.
package photo

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
)

// MaxSide bounds the longer edge of a normalised photo.
const MaxSide = 1024

// ErrUndecodable means the upload is not an image format we can read.
var ErrUndecodable = errors.New("photo is not a decodable image")

// Normalize decodes data, applies its EXIF orientation, shrinks it to fit
// MaxSide and re-encodes it as JPEG. The returned filename carries a .jpg
// extension.
func Normalize(data []byte, filename string) ([]byte, string, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	b := img.Bounds()
	if b.Dx() > MaxSide || b.Dy() > MaxSide {
		img = imaging.Fit(img, MaxSide, MaxSide, imaging.Lanczos)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, "", fmt.Errorf("encode photo: %w", err)
	}
	return buf.Bytes(), jpegName(filename), nil
}

func jpegName(filename string) string {
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	if base == "" || base == "." || base == "/" {
		base = "photo"
	}
	return base + ".jpg"
}
