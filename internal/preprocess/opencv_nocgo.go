//go:build !cgo

package preprocess

import (
	"errors"
	"image"
)

// BuildMasksOpenCV reports the OpenCV backend as unavailable in cgo-free
// builds, matching the metadata package's Tesseract stub.
func BuildMasksOpenCV(img image.Image, opts Options) (*Masks, error) {
	return nil, errors.New("preprocess: OpenCV backend unavailable (built without cgo)")
}
