// Package imgio loads ECG scan images for the digitization pipeline.
package imgio

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"ecg-digitizer/pkg/geometry"

	"github.com/disintegration/imaging"
	"golang.org/x/image/tiff"
)

// Load reads a PNG, JPEG or TIFF scan from disk.
func Load(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".tif") || strings.EqualFold(filepath.Ext(path), ".tiff") {
		img, err := tiff.Decode(f)
		if err != nil {
			return nil, fmt.Errorf("failed to decode TIFF %s: %w", path, err)
		}
		return img, nil
	}

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return img, nil
}

// Deskew rotates the scan by the given angle in degrees, filling the exposed
// corners with paper white. Small-angle correction for tilted flatbed scans.
func Deskew(img image.Image, angleDeg float64) image.Image {
	if angleDeg == 0 {
		return img
	}
	return imaging.Rotate(img, angleDeg, color.White)
}

// Crop returns the sub-image under the given rectangle.
func Crop(img image.Image, r geometry.RectInt) image.Image {
	return imaging.Crop(img, image.Rect(r.X, r.Y, r.Right(), r.Bottom()))
}

// Grayscale converts the scan to grayscale, for OCR preprocessing.
func Grayscale(img image.Image) image.Image {
	return imaging.Grayscale(img)
}
