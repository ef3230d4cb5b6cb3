//go:build !cgo

package metadata

// NewTesseract reports the OCR engine as unavailable in cgo-free builds. The
// pipeline treats this like any other advisory extraction failure.
func NewTesseract() (Extractor, error) {
	return nil, ErrUnavailable
}
