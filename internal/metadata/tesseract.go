//go:build cgo

package metadata

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"github.com/otiai10/gosseract/v2"
)

// TesseractExtractor implements Extractor with the Tesseract engine.
type TesseractExtractor struct {
	client *gosseract.Client
}

// NewTesseract creates a Tesseract-backed extractor.
func NewTesseract() (*TesseractExtractor, error) {
	client := gosseract.NewClient()
	if err := client.SetLanguage("eng"); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set OCR language: %w", err)
	}

	// Header text mixes identifiers and dates, not dictionary words; keep
	// Tesseract from "correcting" patient IDs into English.
	_ = client.SetVariable("load_system_dawg", "false")
	_ = client.SetVariable("load_freq_dawg", "false")

	return &TesseractExtractor{client: client}, nil
}

// Extract runs OCR over the header sub-image and parses structured fields.
func (t *TesseractExtractor) Extract(img image.Image) (Fields, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return Fields{}, fmt.Errorf("failed to encode header image: %w", err)
	}

	if err := t.client.SetPageSegMode(gosseract.PSM_SINGLE_BLOCK); err != nil {
		return Fields{}, fmt.Errorf("failed to set PSM: %w", err)
	}
	if err := t.client.SetImageFromBytes(buf.Bytes()); err != nil {
		return Fields{}, fmt.Errorf("failed to set image: %w", err)
	}

	text, err := t.client.Text()
	if err != nil {
		return Fields{}, fmt.Errorf("OCR failed: %w", err)
	}
	return ParseFields(CleanText(text)), nil
}

// Close releases OCR resources.
func (t *TesseractExtractor) Close() error {
	if t.client != nil {
		return t.client.Close()
	}
	return nil
}
