// Command ecgdigitize converts a scanned 12-lead ECG printout into calibrated
// per-lead digital signals.
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"image"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"ecg-digitizer/internal/digitize"
	"ecg-digitizer/internal/ecg"
	"ecg-digitizer/internal/imgio"
	"ecg-digitizer/internal/logger"
	"ecg-digitizer/internal/metadata"
	"ecg-digitizer/internal/overlay"
	"ecg-digitizer/internal/version"
)

func main() {
	imagePath := flag.String("image", "", "Path to ECG scan (PNG, JPEG, or TIFF)")
	outDir := flag.String("out", ".", "Output directory")
	paperSpeed := flag.Float64("paper-speed", 25, "Paper speed in mm/s")
	gridVoltage := flag.Float64("grid-voltage", 10, "Grid voltage scale in mm/mV")
	sampleRate := flag.Float64("rate", 500, "Output sample rate in Hz")
	expectedLayout := flag.String("layout", "", "Expected canonical layout (e.g. 3x4+rhythm), empty for auto")
	cabrera := flag.Bool("cabrera", false, "Printout uses Cabrera lead order")
	fallback := flag.Bool("nominal-fallback", false, "Allow nominal-scale calibration when no grid is found")
	useDP := flag.Bool("dp", false, "Use global DP trace resolution instead of greedy continuity")
	smooth := flag.Bool("smooth", false, "Apply light output smoothing")
	useOpenCV := flag.Bool("opencv", false, "Use the OpenCV preprocessing backend")
	deskew := flag.Float64("deskew", 0, "Rotate the scan by this many degrees before digitizing")
	leads := flag.String("leads", "", "Comma-separated leads to export (e.g. II,V5), empty for all")
	ocr := flag.Bool("ocr", false, "Extract printed metadata with Tesseract (advisory)")
	renderTrace := flag.Bool("trace", false, "Write a trace overlay PNG for visual QA")
	timeout := flag.Duration("timeout", 2*time.Minute, "Overall pipeline timeout")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("ecgdigitize %s (%s, built %s)\n", version.Version, version.GitCommit, version.BuildTime)
		return
	}
	if *imagePath == "" {
		fmt.Println("Usage: ecgdigitize -image <path> [options]")
		os.Exit(1)
	}

	img, err := imgio.Load(*imagePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	if *deskew != 0 {
		img = imgio.Deskew(img, *deskew)
	}
	bounds := img.Bounds()
	fmt.Printf("Loaded %s: %dx%d pixels\n", filepath.Base(*imagePath), bounds.Dx(), bounds.Dy())

	cfg := digitize.DefaultConfig()
	cfg.PaperSpeedMMPerSec = *paperSpeed
	cfg.GridMMPerMilliVolt = *gridVoltage
	cfg.SampleRate = *sampleRate
	cfg.ExpectedLayout = *expectedLayout
	cfg.Cabrera = *cabrera
	cfg.AllowNominalFallback = *fallback
	cfg.UseDP = *useDP
	cfg.Smooth = *smooth
	cfg.UseOpenCV = *useOpenCV

	d := digitize.New(cfg)
	if *ocr {
		ext, err := metadata.NewTesseract()
		if err != nil {
			logger.WarnLog("OCR requested but unavailable: %v", err)
		} else {
			defer ext.Close()
			d.SetMetadataExtractor(ext)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	result, err := d.Digitize(ctx, img)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Digitization failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Layout: %s (score %.2f)\n", result.Layout, result.LayoutScore)
	fmt.Printf("Calibration: %.3f px/mm, confidence %s\n",
		result.Calibration.PixelsPerMM(), result.Calibration.Confidence)
	for _, lr := range result.Leads {
		line := fmt.Sprintf("  %-6s %s", lr.Lead, lr.Status)
		if lr.Reason != "" {
			line += " (" + lr.Reason + ")"
		}
		fmt.Println(line)
	}

	selected, err := parseLeadFilter(*leads)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	base := strings.TrimSuffix(filepath.Base(*imagePath), filepath.Ext(*imagePath))
	if err := writeCSV(filepath.Join(*outDir, base+".csv"), result, selected); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write CSV: %v\n", err)
		os.Exit(1)
	}
	if err := writeJSON(filepath.Join(*outDir, base+".json"), result); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write JSON: %v\n", err)
		os.Exit(1)
	}
	if *renderTrace {
		if err := writeOverlay(filepath.Join(*outDir, base+"_trace.png"), img, result); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write overlay: %v\n", err)
			os.Exit(1)
		}
	}
}

// parseLeadFilter parses a comma-separated lead list into a filter set. An
// empty list means export everything.
func parseLeadFilter(s string) (map[ecg.Lead]bool, error) {
	if s == "" {
		return nil, nil
	}
	selected := make(map[ecg.Lead]bool)
	for _, name := range strings.Split(s, ",") {
		lead, err := ecg.ParseLead(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		selected[lead] = true
	}
	return selected, nil
}

// writeCSV emits one row per sample index with one column per exported lead.
// Leads are aligned by index within their own time windows; unfilled samples
// are left empty.
func writeCSV(path string, result *digitize.Result, selected map[ecg.Lead]bool) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	var cols []digitize.LeadResult
	for _, lr := range result.Leads {
		if selected != nil && !selected[lr.Lead] {
			continue
		}
		cols = append(cols, lr)
	}

	header := make([]string, 0, len(cols))
	maxLen := 0
	for _, lr := range cols {
		header = append(header, lr.Lead.String())
		if lr.Signal != nil && len(lr.Signal.Samples) > maxLen {
			maxLen = len(lr.Signal.Samples)
		}
	}
	if err := w.Write(header); err != nil {
		return err
	}

	row := make([]string, len(cols))
	for i := 0; i < maxLen; i++ {
		for j, lr := range cols {
			row[j] = ""
			if lr.Signal != nil && i < len(lr.Signal.Samples) {
				if v := lr.Signal.Samples[i]; !math.IsNaN(v) {
					row[j] = strconv.FormatFloat(v, 'f', 4, 64)
				}
			}
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(path string, result *digitize.Result) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func writeOverlay(path string, img image.Image, result *digitize.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, overlay.Render(img, result.Regions, result.Traces))
}
