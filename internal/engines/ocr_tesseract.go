package engines

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
)

const tesseractBinary = "tesseract"

// IsTesseractAvailable reports whether the system tesseract binary can be
// found, the same LookPath probe videochunk.IsFFmpegAvailable uses for its
// own external binary dependency.
func IsTesseractAvailable() bool {
	_, err := exec.LookPath(tesseractBinary)
	return err == nil
}

// TesseractOCREngine implements OCREngine by shelling out to the
// tesseract CLI per call: write the image to a temp PNG, run
// `tesseract <in> <outbase> tsv`, parse the TSV for text and a mean
// confidence. TSV (rather than plain stdout text) is the only tesseract
// output mode that reports per-word confidence, needed for OCRRow's
// Confidence field.
type TesseractOCREngine struct {
	BinaryPath string // defaults to "tesseract" when empty
	Lang       string // tesseract -l flag; empty uses tesseract's default
}

// NewTesseractOCREngine constructs an engine using the system tesseract
// binary and the given language code (e.g. "eng", "chi_sim").
func NewTesseractOCREngine(lang string) *TesseractOCREngine {
	return &TesseractOCREngine{BinaryPath: tesseractBinary, Lang: lang}
}

// Recognize runs tesseract against img and returns its extracted text,
// the raw TSV as textJSON (field name carried over from the wire schema;
// it is tesseract's TSV here, not JSON), and the mean word confidence
// scaled to [0,1].
func (e *TesseractOCREngine) Recognize(ctx context.Context, img image.Image) (text, textJSON string, confidence float64, err error) {
	binary := e.BinaryPath
	if binary == "" {
		binary = tesseractBinary
	}

	dir, mkErr := os.MkdirTemp("", "visualmem-ocr-*")
	if mkErr != nil {
		return "", "", 0, fmt.Errorf("engines: create ocr temp dir: %w", mkErr)
	}
	defer os.RemoveAll(dir)

	inPath := filepath.Join(dir, "in.png")
	f, createErr := os.Create(inPath)
	if createErr != nil {
		return "", "", 0, fmt.Errorf("engines: create ocr temp image: %w", createErr)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return "", "", 0, fmt.Errorf("engines: encode ocr temp image: %w", err)
	}
	f.Close()

	outBase := filepath.Join(dir, "out")
	args := []string{inPath, outBase}
	if e.Lang != "" {
		args = append(args, "-l", e.Lang)
	}
	args = append(args, "tsv")

	cmd := exec.CommandContext(ctx, binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", "", 0, fmt.Errorf("engines: tesseract failed: %w (%s)", err, stderr.String())
	}

	tsvBytes, readErr := os.ReadFile(outBase + ".tsv")
	if readErr != nil {
		return "", "", 0, fmt.Errorf("engines: read tesseract tsv: %w", readErr)
	}

	text, confidence = parseTesseractTSV(string(tsvBytes))
	return text, string(tsvBytes), confidence, nil
}
