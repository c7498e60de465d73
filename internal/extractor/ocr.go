package extractor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
)

// TesseractOCR renders a page with pdftoppm and reads it with tesseract.
// Both binaries must be on PATH.
type TesseractOCR struct {
	Language string
	DPI      int
}

func (o *TesseractOCR) OCRPage(ctx context.Context, path string, page int) (string, error) {
	dir, err := os.MkdirTemp("", "tablenorm-ocr-*")
	if err != nil {
		return "", fmt.Errorf("creating OCR workdir: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	dpi := o.DPI
	if dpi <= 0 {
		dpi = 300
	}
	prefix := filepath.Join(dir, "page")
	p := strconv.Itoa(page)
	render := exec.CommandContext(ctx, "pdftoppm", "-f", p, "-l", p, "-r", strconv.Itoa(dpi), "-png", "-singlefile", path, prefix)
	if out, err := render.CombinedOutput(); err != nil {
		return "", fmt.Errorf("pdftoppm page %d: %w: %s", page, err, out)
	}

	lang := o.Language
	if lang == "" {
		lang = "eng"
	}
	cmd := exec.CommandContext(ctx, "tesseract", prefix+".png", "stdout", "-l", lang)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("tesseract page %d: %w", page, err)
	}
	return string(out), nil
}
