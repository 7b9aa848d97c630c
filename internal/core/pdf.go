package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/yuancheng-ma/healthfolio/internal/common"
)

const rasterDPI = "200"

// PageCount reads the page count from the PDF trailer. Encrypted or
// corrupted files return an error rather than a zero count.
func PageCount(path string) (int, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()
	return r.NumPage(), nil
}

// RasterizePDF renders every page of a PDF into 200-DPI JPEGs under outDir
// and returns the page files in order. The direct-vision workflow needs
// pdftoppm; without it PDFs can only go through the OCR workflows.
func RasterizePDF(ctx context.Context, runner Runner, pdfPath, outDir string) ([]string, error) {
	if _, err := runner.LookPath("pdftoppm"); err != nil {
		return nil, common.NewAppError(common.CodeVLMPDFUnsupported,
			"pdftoppm not installed, PDF rasterization unavailable: use the ocr_llm workflow for this file", err)
	}

	prefix := filepath.Join(outDir, "page")
	out, err := runner.Run(ctx, "pdftoppm", "-r", rasterDPI, "-jpeg", pdfPath, prefix)
	if err != nil {
		return nil, common.NewAppErrorf(common.CodeVLMPDFUnsupported,
			"pdftoppm failed: %v: %s", err, strings.TrimSpace(string(out)))
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		return nil, err
	}
	var pages []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "page") && strings.HasSuffix(e.Name(), ".jpg") {
			pages = append(pages, filepath.Join(outDir, e.Name()))
		}
	}
	// pdftoppm zero-pads page numbers, so lexical order is page order.
	sort.Strings(pages)
	if len(pages) == 0 {
		return nil, common.NewAppErrorf(common.CodeVLMPDFUnsupported, "pdftoppm produced no pages for %s", filepath.Base(pdfPath))
	}
	return pages, nil
}
