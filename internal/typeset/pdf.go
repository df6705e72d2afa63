package typeset

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// pdfTimeout bounds one Chromium print run.
const pdfTimeout = 60 * time.Second

// paperDimensions maps a paper size name to width/height in inches
// (Chromium's PrintToPDF unit).
func paperDimensions(size string) (float64, float64) {
	switch size {
	case "a5":
		return 5.83, 8.27
	case "letter":
		return 8.5, 11.0
	default: // a4
		return 8.27, 11.69
	}
}

// renderPDF prints the HTML file at htmlPath to PDF using headless
// Chromium and returns the PDF bytes.
func renderPDF(ctx context.Context, chromiumPath, htmlPath, paperSize string) ([]byte, error) {
	if chromiumPath == "" {
		path, err := exec.LookPath("chromium-browser")
		if err != nil {
			if path, err = exec.LookPath("chromium"); err != nil {
				return nil, fmt.Errorf("%w: chromium not installed", ErrPDFDependencyMissing)
			}
		}
		chromiumPath = path
	}

	ctx, cancel := context.WithTimeout(ctx, pdfTimeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(chromiumPath),
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
	)

	allocCtx, cancel := chromedp.NewExecAllocator(ctx, opts...)
	defer cancel()

	taskCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	width, height := paperDimensions(paperSize)

	var pdfData []byte
	err := chromedp.Run(taskCtx,
		chromedp.Navigate("file://"+htmlPath),
		chromedp.WaitReady("body"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			pdfData, _, err = page.PrintToPDF().
				WithPrintBackground(true).
				WithPaperWidth(width).
				WithPaperHeight(height).
				WithMarginTop(0.75).
				WithMarginBottom(0.75).
				WithMarginLeft(0.75).
				WithMarginRight(0.75).
				WithPreferCSSPageSize(true).
				Do(ctx)
			return err
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: chromium pdf generation: %v", ErrToolFailed, err)
	}
	return pdfData, nil
}
