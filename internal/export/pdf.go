package export

import (
	"context"
	"fmt"
	"net/url"
	"os/exec"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// dataURL encodes html for navigation. Spaces must be %20, not +.
func dataURL(html string) string {
	return "data:text/html;charset=utf-8," + strings.ReplaceAll(url.QueryEscape(html), "+", "%20")
}

func chromiumAvailable() bool {
	for _, name := range []string{"chromium-browser", "chromium", "google-chrome"} {
		if _, err := exec.LookPath(name); err == nil {
			return true
		}
	}
	return false
}

var chromeFlags = []chromedp.ExecAllocatorOption{
	chromedp.Flag("headless", true),
	chromedp.Flag("disable-gpu", true),
	chromedp.Flag("no-sandbox", true),
	chromedp.Flag("disable-dev-shm-usage", true),
}

// exportPDF prints HTML to a letter-size PDF using headless Chrome.
func exportPDF(ctx context.Context, html string, title string) (*Result, error) {
	if !chromiumAvailable() {
		return nil, fmt.Errorf("%w: chromium not installed", ErrPDFDependencyMissing)
	}
	data, err := printHTML(ctx, html)
	if err != nil {
		return nil, fmt.Errorf("print pdf: %w", err)
	}
	return &Result{
		Data:     data,
		Filename: sanitizeFilename(title) + ".pdf",
		MimeType: "application/pdf",
	}, nil
}

func printHTML(ctx context.Context, html string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx,
		append(chromedp.DefaultExecAllocatorOptions[:], chromeFlags...)...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	var out []byte
	printPage := chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		out, _, err = page.PrintToPDF().
			WithPrintBackground(true).
			WithDisplayHeaderFooter(false).
			WithPaperWidth(8.5).
			WithPaperHeight(11).
			WithMarginTop(1).
			WithMarginBottom(1).
			WithMarginLeft(1).
			WithMarginRight(1).
			Do(ctx)
		return err
	})
	if err := chromedp.Run(browserCtx, chromedp.Navigate(dataURL(html)), chromedp.WaitReady("body"), printPage); err != nil {
		return nil, err
	}
	return out, nil
}

// sanitizeFilename keeps ASCII letters, digits, dashes and underscores.
func sanitizeFilename(title string) string {
	var b strings.Builder
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ' || r == '.':
			b.WriteRune('-')
		}
	}
	result := b.String()
	if len(result) > 60 {
		result = result[:60]
	}
	if result == "" {
		result = "document"
	}
	return result
}
