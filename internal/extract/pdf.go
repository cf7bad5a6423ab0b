package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/campaign-lens/backend/internal/models"
	"github.com/ledongthuc/pdf"
)

// pageSource is the paginated view of a decoded document. Pages are 1-based.
type pageSource interface {
	NumPage() int
	PageRuns(i int) ([]string, error)
}

// PDFExtractor extracts text from PDF documents page by page.
type PDFExtractor struct {
	open func(content []byte) (pageSource, error)
}

func NewPDFExtractor() *PDFExtractor {
	return &PDFExtractor{open: openPDF}
}

func (p *PDFExtractor) Name() string { return "pdf" }

func (p *PDFExtractor) CanExtract(mediaType, name string) bool {
	return models.IsPDFMediaType(mediaType, name)
}

// ExtractText joins the text runs of each page with a single space and
// terminates every page with a blank line. Any page failure aborts the
// whole document.
func (p *PDFExtractor) ExtractText(ctx context.Context, content []byte) (text string, err error) {
	// The parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = &ExtractionError{Message: MsgCorruptPDF, Err: fmt.Errorf("pdf parser panic: %v", r)}
		}
	}()

	doc, err := p.open(content)
	if err != nil {
		return "", &ExtractionError{Message: MsgCorruptPDF, Err: err}
	}
	return joinPages(ctx, doc)
}

func joinPages(ctx context.Context, doc pageSource) (string, error) {
	var b strings.Builder
	n := doc.NumPage()
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return "", &ExtractionError{Message: MsgReadFailed, Err: err}
		}
		runs, err := doc.PageRuns(i)
		if err != nil {
			return "", &ExtractionError{Message: MsgCorruptPDF, Err: fmt.Errorf("page %d: %w", i, err)}
		}
		b.WriteString(strings.Join(runs, " "))
		b.WriteString("\n\n")
	}
	return b.String(), nil
}

type ledongthucDoc struct {
	r *pdf.Reader
}

func openPDF(content []byte) (pageSource, error) {
	if len(content) == 0 {
		return nil, errors.New("empty pdf content")
	}
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	return &ledongthucDoc{r: r}, nil
}

func (d *ledongthucDoc) NumPage() int {
	return d.r.NumPage()
}

// PageRuns returns one run per text row, top to bottom.
func (d *ledongthucDoc) PageRuns(i int) ([]string, error) {
	page := d.r.Page(i)
	if page.V.IsNull() {
		return nil, fmt.Errorf("page object missing")
	}
	rows, err := page.GetTextByRow()
	if err != nil {
		return nil, err
	}
	runs := make([]string, 0, len(rows))
	for _, row := range rows {
		var sb strings.Builder
		for _, t := range row.Content {
			sb.WriteString(t.S)
		}
		if sb.Len() > 0 {
			runs = append(runs, sb.String())
		}
	}
	return runs, nil
}
