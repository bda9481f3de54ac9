package service

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

var supportedMimeTypes = map[string]struct{}{
	"application/pdf": {},
	"image/jpeg":      {},
	"image/png":       {},
	"image/webp":      {},
	"image/heic":      {},
}

var errEmptyContent = errors.New("document content is empty")

// PDFInspector rejects unsupported or malformed content before it costs an
// oracle call. PDFs are validated in relaxed mode and their pages counted.
type PDFInspector struct {
	maxPages int
}

// NewPDFInspector refuses PDFs longer than maxPages; zero means no limit.
func NewPDFInspector(maxPages int) *PDFInspector {
	return &PDFInspector{maxPages: maxPages}
}

func (i *PDFInspector) Inspect(content []byte, mimeType string) (Inspection, error) {
	if len(content) == 0 {
		return Inspection{}, errEmptyContent
	}
	mimeType = normalizeMimeType(mimeType)
	if _, ok := supportedMimeTypes[mimeType]; !ok {
		return Inspection{}, fmt.Errorf("unsupported mime type %q", mimeType)
	}
	if mimeType != "application/pdf" {
		return Inspection{MimeType: mimeType, PageCount: 1}, nil
	}

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	if err := api.Validate(bytes.NewReader(content), conf); err != nil {
		return Inspection{}, fmt.Errorf("invalid PDF: %w", err)
	}
	pages, err := api.PageCount(bytes.NewReader(content), conf)
	if err != nil {
		return Inspection{}, fmt.Errorf("failed to count PDF pages: %w", err)
	}
	if i.maxPages > 0 && pages > i.maxPages {
		return Inspection{}, fmt.Errorf("PDF has %d pages, limit is %d", pages, i.maxPages)
	}
	return Inspection{MimeType: mimeType, PageCount: pages}, nil
}

func normalizeMimeType(mimeType string) string {
	if i := strings.Index(mimeType, ";"); i != -1 {
		mimeType = mimeType[:i]
	}
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if mimeType == "image/jpg" {
		return "image/jpeg"
	}
	return mimeType
}
