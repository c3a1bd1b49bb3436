package source

import (
	"errors"
	"fmt"

	"github.com/gen2brain/go-fitz"
	"github.com/sirupsen/logrus"
)

// DefaultDPI keeps an A4 page near 1240×1754.
const DefaultDPI = 150

// ErrPageOutOfRange means the requested page does not exist in the document.
var ErrPageOutOfRange = errors.New("pdf page out of range")

// PDFSource is one rasterized PDF page held as a silent still clip.
type PDFSource struct {
	*ImageSource
	path  string
	page  int
	pages int
}

// NewPDFSource renders page (zero-based) of the document at dpi and holds
// it for duration seconds.
func NewPDFSource(path string, page, dpi int, duration float64) (*PDFSource, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer doc.Close()

	pages := doc.NumPage()
	if page < 0 || page >= pages {
		return nil, fmt.Errorf("%w: %d of %d", ErrPageOutOfRange, page+1, pages)
	}
	if dpi <= 0 {
		dpi = DefaultDPI
	}

	bound, err := doc.Bound(page)
	if err != nil {
		return nil, fmt.Errorf("page %d bounds: %w", page+1, err)
	}
	img, err := doc.ImageDPI(page, float64(dpi))
	if err != nil {
		return nil, fmt.Errorf("render page %d: %w", page+1, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewPDFSource",
		"path":     path,
		"page":     page + 1,
		"pages":    pages,
		"points":   fmt.Sprintf("%dx%d", bound.Dx(), bound.Dy()),
		"pixels":   fmt.Sprintf("%dx%d", img.Bounds().Dx(), img.Bounds().Dy()),
	}).Debug("PDF page rendered")

	return &PDFSource{
		ImageSource: &ImageSource{img: img, duration: duration},
		path:        path,
		page:        page,
		pages:       pages,
	}, nil
}

// PageCount is the number of pages in the document.
func (s *PDFSource) PageCount() int {
	return s.pages
}

// Page is the zero-based index of the rendered page.
func (s *PDFSource) Page() int {
	return s.page
}

func (s *PDFSource) Path() string {
	return s.path
}
