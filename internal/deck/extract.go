package deck

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// ErrPageOutOfRange reports a slide number outside [1, pageCount].
var ErrPageOutOfRange = errors.New("page out of range")

// Extractor produces single-page PDFs from stored decks.
type Extractor struct{}

// NewExtractor creates a pdfcpu-backed page extractor.
func NewExtractor() *Extractor { return &Extractor{} }

// PageCount reports the number of pages in a stored deck.
func (e *Extractor) PageCount(deckPath string) (int, error) {
	n, err := api.PageCountFile(deckPath)
	if err != nil {
		return 0, fmt.Errorf("count deck pages: %w", err)
	}
	return n, nil
}

// ExtractPage writes page n (1-based) of the deck to a temp file and
// returns its path plus a release func. The release func must be called
// on every path, success or failure, so extracted pages never outlive the
// generation call they were made for.
func (e *Extractor) ExtractPage(deckPath string, n int) (string, func(), error) {
	total, err := e.PageCount(deckPath)
	if err != nil {
		return "", nil, err
	}
	if n < 1 || n > total {
		return "", nil, fmt.Errorf("%w: page %d of %d", ErrPageOutOfRange, n, total)
	}

	tmp, err := os.CreateTemp("", "lectern-page-*.pdf")
	if err != nil {
		return "", nil, fmt.Errorf("create page temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", nil, fmt.Errorf("close page temp file: %w", err)
	}

	release := func() { _ = os.Remove(tmpPath) }

	if err := api.TrimFile(deckPath, tmpPath, []string{strconv.Itoa(n)}, nil); err != nil {
		release()
		return "", nil, fmt.Errorf("extract page %d: %w", n, err)
	}
	return tmpPath, release, nil
}
