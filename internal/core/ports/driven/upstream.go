package driven

import (
	"context"

	"github.com/custodia-labs/harvest/internal/core/domain"
)

// PageRequest identifies one page of the upstream dataset.
type PageRequest struct {
	// Page is the zero-based page index. Clients add the configured offset.
	Page int

	// PageSize is the number of records requested per page.
	PageSize int
}

// PageResponse is the raw outcome of one page request.
type PageResponse struct {
	// URL is the full request URL, recorded as the snapshot origin.
	URL string

	// StatusCode is the HTTP status returned.
	StatusCode int

	// Body is the unmodified response payload.
	Body []byte

	// LastPage is the zero-based index of the last page advertised by a
	// Link rel="last" header, or -1 when the upstream sends none.
	LastPage int
}

// PageClient requests pages from the upstream dataset.
// Non-2xx responses return both the response and an error carrying the
// status (see domain.StatusError). Transport failures return a nil response.
type PageClient interface {
	// FetchPage performs a single request with no retries.
	FetchPage(ctx context.Context, req PageRequest) (*PageResponse, error)

	// PageURL returns the URL FetchPage would request.
	PageURL(req PageRequest) string
}

// DecodedPage is the semantic content of one page payload.
type DecodedPage struct {
	// Records are the page's records in payload order.
	Records []domain.Fields

	// TotalCount is the upstream total-count hint, nil when absent.
	TotalCount *int
}

// PageDecoder extracts records from a page payload.
// Structural mismatches return an error wrapping domain.ErrDecodePayload.
type PageDecoder interface {
	Decode(body []byte) (*DecodedPage, error)
}

// DocumentSource downloads a document referenced by an entity.
// Non-2xx responses return an error carrying the status.
type DocumentSource interface {
	Fetch(ctx context.Context, url string) (*domain.RawDocument, error)
}
