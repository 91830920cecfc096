package parsers

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/custodia-labs/harvest/internal/core/domain"
	"github.com/custodia-labs/harvest/internal/core/ports/driven"
	"github.com/custodia-labs/harvest/internal/logger"
)

// Ensure Registry implements the interface.
var _ driven.ParserRegistry = (*Registry)(nil)

// wildcard registers a parser for every MIME type.
const wildcard = "*"

// Registry dispatches documents to the highest-priority parser for their
// MIME type. Exact matches win over wildcard parsers of equal priority.
type Registry struct {
	mu     sync.RWMutex
	byMIME map[string][]driven.DocumentParser
}

// NewRegistry creates a registry with the given parsers.
func NewRegistry(parsers ...driven.DocumentParser) *Registry {
	r := &Registry{byMIME: make(map[string][]driven.DocumentParser)}
	for _, p := range parsers {
		r.Register(p)
	}
	return r
}

// Register adds a parser to the registry.
func (r *Registry) Register(p driven.DocumentParser) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, mt := range p.SupportedMIMETypes() {
		mt = strings.ToLower(mt)
		list := append(r.byMIME[mt], p)
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].Priority() > list[j].Priority()
		})
		r.byMIME[mt] = list
	}
}

// SupportedMIMETypes returns all MIME types with at least one parser.
func (r *Registry) SupportedMIMETypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.byMIME))
	for mt := range r.byMIME {
		if mt != wildcard {
			out = append(out, mt)
		}
	}
	sort.Strings(out)
	return out
}

// Parse dispatches to the best parser. Empty documents and unsupported
// types fail without reaching a parser; a parser panic is contained as a
// TRANSIENT_EXCEPTION so one bad document never stops a processing pass.
func (r *Registry) Parse(ctx context.Context, raw *domain.RawDocument) (result domain.ParseResult) {
	if raw == nil || len(strings.TrimSpace(string(raw.Content))) == 0 {
		return domain.Failf(domain.ErrorTypeEmptyDocument, "document body is empty")
	}

	p := r.selectParser(raw.MIMEType)
	if p == nil {
		return domain.Failf(domain.ErrorTypeUnsupportedContent, fmt.Sprintf("no parser for %q", raw.MIMEType))
	}

	defer func() {
		if rec := recover(); rec != nil {
			logger.Warn("parser %s panicked on %s: %v", p.Name(), raw.URI, rec)
			result = domain.Failf(domain.ErrorTypeTransient, fmt.Sprintf("parser %s panicked: %v", p.Name(), rec))
		}
	}()

	logger.Debug("Parsing %s with %s", raw.URI, p.Name())
	return p.Parse(ctx, raw)
}

func (r *Registry) selectParser(mimeType string) driven.DocumentParser {
	r.mu.RLock()
	defer r.mu.RUnlock()

	exact := r.byMIME[strings.ToLower(strings.TrimSpace(mimeType))]
	fallback := r.byMIME[wildcard]

	switch {
	case len(exact) > 0 && len(fallback) > 0:
		if fallback[0].Priority() > exact[0].Priority() {
			return fallback[0]
		}
		return exact[0]
	case len(exact) > 0:
		return exact[0]
	case len(fallback) > 0:
		return fallback[0]
	default:
		return nil
	}
}
