// Package parsers provides the parser registry and, in its subpackages,
// implementations of the DocumentParser interface for downstream document
// processing. Each parser knows how to extract fields from a specific
// MIME type and reports failures as typed ParseFailure values.
//
// Parsers are registered with the Registry at startup.
package parsers
