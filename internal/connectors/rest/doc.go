// Package rest implements the upstream connector for paginated JSON listing
// endpoints and the HTTP document source used by downstream processing.
//
// # Architecture
//
//   - Client: one request per call, with proactive rate limiting, an optional
//     bearer token and typed errors. Retries belong to the fetcher.
//   - JSONDecoder: extracts the record array and total-count hint from a page
//     payload using dotted paths.
//
// # Rate Limiting
//
// The client combines a token bucket configured by upstream.rate_limit with
// reactive handling of X-RateLimit-Remaining/X-RateLimit-Reset headers. A 429
// response, or a 503 carrying Retry-After, is returned as a RateLimitError with
// the hint in seconds or as an HTTP date.
//
// # Authentication
//
// When upstream.token_env names a set environment variable its value is sent
// as a bearer token through an oauth2 static token source.
//
// # Pagination
//
// Pages are addressed by page number and size query parameters. A Link header
// with rel="last" is parsed into PageResponse.LastPage as a secondary bound.
package rest
