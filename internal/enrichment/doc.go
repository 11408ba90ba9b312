// Package enrichment fetches a per-subject JSON document from a backend API and
// extracts a single value from it with a JSONPath expression.
//
// The three steps are kept apart so each can be tested on its own:
//
//   - Fetcher performs exactly one authenticated call to the backend
//   - Extractor evaluates a JSONPath expression against the response body
//   - Pipeline strings the two together and turns every failure into an
//     absent Value, so callers embedding the result into a token never see
//     an error
//
// Nothing in this package caches backend responses. Only compiled JSONPath
// expressions are memoised.
package enrichment
