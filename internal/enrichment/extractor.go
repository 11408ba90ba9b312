package enrichment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/ohler55/ojg"
	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
	gocache "github.com/patrickmn/go-cache"

	apperrors "claim-enricher/internal/common/errors"
)

// DefaultExpressionTTL is how long a compiled JSONPath expression stays cached
const DefaultExpressionTTL = 30 * time.Minute

var canonicalJSON = &ojg.Options{Sort: true, HTMLUnsafe: true}

// ExtractorOption customises an Extractor
type ExtractorOption func(*Extractor)

// WithExpressionTTL changes how long compiled expressions are kept
func WithExpressionTTL(ttl time.Duration) ExtractorOption {
	return func(e *Extractor) {
		e.ttl = ttl
	}
}

// Extractor evaluates JSONPath expressions against backend responses.
//
// A definite path (only member names and indices) yields the single node it
// selects. An indefinite path (wildcards, recursive descent, filters, slices
// or unions) yields every match as a JSON array. Either kind with no match
// fails with a path_not_found error. A match that is JSON null yields an
// absent Value.
type Extractor struct {
	ttl         time.Duration
	expressions *gocache.Cache
}

// NewExtractor creates an Extractor with its own expression cache
func NewExtractor(opts ...ExtractorOption) *Extractor {
	e := &Extractor{ttl: DefaultExpressionTTL}
	for _, opt := range opts {
		opt(e)
	}
	e.expressions = gocache.New(e.ttl, 2*e.ttl)
	return e
}

// Extract parses raw as JSON and returns the value selected by path
func (e *Extractor) Extract(raw []byte, path string) (Value, error) {
	expr, err := e.compile(path)
	if err != nil {
		return None, err
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		return None, apperrors.MalformedResponseError(fmt.Errorf("body is empty"))
	}

	doc, err := oj.Parse(raw)
	if err != nil {
		return None, apperrors.MalformedResponseError(err)
	}

	matches := expr.Get(doc)
	if len(matches) == 0 {
		return None, apperrors.PathNotFoundError(path)
	}

	if isDefinite(expr) {
		return Stringify(matches[0]), nil
	}
	return Some(oj.JSON(canonicalNumbers(matches), canonicalJSON)), nil
}

// CachedExpressions reports how many compiled expressions are held
func (e *Extractor) CachedExpressions() int {
	return e.expressions.ItemCount()
}

func (e *Extractor) compile(path string) (jp.Expr, error) {
	if path == "" {
		return nil, apperrors.ValidationError("json path is empty")
	}

	if cached, ok := e.expressions.Get(path); ok {
		return cached.(jp.Expr), nil
	}

	expr, err := jp.ParseString(path)
	if err != nil {
		return nil, apperrors.ValidationError(fmt.Sprintf("invalid json path %q: %v", path, err))
	}

	e.expressions.Set(path, expr, gocache.DefaultExpiration)
	return expr, nil
}

// isDefinite reports whether expr can select at most one node
func isDefinite(expr jp.Expr) bool {
	for _, frag := range expr {
		switch frag.(type) {
		case jp.Root, jp.At, jp.Child, jp.Nth, jp.Bracket:
		default:
			return false
		}
	}
	return true
}

// Stringify renders a decoded JSON node as claim text. Strings are returned
// unquoted, numbers as FormatNumber renders them, and objects or arrays as
// compact JSON with sorted keys. JSON null is absent.
func Stringify(node interface{}) Value {
	switch v := node.(type) {
	case nil:
		return None
	case string:
		return Some(v)
	case bool:
		return Some(strconv.FormatBool(v))
	case int64:
		return Some(strconv.FormatInt(v, 10))
	case int:
		return Some(strconv.Itoa(v))
	case float64:
		return Some(FormatNumber(v))
	case map[string]interface{}, []interface{}:
		return Some(oj.JSON(canonicalNumbers(v), canonicalJSON))
	default:
		return Some(fmt.Sprint(v))
	}
}

// FormatNumber renders f in its shortest round-trip form: plain decimal for
// magnitudes in [1e-6, 1e21), exponent notation outside that range.
func FormatNumber(f float64) string {
	if abs := math.Abs(f); abs != 0 && (abs < 1e-6 || abs >= 1e21) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// canonicalNumbers copies node with every float replaced by its FormatNumber
// text, so embedded numbers read the same as scalar ones.
func canonicalNumbers(node interface{}) interface{} {
	switch v := node.(type) {
	case float64:
		return json.Number(FormatNumber(v))
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = canonicalNumbers(item)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			out[k] = canonicalNumbers(item)
		}
		return out
	default:
		return node
	}
}
