package form

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
)

// RawBodyKey is the reserved pair key carrying an unparsed request body.
// Batches skip it.
const RawBodyKey = "plain"

// maxBodyBytes bounds the size of a request body read by [PairsFromRequest].
const maxBodyBytes = 16 << 10

// Pair is a single submitted key/value field.
type Pair struct {
	Key   string
	Value string
}

// ApplyBatch applies pairs to v in order and stops at the first failure.
//
// Pairs applied before the failing pair stay applied: the batch is not
// transactional. Pairs with [RawBodyKey] are skipped.
func ApplyBatch(v Validator, pairs []Pair) error {
	for _, p := range pairs {
		if p.Key == RawBodyKey {
			continue
		}
		if err := v.Apply(p.Key, p.Value); err != nil {
			return err
		}
	}
	return nil
}

// ParsePairs splits a form-encoded string into pairs, preserving order.
func ParsePairs(encoded string) ([]Pair, error) {
	var pairs []Pair
	for _, field := range strings.Split(encoded, "&") {
		if field == "" {
			continue
		}
		rawKey, rawValue, _ := strings.Cut(field, "=")
		key, err := url.QueryUnescape(rawKey)
		if err != nil {
			return nil, fmt.Errorf("invalid form key %q: %w", rawKey, err)
		}
		value, err := url.QueryUnescape(rawValue)
		if err != nil {
			return nil, fmt.Errorf("invalid form value for key %q: %w", key, err)
		}
		pairs = append(pairs, Pair{Key: key, Value: value})
	}
	return pairs, nil
}

// PairsFromRequest returns the query string pairs of r followed by its body
// pairs, in arrival order.
//
// A form-encoded body is split into pairs. Any other non-empty body is
// returned as a single [RawBodyKey] pair.
func PairsFromRequest(r *http.Request) ([]Pair, error) {
	pairs, err := ParsePairs(r.URL.RawQuery)
	if err != nil {
		return nil, err
	}

	if r.Body == nil || r.Body == http.NoBody {
		return pairs, nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("request body exceeds %d bytes", maxBodyBytes)
	}
	if len(body) == 0 {
		return pairs, nil
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "application/x-www-form-urlencoded" {
		return append(pairs, Pair{Key: RawBodyKey, Value: string(body)}), nil
	}

	bodyPairs, err := ParsePairs(string(body))
	if err != nil {
		return nil, err
	}
	return append(pairs, bodyPairs...), nil
}
