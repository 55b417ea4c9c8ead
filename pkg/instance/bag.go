package instance

import (
	"encoding/json"
	"fmt"
	"time"
)

// Bag is an open key->scalar attribute map. Values are numbers, short
// strings, or flat lists of those. Bags are merged key-by-key on update,
// never wholesale-replaced.
type Bag map[string]any

// Merge copies every key of other into the bag, overwriting on collision.
// A nil receiver stays nil; callers allocate first.
func (b Bag) Merge(other Bag) {
	for k, v := range other {
		b[k] = v
	}
}

// Clone returns a shallow copy. Nil in, nil out.
func (b Bag) Clone() Bag {
	if b == nil {
		return nil
	}
	cp := make(Bag, len(b))
	for k, v := range b {
		cp[k] = v
	}
	return cp
}

// Float returns the value under key as a float64, or 0 when absent or not
// numeric. JSON decoding yields float64 for all numbers; int covers values
// set in-process.
func (b Bag) Float(key string) float64 {
	switch v := b[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

// String returns the value under key as a string, or "" when absent.
func (b Bag) String(key string) string {
	s, _ := b[key].(string)
	return s
}

// Has reports whether key is present.
func (b Bag) Has(key string) bool {
	_, ok := b[key]
	return ok
}

// Validate enforces the scalar schema at the store boundary: numbers,
// booleans, strings, and flat lists of those. Nested maps and lists of
// lists are rejected.
func (b Bag) Validate() error {
	for k, v := range b {
		switch vv := v.(type) {
		case nil, bool, string, float64, float32, int, int64, []string, []float64:
		case []any:
			for _, item := range vv {
				if !scalarOK(item) {
					return fmt.Errorf("%w: bag key %q holds non-scalar list element %T", ErrValidation, k, item)
				}
			}
		default:
			return fmt.Errorf("%w: bag key %q holds unsupported type %T", ErrValidation, k, v)
		}
	}
	return nil
}

func scalarOK(v any) bool {
	switch v.(type) {
	case nil, bool, string, float64, float32, int, int64:
		return true
	default:
		return false
	}
}

// EncodeBag serializes a bag to JSON, encoding nil as the empty object so
// both backends round-trip an always-present map.
func EncodeBag(b Bag) ([]byte, error) {
	if b == nil {
		b = Bag{}
	}
	return json.Marshal(b)
}

// DecodeBag parses stored bag JSON. Malformed payloads are recovered as an
// empty bag with a non-nil error the caller logs as a warning; corrupt rows
// must never fail a read.
func DecodeBag(data []byte) (Bag, error) {
	if len(data) == 0 {
		return Bag{}, nil
	}
	var b Bag
	if err := json.Unmarshal(data, &b); err != nil {
		return Bag{}, fmt.Errorf("malformed bag payload: %w", err)
	}
	if b == nil {
		b = Bag{}
	}
	return b, nil
}

// StampLayout is the flat-file timestamp format. Minute resolution is the
// persisted wire contract; migration tooling parses exactly this shape.
const StampLayout = "2006-01-02 15:04"

// FormatStamp renders a timestamp at minute resolution, empty for nil.
func FormatStamp(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(StampLayout)
}

// ParseStamp is the exact inverse of FormatStamp. Empty input yields nil.
func ParseStamp(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(StampLayout, s, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("%w: bad timestamp %q: %v", ErrValidation, s, err)
	}
	return &t, nil
}
