package utils

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"

	"nicotsm/internal"
)

// ContentID is a parsed identifier such as lv12345 or ch678.
// Prefix is empty for bare numbers.
type ContentID struct {
	Prefix string
	Number int64
}

// String returns the canonical form
func (c ContentID) String() string {
	return c.Prefix + strconv.FormatInt(c.Number, 10)
}

var contentIDPattern = regexp.MustCompile(`^([a-z]+)?([0-9]+)$`)

// ParseContentID accepts a Go integer, an integral JSON number or a string
// matching ^([a-z]+)?([0-9]+)$.
func ParseContentID(x interface{}) (ContentID, error) {
	switch v := x.(type) {
	case int:
		return fromInt64(x, int64(v))
	case int8:
		return fromInt64(x, int64(v))
	case int16:
		return fromInt64(x, int64(v))
	case int32:
		return fromInt64(x, int64(v))
	case int64:
		return fromInt64(x, v)
	case uint:
		return fromUint64(x, uint64(v))
	case uint8:
		return fromUint64(x, uint64(v))
	case uint16:
		return fromUint64(x, uint64(v))
	case uint32:
		return fromUint64(x, uint64(v))
	case uint64:
		return fromUint64(x, v)
	case float64:
		if v != math.Trunc(v) || v < 0 || v >= 1<<63 {
			return ContentID{}, internal.NewInvalidContentIDError(x, "")
		}
		return ContentID{Number: int64(v)}, nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return ContentID{}, internal.NewInvalidContentIDError(x, "")
		}
		return fromInt64(x, n)
	case ContentID:
		return v, nil
	case string:
		m := contentIDPattern.FindStringSubmatch(v)
		if m == nil {
			return ContentID{}, internal.NewInvalidContentIDError(x, "")
		}
		n, err := strconv.ParseInt(m[2], 10, 64)
		if err != nil {
			return ContentID{}, internal.NewInvalidContentIDError(x, "")
		}
		return ContentID{Prefix: m[1], Number: n}, nil
	default:
		return ContentID{}, internal.NewInvalidContentIDError(x, "")
	}
}

func fromInt64(x interface{}, n int64) (ContentID, error) {
	if n < 0 {
		return ContentID{}, internal.NewInvalidContentIDError(x, "")
	}
	return ContentID{Number: n}, nil
}

func fromUint64(x interface{}, n uint64) (ContentID, error) {
	if n > math.MaxInt64 {
		return ContentID{}, internal.NewInvalidContentIDError(x, "")
	}
	return ContentID{Number: int64(n)}, nil
}

// IntID returns the numeric part of x, failing when x carries a prefix other
// than expected.
func IntID(expected string, x interface{}) (int64, error) {
	id, err := ParseContentID(x)
	if err != nil {
		return 0, err
	}
	if id.Prefix != "" && id.Prefix != expected {
		return 0, internal.NewInvalidContentIDError(x, expected)
	}
	return id.Number, nil
}

// StrID returns the canonical expected-prefixed form of x
func StrID(expected string, x interface{}) (string, error) {
	n, err := IntID(expected, x)
	if err != nil {
		return "", err
	}
	return expected + strconv.FormatInt(n, 10), nil
}
