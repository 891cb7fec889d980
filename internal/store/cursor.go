package store

import (
	"encoding/base64"
	"encoding/json"

	"github.com/steveyegge/pm/internal/apierrors"
)

// DefaultLimit and MaxLimit implement spec.md §4.1's global list contract.
const (
	DefaultLimit = 50
	MaxLimit     = 100
)

// ClampLimit validates and clamps a requested page size per spec.md §8:
// limit = 0 is rejected, limit > MaxLimit is clamped to MaxLimit with a
// nil error, limit < 0 is also rejected. No flag or error marks that a
// clamp happened; the returned value is the only sign of it.
func ClampLimit(requested int) (int, error) {
	if requested == 0 {
		return 0, apierrors.New(apierrors.CodeValidation, "limit must be >= 1")
	}
	if requested < 0 {
		return 0, apierrors.New(apierrors.CodeValidation, "limit must be positive")
	}
	if requested > MaxLimit {
		return MaxLimit, nil
	}
	return requested, nil
}

// cursor encodes the (primarySortKey, id) pagination tuple of spec.md
// §4.1 as base64 of a canonical JSON object.
type cursor struct {
	Key string `json:"k"`
	ID  string `json:"id"`
}

func encodeCursor(key, id string) string {
	data, _ := json.Marshal(cursor{Key: key, ID: id})
	return base64.URLEncoding.EncodeToString(data)
}

func decodeCursor(s string) (cursor, error) {
	var c cursor
	data, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return c, apierrors.New(apierrors.CodeValidation, "invalid cursor encoding")
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return c, apierrors.New(apierrors.CodeValidation, "invalid cursor payload")
	}
	if c.ID == "" {
		return c, apierrors.New(apierrors.CodeValidation, "cursor missing id")
	}
	return c, nil
}

// Page is the generic {items, nextCursor} list envelope of spec.md §4.1.
type Page[T any] struct {
	Items      []T
	NextCursor *string
}

func buildPage[T any](items []T, limit int, keyOf func(T) (string, string)) Page[T] {
	if len(items) <= limit {
		return Page[T]{Items: items}
	}
	trimmed := items[:limit]
	last := trimmed[limit-1]
	k, id := keyOf(last)
	next := encodeCursor(k, id)
	return Page[T]{Items: trimmed, NextCursor: &next}
}
