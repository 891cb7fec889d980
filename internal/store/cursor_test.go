package store

import (
	"testing"

	"github.com/steveyegge/pm/internal/apierrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClampLimit_Zero(t *testing.T) {
	_, err := ClampLimit(0)
	require.Error(t, err)
	assert.Equal(t, apierrors.CodeValidation, apierrors.CodeOf(err))
}

func TestClampLimit_Negative(t *testing.T) {
	_, err := ClampLimit(-5)
	require.Error(t, err)
	assert.Equal(t, apierrors.CodeValidation, apierrors.CodeOf(err))
}

func TestClampLimit_WithinRange(t *testing.T) {
	got, err := ClampLimit(10)
	require.NoError(t, err)
	assert.Equal(t, 10, got)
}

func TestClampLimit_ClampedAtMax(t *testing.T) {
	got, err := ClampLimit(1000)
	require.NoError(t, err)
	assert.Equal(t, MaxLimit, got)
}

func TestCursor_RoundTrip(t *testing.T) {
	encoded := encodeCursor("2026-01-01T00:00:00Z", "abc-123")
	c, err := decodeCursor(encoded)
	require.NoError(t, err)
	assert.Equal(t, "2026-01-01T00:00:00Z", c.Key)
	assert.Equal(t, "abc-123", c.ID)
}

func TestDecodeCursor_InvalidEncoding(t *testing.T) {
	_, err := decodeCursor("not valid base64!!")
	require.Error(t, err)
	assert.Equal(t, apierrors.CodeValidation, apierrors.CodeOf(err))
}

func TestDecodeCursor_MissingID(t *testing.T) {
	encoded := encodeCursor("2026-01-01T00:00:00Z", "")
	_, err := decodeCursor(encoded)
	require.Error(t, err)
	assert.Equal(t, apierrors.CodeValidation, apierrors.CodeOf(err))
}

func TestBuildPage_UnderLimitHasNoCursor(t *testing.T) {
	items := []string{"a", "b"}
	page := buildPage(items, 5, func(s string) (string, string) { return s, s })
	assert.Nil(t, page.NextCursor)
	assert.Len(t, page.Items, 2)
}

func TestBuildPage_OverLimitTrimsAndSetsCursor(t *testing.T) {
	items := []string{"a", "b", "c"}
	page := buildPage(items, 2, func(s string) (string, string) { return s, s })
	require.NotNil(t, page.NextCursor)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, []string{"a", "b"}, page.Items)
}
