package review

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestIdFromMap_Present(t *testing.T) {
	id := uuid.New()
	m := map[string]any{"suggestedProjectId": id.String()}
	got := idFromMap(m, "suggestedProjectId")
	if assert.NotNil(t, got) {
		assert.Equal(t, id, *got)
	}
}

func TestIdFromMap_MissingKey(t *testing.T) {
	assert.Nil(t, idFromMap(map[string]any{}, "suggestedProjectId"))
}

func TestIdFromMap_NilMap(t *testing.T) {
	assert.Nil(t, idFromMap(nil, "suggestedProjectId"))
}

func TestIdFromMap_InvalidUUID(t *testing.T) {
	assert.Nil(t, idFromMap(map[string]any{"x": "not-a-uuid"}, "x"))
}

func TestIdFromMap_EmptyString(t *testing.T) {
	assert.Nil(t, idFromMap(map[string]any{"x": ""}, "x"))
}
