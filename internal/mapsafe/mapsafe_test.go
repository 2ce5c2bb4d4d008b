package mapsafe

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet(t *testing.T) {
	m := map[string]any{
		"status": float64(413),
		"count":  3,
		"size":   json.Number("1.5"),
		"detail": "File too large",
		"ok":     true,
		"null":   nil,
	}

	assert.Equal(t, 413, Get(m, "status", 0))
	assert.Equal(t, 3.0, Get(m, "count", 0.0))
	assert.Equal(t, 1.5, Get(m, "size", 0.0))
	assert.Equal(t, "File too large", Get(m, "detail", ""))
	assert.True(t, Get(m, "ok", false))

	assert.Equal(t, "fallback", Get(m, "status", "fallback"))
	assert.Equal(t, 7, Get(m, "detail", 7))
	assert.Equal(t, "none", Get(m, "null", "none"))
	assert.Equal(t, "missing", Get(m, "absent", "missing"))
	assert.Equal(t, "nil map", Get[string](nil, "detail", "nil map"))
}

func TestDecode(t *testing.T) {
	m := Decode([]byte(`{"title":"Bad Request","status":400}`))
	assert.Equal(t, "Bad Request", Get(m, "title", ""))
	assert.Equal(t, 400, Get(m, "status", 0))

	assert.Nil(t, Decode([]byte("model crashed")))
	assert.Nil(t, Decode([]byte(`["a"]`)))
}
