package httputil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePathInt64(t *testing.T) {
	tests := []struct {
		name        string
		vars        map[string]string
		expected    int64
		expectError bool
	}{
		{"valid", map[string]string{"id": "9223372036854775807"}, 9223372036854775807, false},
		{"missing", map[string]string{}, 0, true},
		{"not a number", map[string]string{"id": "abc"}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := mux.SetURLVars(httptest.NewRequest("GET", "/test", nil), tt.vars)
			val, err := ParsePathInt64(req, "id")
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, val)
		})
	}
}

func TestParsePathInt64OrError(t *testing.T) {
	req := mux.SetURLVars(httptest.NewRequest("GET", "/test", nil), map[string]string{"id": "x"})
	w := httptest.NewRecorder()

	_, ok := ParsePathInt64OrError(w, req, "id")

	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParsePathStringOrError(t *testing.T) {
	req := mux.SetURLVars(httptest.NewRequest("GET", "/test", nil), map[string]string{"scope": "proposal"})
	w := httptest.NewRecorder()
	val, ok := ParsePathStringOrError(w, req, "scope")
	assert.True(t, ok)
	assert.Equal(t, "proposal", val)

	w = httptest.NewRecorder()
	_, ok = ParsePathStringOrError(w, httptest.NewRequest("GET", "/test", nil), "scope")
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParseQuery(t *testing.T) {
	req := httptest.NewRequest("GET", "/test?user=42&from=draft&bad=x", nil)

	user, err := ParseQueryInt64(req, "user", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(42), user)

	missing, err := ParseQueryInt64(req, "missing", 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), missing)

	_, err = ParseQueryInt64(req, "bad", 0)
	assert.Error(t, err)

	assert.Equal(t, "draft", ParseQueryString(req, "from", ""))
	assert.Equal(t, "fallback", ParseQueryString(req, "to", "fallback"))
}

func TestRequireNonEmpty(t *testing.T) {
	w := httptest.NewRecorder()
	assert.True(t, RequireNonEmpty(w, "x", "from"))

	w = httptest.NewRecorder()
	assert.False(t, RequireNonEmpty(w, "", "from"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "from is required")
}
