package internal

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadBodyStrict(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"id":"evt_1"}`))
	body, err := ReadBodyStrict(w, req, 1024)
	require.NoError(t, err)
	assert.Equal(t, `{"id":"evt_1"}`, string(body))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	_, err = ReadBodyStrict(w, req, 1024)
	assert.ErrorIs(t, err, ErrEmptyBody)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("a", 64)))
	_, err = ReadBodyStrict(w, req, 16)
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		PriceID string `json:"priceId"`
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"priceId":"price_basic"}`))
	var p payload
	require.NoError(t, DecodeJSON(w, req, 1024, &p))
	assert.Equal(t, "price_basic", p.PriceID)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"priceId":"x","extra":1}`))
	assert.Error(t, DecodeJSON(w, req, 1024, &p), "unknown fields are rejected")

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{} {}`))
	assert.Error(t, DecodeJSON(w, req, 1024, &p), "trailing data is rejected")

	req = httptest.NewRequest(http.MethodPost, "/", http.NoBody)
	var empty payload
	require.NoError(t, DecodeJSON(w, req, 1024, &empty))
	assert.Empty(t, empty.PriceID)
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	require.NoError(t, WriteJSON(w, http.StatusCreated, map[string]string{"ok": "yes"}))
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"ok":"yes"}`, w.Body.String())
}
