package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBodyLimitMiddleware(t *testing.T) {
	var reached bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	})
	handler := NewBodyLimitMiddleware(64).Handler(next)

	t.Run("small payload passes through", func(t *testing.T) {
		reached = false
		req := httptest.NewRequest(http.MethodPost, "/webhooks/bu-1/whatsapp", strings.NewReader(`{"ok":true}`))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.True(t, reached)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("oversized payload is rejected", func(t *testing.T) {
		reached = false
		body := bytes.Repeat([]byte("x"), 128)
		req := httptest.NewRequest(http.MethodPost, "/webhooks/bu-1/whatsapp", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.False(t, reached)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})
}
