package middleware

import (
	"net/http"

	"github.com/huntred/chatflow/internal/httputil"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}
