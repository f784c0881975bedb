package middleware

import (
	"net/http"

	"github.com/terraconstructs/grid/cmd/gridauth/internal/policy"
)

// PolicyVersionHeader stamps every response with the current policy version.
// The header is written when the response starts, so a bump made by the
// handler itself is already visible to the caller.
func PolicyVersionHeader(version *policy.Version) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(&versionWriter{ResponseWriter: w, version: version}, r)
		})
	}
}

type versionWriter struct {
	http.ResponseWriter
	version *policy.Version
	stamped bool
}

func (w *versionWriter) stamp() {
	if w.stamped {
		return
	}
	w.stamped = true
	w.Header().Set(policy.Header, w.version.String())
}

func (w *versionWriter) WriteHeader(code int) {
	w.stamp()
	w.ResponseWriter.WriteHeader(code)
}

func (w *versionWriter) Write(b []byte) (int, error) {
	w.stamp()
	return w.ResponseWriter.Write(b)
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (w *versionWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
