package http

import (
	"net/http"
	"sync/atomic"
)

func HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func HandleReadyCheck(readinessCheck func() bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !readinessCheck() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func HandleVersion(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(version))
	}
}

// HandleWithLimit caps how many requests the given handler serves at once.
// Requests over the cap are refused with a 503. On a websocket endpoint the
// cap bounds the number of connected clients, since the request lasts as
// long as the connection.
func HandleWithLimit(maxActive int64, h http.Handler) http.Handler {
	if maxActive <= 0 {
		return h
	}

	var active int64

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&active, 1) > maxActive {
			atomic.AddInt64(&active, -1)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		defer atomic.AddInt64(&active, -1)

		h.ServeHTTP(w, r)
	})
}

// HandleWithCORS opens the given handler to browser clients from any
// origin, answering preflight requests itself.
func HandleWithCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		h.ServeHTTP(w, r)
	})
}
