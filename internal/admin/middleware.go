package admin

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/sungwon/busclient/internal/logger"
)

// correlationHeader carries the request correlation id in both directions.
const correlationHeader = "X-Correlation-ID"

// quietPaths are polled by scrapers and probes; successful hits are not
// logged.
var quietPaths = map[string]bool{
	"/metrics": true,
	"/healthz": true,
}

// requestLogger logs admin requests. Successful scrapes and probes are
// dropped, client errors log at warn and server errors at error.
func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(sw, r)

			var event *zerolog.Event
			switch {
			case sw.status >= http.StatusInternalServerError:
				event = log.Error()
			case sw.status >= http.StatusBadRequest:
				event = log.Warn()
			case quietPaths[r.URL.Path]:
				return
			default:
				event = log.Debug()
			}

			event.
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", sw.status).
				Dur("duration", time.Since(start)).
				Str("correlation_id", logger.CorrelationIDFromContext(r.Context())).
				Msg("admin request")
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.wroteHeader {
		sw.status = code
		sw.wroteHeader = true
	}
	sw.ResponseWriter.WriteHeader(code)
}

// correlationID reuses the caller's X-Correlation-ID or mints one, echoing it
// on the response.
func correlationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(correlationHeader)
		if id == "" {
			id = logger.NewCorrelationID()
		}
		w.Header().Set(correlationHeader, id)
		next.ServeHTTP(w, r.WithContext(logger.WithCorrelationID(r.Context(), id)))
	})
}

// recoverer turns a handler panic into a logged 500.
func recoverer(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if v := recover(); v != nil {
					log.Error().
						Interface("panic", v).
						Str("method", r.Method).
						Str("path", r.URL.Path).
						Msg("panic recovered")
					respondError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
