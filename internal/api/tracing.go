package api

import (
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dunamismax/artprep/internal/id"
)

const requestIDHeader = "X-Request-ID"

func (s *Server) withTracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = id.New()
		}
		w.Header().Set(requestIDHeader, requestID)

		if s.tracer == nil {
			next.ServeHTTP(w, r)
			return
		}

		spanName := r.Method + " " + routeLabel(r.URL.Path)
		ctx, span := s.tracer.Start(r.Context(), spanName, trace.WithSpanKind(trace.SpanKindServer))
		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", routeLabel(r.URL.Path)),
			attribute.String("http.target", r.URL.Path),
			attribute.String("http.request_id", requestID),
		)
		defer span.End()

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
