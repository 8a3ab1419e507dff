package locateapi

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Doer sends one HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// DoerFunc adapts a function to Doer.
type DoerFunc func(req *http.Request) (*http.Response, error)

// Do calls f.
func (f DoerFunc) Do(req *http.Request) (*http.Response, error) { return f(req) }

// Middleware decorates a Doer. Every outbound request passes through an explicit chain;
// nothing patches http.DefaultClient or any other global.
type Middleware func(next Doer) Doer

// Chain wraps base with mws. The first middleware is the outermost.
func Chain(base Doer, mws ...Middleware) Doer {
	d := base
	for i := len(mws) - 1; i >= 0; i-- {
		d = mws[i](d)
	}
	return d
}

// TokenSource is the session as seen by the pipeline.
type TokenSource interface {
	Token() string
	// Expire clears the session after an authorization failure.
	Expire(ctx context.Context, reason string) bool
}

// BearerAuth attaches Authorization: Bearer <token>. Without a token it fails fast
// with ErrNoToken. A 401 or 403 response expires the session and returns
// ErrSessionExpired. No retries are attempted.
func BearerAuth(session TokenSource) Middleware {
	return func(next Doer) Doer {
		return DoerFunc(func(req *http.Request) (*http.Response, error) {
			token := session.Token()
			if token == "" {
				session.Expire(req.Context(), "no token")
				return nil, ErrNoToken
			}
			req = req.Clone(req.Context())
			req.Header.Set("Authorization", "Bearer "+token)
			resp, err := next.Do(req)
			if err != nil {
				return nil, err
			}
			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				resp.Body.Close()
				session.Expire(req.Context(), fmt.Sprintf("status %d", resp.StatusCode))
				return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, ErrSessionExpired)
			}
			return resp, nil
		})
	}
}

// RequestID sets X-Request-ID to a fresh UUID unless the request already carries one.
func RequestID() Middleware {
	return func(next Doer) Doer {
		return DoerFunc(func(req *http.Request) (*http.Response, error) {
			if req.Header.Get("X-Request-ID") == "" {
				req = req.Clone(req.Context())
				req.Header.Set("X-Request-ID", uuid.NewString())
			}
			return next.Do(req)
		})
	}
}

// UserAgent sets the User-Agent header.
func UserAgent(ua string) Middleware {
	return func(next Doer) Doer {
		return DoerFunc(func(req *http.Request) (*http.Response, error) {
			req = req.Clone(req.Context())
			req.Header.Set("User-Agent", ua)
			return next.Do(req)
		})
	}
}

// Tracing opens a client span per request and propagates the trace context.
// A nil tracer uses the global TracerProvider.
func Tracing(tracer trace.Tracer) Middleware {
	if tracer == nil {
		tracer = otel.Tracer("locateme.locateapi")
	}
	return func(next Doer) Doer {
		return DoerFunc(func(req *http.Request) (*http.Response, error) {
			ctx, span := tracer.Start(req.Context(), req.Method+" "+req.URL.Path,
				trace.WithSpanKind(trace.SpanKindClient),
				trace.WithAttributes(
					attribute.String("http.request.method", req.Method),
					attribute.String("url.full", req.URL.String()),
				))
			defer span.End()
			req = req.Clone(ctx)
			otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
			resp, err := next.Do(req)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, err
			}
			span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
			if resp.StatusCode >= 400 {
				span.SetStatus(codes.Error, resp.Status)
			}
			return resp, nil
		})
	}
}
