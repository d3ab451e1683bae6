package ipc

import (
	"context"
	"net/url"
	"strings"

	"github.com/rexliu/vsockpep/pkg/core"
)

// EchoHandler answers every request with status 200 and the request's own
// headers and body. It performs no fetch.
func EchoHandler() HandlerFunc {
	return func(_ context.Context, req core.WireRequest) any {
		return core.SuccessEnvelope{
			Status:     200,
			Headers:    req.Headers,
			BodyBase64: req.BodyBase64,
		}
	}
}

// AllowlistHandler denies requests whose host is not in domains (or a
// subdomain of one) and passes the rest to next. An empty list allows
// everything.
func AllowlistHandler(domains []string, next HandlerFunc) HandlerFunc {
	allowed := make([]string, 0, len(domains))
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			allowed = append(allowed, d)
		}
	}
	return func(ctx context.Context, req core.WireRequest) any {
		if len(allowed) == 0 {
			return next(ctx, req)
		}
		parsed, err := url.Parse(req.URL)
		if err != nil || parsed.Hostname() == "" {
			return ErrorResponse("invalid_request", "invalid url")
		}
		host := strings.ToLower(parsed.Hostname())
		for _, d := range allowed {
			if host == d || strings.HasSuffix(host, "."+d) {
				return next(ctx, req)
			}
		}
		return ErrorResponse(core.CodeDeniedByPolicy, "domain not allowlisted")
	}
}

// HealthHandler answers the in-band HEALTH method with a fixed snapshot.
func HealthHandler(status HealthStatus) HandlerFunc {
	return func(context.Context, core.WireRequest) any {
		return status
	}
}
