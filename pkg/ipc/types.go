package ipc

import (
	"context"

	"github.com/rexliu/vsockpep/pkg/core"
)

// HandlerFunc answers one fetch request. The returned value is marshalled
// as the response frame; it is normally a core.SuccessEnvelope,
// core.ErrorEnvelope or HealthStatus.
type HandlerFunc func(context.Context, core.WireRequest) any

// HealthStatus is the reply to the in-band HEALTH method.
type HealthStatus struct {
	Status              string `json:"status"`
	Version             string `json:"version"`
	AllowedDomainsCount int    `json:"allowed_domains_count"`
	MaxRequestBytes     int    `json:"max_request_bytes"`
	MaxResponseBytes    int    `json:"max_response_bytes"`
}

// ErrorResponse builds an error-shaped reply.
func ErrorResponse(code, message string) core.ErrorEnvelope {
	return core.ErrorEnvelope{Error: core.ErrorBody{Code: code, Message: message}}
}
