package web

import (
	"context"
	"net/http"

	"github.com/JonMunkholm/CsvEditor/internal/core"
	"github.com/JonMunkholm/CsvEditor/internal/logging"
)

// WithRequestMetadata adds IP and User-Agent to context for audit logging.
func WithRequestMetadata(ctx context.Context, r *http.Request) context.Context {
	// RemoteAddr was already rewritten by TrustedRealIP
	return core.ContextWithRequestMeta(ctx, r.RemoteAddr, r.UserAgent())
}

// sessionContext is WithRequestMetadata plus the session ID for log lines.
func sessionContext(r *http.Request, sessionID string) context.Context {
	return logging.WithSession(WithRequestMetadata(r.Context(), r), sessionID)
}
