package web

import (
	"context"
	"net/http"

	"github.com/JonMunkholm/stageload/internal/core"
)

// withOrigin tags ctx with the caller's address and user agent for the
// load logs.
func withOrigin(ctx context.Context, r *http.Request) context.Context {
	return core.WithOrigin(ctx, core.Origin{
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
	})
}
