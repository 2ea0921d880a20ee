package middleware

import (
	"context"

	"github.com/gosuda/glassbox/internal/domain"
)

type contextKey string

const ContextKeyClient contextKey = "client"

// ClientFromContext returns the admitted anonymous client set by Trust.
func ClientFromContext(ctx context.Context) (*domain.AnonymousClient, bool) {
	v, ok := ctx.Value(ContextKeyClient).(*domain.AnonymousClient)
	return v, ok
}

func withClient(ctx context.Context, c *domain.AnonymousClient) context.Context {
	return context.WithValue(ctx, ContextKeyClient, c)
}
