package shared

import (
	"context"

	"github.com/loopos/loopos/internal/access"
)

type actorContextKey struct{}

// ContextWithActor stores the requesting subject in context.
func ContextWithActor(ctx context.Context, actor access.Subject) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the requesting subject from context.
func ActorFromContext(ctx context.Context) (access.Subject, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(access.Subject)
	return actor, ok
}
