package shared

import "context"

type contextKey string

const actorKey contextKey = "actor_id"

// WithActor stores the authenticated actor id supplied by the external
// collaborator on the context.
func WithActor(ctx context.Context, actorID int64) context.Context {
	return context.WithValue(ctx, actorKey, actorID)
}

// ActorFrom returns the actor id or zero when no identity was attached.
func ActorFrom(ctx context.Context) int64 {
	if v, ok := ctx.Value(actorKey).(int64); ok {
		return v
	}
	return 0
}
