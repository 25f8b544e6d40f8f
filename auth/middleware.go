package auth

import (
	"context"
	"net/http"
	"strings"

	"chat-sync/domain/chat"
)

type contextKey string

const actorKey contextKey = "actor"

// ActorResolver is satisfied by the moderation gate.
type ActorResolver interface {
	ResolveActor(ctx context.Context, token string) (chat.Actor, error)
}

// OnError writes the response of a rejected request.
type OnError func(w http.ResponseWriter, r *http.Request, err error)

// Middleware resolves the bearer token once per request and injects the actor
// in the request context. Websocket clients cannot set headers, so the
// access_token query parameter is accepted as well.
func Middleware(resolver ActorResolver, onError OnError) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, err := resolver.ResolveActor(r.Context(), BearerToken(r))
			if err != nil {
				onError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}

func BearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return r.URL.Query().Get("access_token")
}

func WithActor(ctx context.Context, actor chat.Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

func ActorFromContext(ctx context.Context) (chat.Actor, bool) {
	actor, ok := ctx.Value(actorKey).(chat.Actor)
	return actor, ok
}
