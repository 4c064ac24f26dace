package users

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/loopos/loopos/internal/platform/httpx"
	"github.com/loopos/loopos/internal/shared"
)

// ActorHeader carries the id of the requesting user.
const ActorHeader = "X-User-ID"

// ActorLookup resolves a user by id without permission checks.
type ActorLookup interface {
	GetUser(ctx context.Context, id string) (User, error)
}

// ActorMiddleware resolves ActorHeader into an access.Subject stored in the
// request context. Requests without a resolvable actor are rejected.
func ActorMiddleware(lookup ActorLookup, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimSpace(r.Header.Get(ActorHeader))
			if id == "" {
				httpx.RespondError(w, shared.ErrActorMissing)
				return
			}
			user, err := lookup.GetUser(r.Context(), id)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					httpx.RespondError(w, shared.ErrActorUnknown)
					return
				}
				logger.Error("resolve actor", slog.String("actor_id", id), slog.Any("error", err))
				httpx.RespondError(w, err)
				return
			}
			subject := user.Subject()
			if err := subject.Validate(); err != nil {
				httpx.RespondError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithActor(r.Context(), subject)))
		})
	}
}
