package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/odyssey-erp/buildflow/internal/platform/httpx"
	"github.com/odyssey-erp/buildflow/internal/shared"
)

// ActorHeader carries the user id authenticated by the upstream gateway.
const ActorHeader = "X-Actor-ID"

// Middleware attaches the acting identity to each request.
type Middleware struct {
	Directory Directory
	Logger    *slog.Logger
}

// Resolve returns the actor for userID from the directory.
func (m Middleware) Resolve(ctx context.Context, userID int64) (shared.Actor, error) {
	member, err := m.Directory.GetMember(ctx, userID)
	if errors.Is(err, shared.ErrNotFound) {
		return shared.Actor{}, fmt.Errorf("%w: user %d has no company membership", shared.ErrUnauthenticated, userID)
	}
	if err != nil {
		return shared.Actor{}, err
	}
	if !member.Active {
		return shared.Actor{}, fmt.Errorf("%w: membership of user %d inactive", shared.ErrForbidden, userID)
	}
	if !member.Role.Valid() {
		return shared.Actor{}, fmt.Errorf("%w: unknown role %q", shared.ErrForbidden, member.Role)
	}
	return member.Actor(), nil
}

// RequireActor rejects requests without a resolvable actor.
func (m Middleware) RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(ActorHeader))
		userID, err := strconv.ParseInt(raw, 10, 64)
		if raw == "" || err != nil || userID <= 0 {
			httpx.RespondError(w, shared.ErrUnauthenticated)
			return
		}
		actor, err := m.Resolve(r.Context(), userID)
		if err != nil {
			if !shared.Classified(err) || errors.Is(err, shared.ErrBackend) {
				if m.Logger != nil {
					m.Logger.Error("resolve actor", slog.Int64("user_id", userID), slog.Any("error", err))
				}
			}
			httpx.RespondError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithActor(r.Context(), actor)))
	})
}
