package users

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (*memoryRepo, http.Handler) {
	t.Helper()
	repo, _, svc := fixture()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := chi.NewRouter()
	r.Use(ActorMiddleware(repo, logger))
	r.Route("/api/users", NewHandler(logger, svc).MountRoutes)
	return repo, r
}

func do(h http.Handler, method, path, actor, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if actor != "" {
		req.Header.Set(ActorHeader, actor)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestActorMiddleware(t *testing.T) {
	_, h := newTestRouter(t)

	require.Equal(t, http.StatusUnauthorized, do(h, http.MethodGet, "/api/users", "", "").Code)
	require.Equal(t, http.StatusUnauthorized, do(h, http.MethodGet, "/api/users", "ghost", "").Code)
	require.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/users", "admin", "").Code)
}

func TestActorMiddlewareRejectsMalformedActor(t *testing.T) {
	repo, h := newTestRouter(t)
	repo.users["broken"] = User{ID: "broken", Name: "B", Username: "b"}

	rec := do(h, http.MethodGet, "/api/users", "broken", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerListAndGet(t *testing.T) {
	_, h := newTestRouter(t)

	rec := do(h, http.MethodGet, "/api/users", "sup", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 3)
	require.NotContains(t, list[0], "passwordHash")

	rec = do(h, http.MethodGet, "/api/users/tech2", "tech1", "")
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Contains(t, rec.Body.String(), `"title":"Forbidden"`)

	rec = do(h, http.MethodGet, "/api/users/ghost", "admin", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(h, http.MethodGet, "/api/users/tech1", "sup", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "TECHNICIAN", got["role"])
	require.Equal(t, []any{"p1"}, got["plantIds"])
}

func TestHandlerCreateUser(t *testing.T) {
	repo, h := newTestRouter(t)

	rec := do(h, http.MethodPost, "/api/users", "admin", `{"name":"Nina","username":"nina","role":"técnico","plantIds":["p2"],"password":"longenough"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "TECHNICIAN", got["role"])
	require.Len(t, repo.users, 7)

	rec = do(h, http.MethodPost, "/api/users", "admin", `{"name":"Bad","username":"Bad Name","role":"ADMIN"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(h, http.MethodPost, "/api/users", "admin", `{"name":"Bad","username":"bad","role":"JANITOR"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(h, http.MethodPost, "/api/users", "admin", `{"name":"Dup","username":"ana","role":"ADMIN"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandlerUpdateAndDelete(t *testing.T) {
	repo, h := newTestRouter(t)

	rec := do(h, http.MethodPut, "/api/users/tech1", "sup", `{"name":"Tiago","username":"tiago","role":"COORDINATOR"}`)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(h, http.MethodPut, "/api/users/tech1", "sup", `{"name":"Tiago Silva","username":"tiago","role":"TECHNICIAN"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "Tiago Silva", repo.users["tech1"].Name)

	rec = do(h, http.MethodDelete, "/api/users/tech1", "sup", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.NotContains(t, repo.users, "tech1")
}
