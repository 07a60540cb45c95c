package server_test

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openslides/backend/internal/datastore/memory"
	"github.com/openslides/backend/internal/server"
	"github.com/openslides/backend/pkg/actions"
	"github.com/openslides/backend/pkg/dispatch"
	"github.com/openslides/backend/pkg/permission"
)

type fakeAuth struct {
	userID uint64
	err    error
}

func (f *fakeAuth) Authenticate(ctx context.Context, headers http.Header, cookies []*http.Cookie) (uint64, *string, error) {
	if f.err != nil {
		return 0, nil, f.err
	}
	return f.userID, nil, nil
}

func newTestServer(t *testing.T, auth *fakeAuth) *httptest.Server {
	t.Helper()
	db := memory.New()
	checker := &permission.DatastoreChecker{DB: db}
	reg, err := actions.Build(checker)
	require.NoError(t, err)

	dispatcher := &dispatch.Dispatcher{Actions: reg.Actions, Models: reg.Models, DB: db, Perm: checker}
	srv := server.New(dispatcher, auth)
	return httptest.NewServer(srv.Handler())
}

func TestHandleActionsSuccess(t *testing.T) {
	ts := newTestServer(t, &fakeAuth{userID: 1})
	defer ts.Close()

	resp, err := http.Post(ts.URL, "application/json", strings.NewReader(`[{"action":"meeting.create","data":{"name":"Plenary"}}]`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandleActionsUnknownAction(t *testing.T) {
	ts := newTestServer(t, &fakeAuth{userID: 1})
	defer ts.Close()

	resp, err := http.Post(ts.URL, "application/json", strings.NewReader(`[{"action":"meeting.teleport","data":{}}]`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleActionsAuthFailure(t *testing.T) {
	ts := newTestServer(t, &fakeAuth{err: &authError{}})
	defer ts.Close()

	resp, err := http.Post(ts.URL, "application/json", strings.NewReader(`[]`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandleActionsMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t, &fakeAuth{userID: 1})
	defer ts.Close()

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := &http.Client{Jar: jar}
	req, err := http.NewRequest(http.MethodGet, ts.URL, nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

type authError struct{}

func (e *authError) Error() string   { return "invalid credentials" }
func (e *authError) StatusCode() int { return http.StatusUnauthorized }
