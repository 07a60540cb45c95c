package authadapter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAuthenticateSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"user_id":42,"session_id":"s1"}`))
	}))
	defer srv.Close()

	svc := NewHTTPService(srv.URL)
	userID, token, err := svc.Authenticate(context.Background(), http.Header{"Authorization": []string{"Bearer x"}}, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(42), userID)
	require.Nil(t, token)
}

func TestAuthenticateAnonymousRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"user_id":0}`))
	}))
	defer srv.Close()

	svc := NewHTTPService(srv.URL)
	_, _, err := svc.Authenticate(context.Background(), http.Header{}, nil)
	require.Error(t, err)
}

func TestAuthenticateUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	svc := NewHTTPService(srv.URL)
	_, _, err := svc.Authenticate(context.Background(), http.Header{}, nil)
	require.Error(t, err)
}
