package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptiq-labs/rewardsd/internal/domain"
)

func TestHTTPIdentityResolve(t *testing.T) {
	t.Run("valid token resolves to user id", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/auth/v1/user", r.URL.Path)
			assert.Equal(t, "Bearer good-token", r.Header.Get("Authorization"))
			assert.Equal(t, "service-key", r.Header.Get("apikey"))
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"id":"3f6c1a9e-user"}`))
		}))
		defer srv.Close()

		identity := NewHTTPIdentity(srv.URL, "service-key")
		uid, err := identity.Resolve(context.Background(), "good-token")
		require.NoError(t, err)
		assert.Equal(t, "3f6c1a9e-user", uid)
	})

	t.Run("rejected token", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()

		identity := NewHTTPIdentity(srv.URL, "service-key")
		_, err := identity.Resolve(context.Background(), "bad-token")
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("empty token short-circuits", func(t *testing.T) {
		identity := NewHTTPIdentity("http://never-called.invalid", "")
		_, err := identity.Resolve(context.Background(), "")
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("auth service failure is transient", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		identity := NewHTTPIdentity(srv.URL, "service-key")
		_, err := identity.Resolve(context.Background(), "good-token")
		assert.ErrorIs(t, err, domain.ErrTransient)
	})

	t.Run("unreachable service is transient", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		srv.Close()

		identity := NewHTTPIdentity(srv.URL, "service-key")
		_, err := identity.Resolve(context.Background(), "good-token")
		assert.ErrorIs(t, err, domain.ErrTransient)
	})

	t.Run("response without id is unauthorized", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{}`))
		}))
		defer srv.Close()

		identity := NewHTTPIdentity(srv.URL, "service-key")
		_, err := identity.Resolve(context.Background(), "good-token")
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})
}
