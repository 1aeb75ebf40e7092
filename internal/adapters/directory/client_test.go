package directory

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avrek/voxcall/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "test-token")
}

func TestUserByID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/u2", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"u2","username":"Bob"}`))
	})

	profile, err := c.UserByID(context.Background(), "u2")
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("u2"), profile.ID)
	assert.Equal(t, "Bob", profile.Username)
}

func TestUserByIDDefaultsToRequestedID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"username":"Bob"}`))
	})

	profile, err := c.UserByID(context.Background(), "u2")
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("u2"), profile.ID)
}

func TestUserByIDRejectsEmptyUsername(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"u2","username":""}`))
	})

	_, err := c.UserByID(context.Background(), "u2")
	require.ErrorIs(t, err, domain.ErrUsernameEmpty)
}

func TestUserByIDRejectsOversizedUsername(t *testing.T) {
	long := strings.Repeat("x", domain.MaxUsernameLen+1)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"u2","username":"` + long + `"}`))
	})

	_, err := c.UserByID(context.Background(), "u2")
	require.ErrorIs(t, err, domain.ErrUsernameTooLong)
}

func TestUserByIDRejectsOversizedID(t *testing.T) {
	long := strings.Repeat("a", domain.MaxUserIDLen+1)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"` + long + `","username":"Bob"}`))
	})

	_, err := c.UserByID(context.Background(), "u2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "id exceeds")
}

func TestUserByIDStatusError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.UserByID(context.Background(), "u2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}
