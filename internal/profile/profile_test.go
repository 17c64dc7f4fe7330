package profile

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(WithBaseURLs(srv.URL+"/session", srv.URL+"/api"))
}

func TestLookupByName(t *testing.T) {
	var gotPath string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"id":"069a79f444e94726a5befca90e38aaf5","name":"Notch"}`))
	})

	p, err := c.Lookup(context.Background(), " Notch ")
	require.NoError(t, err)
	assert.Equal(t, "/api/users/profiles/minecraft/Notch", gotPath)
	assert.Equal(t, &Profile{ID: "069a79f444e94726a5befca90e38aaf5", Name: "Notch"}, p)
}

func TestLookupByUUID(t *testing.T) {
	for _, query := range []string{
		"069a79f4-44e9-4726-a5be-fca90e38aaf5",
		"069A79F444E94726A5BEFCA90E38AAF5",
	} {
		t.Run(query, func(t *testing.T) {
			var gotPath string
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				gotPath = r.URL.Path
				_, _ = w.Write([]byte(`{"id":"069a79f444e94726a5befca90e38aaf5","name":"Notch","properties":[]}`))
			})

			p, err := c.Lookup(context.Background(), query)
			require.NoError(t, err)
			assert.Equal(t, "Notch", p.Name)
			assert.Contains(t, gotPath, "/session/session/minecraft/profile/")
			assert.NotContains(t, gotPath, "-")
		})
	}
}

func TestLookupNotFound(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusNoContent} {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		})
		_, err := c.Lookup(context.Background(), "nobody_here")
		assert.ErrorIs(t, err, ErrNotFound, "status %d", status)
	}
}

func TestLookupUpstreamError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.Lookup(context.Background(), "Notch")
	var upstream *UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, http.StatusTooManyRequests, upstream.StatusCode)
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestLookupBadBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	})

	_, err := c.Lookup(context.Background(), "Notch")
	require.Error(t, err)
	assert.ErrorContains(t, err, "decode profile")
}

func TestIsUUID(t *testing.T) {
	assert.True(t, isUUID("069a79f4-44e9-4726-a5be-fca90e38aaf5"))
	assert.True(t, isUUID("069a79f444e94726a5befca90e38aaf5"))
	assert.False(t, isUUID("Notch"))
	assert.False(t, isUUID("{069a79f4-44e9-4726-a5be-fca90e38aaf5}"))
	assert.False(t, isUUID("zz9a79f444e94726a5befca90e38aaf5"))
}
