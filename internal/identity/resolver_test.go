package identity_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/thesjq/chatroom/internal/identity"
	"github.com/thesjq/chatroom/internal/wire"
)

func TestResolveFromService(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"name":"  Zed  "}`))
	}))
	defer ts.Close()

	r := identity.NewResolver(ts.URL, "Guest", nil)
	assert.Equal(t, "Zed", r.Resolve(context.Background()))
}

func TestResolveFallsBack(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"not json", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("who am i"))
		}},
		{"empty name", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"name":"   "}`))
		}},
		{"oversized name", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"name":"` + strings.Repeat("n", wire.MaxNameRunes+1) + `"}`))
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := httptest.NewServer(tc.handler)
			defer ts.Close()

			r := identity.NewResolver(ts.URL, "Guest", nil)
			assert.Equal(t, "Guest", r.Resolve(context.Background()))
		})
	}
}

func TestResolveUnreachableService(t *testing.T) {
	r := identity.NewResolver("http://127.0.0.1:1/name", "Guest", nil)
	assert.Equal(t, "Guest", r.Resolve(context.Background()))
}

func TestResolveWithoutURL(t *testing.T) {
	r := identity.NewResolver("", "Guest", nil)
	assert.Equal(t, "Guest", r.Resolve(context.Background()))
}
