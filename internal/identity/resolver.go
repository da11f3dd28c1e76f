// Package identity resolves the display name to use for a session via a
// single request to an optional lookup service.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/thesjq/chatroom/internal/wire"
)

// Resolver fetches a display name once during session setup. Any failure
// degrades to the fallback name instead of blocking the connection.
type Resolver struct {
	url      string
	fallback string
	client   *http.Client
	log      *zap.Logger
}

// NewResolver builds a resolver for the given lookup URL. An empty URL makes
// Resolve return the fallback immediately.
func NewResolver(url, fallback string, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{
		url:      url,
		fallback: fallback,
		client:   &http.Client{Timeout: 5 * time.Second},
		log:      log,
	}
}

// Resolve returns the display name from the lookup service, or the fallback
// when the service is unset, unreachable, or answers nonsense.
func (r *Resolver) Resolve(ctx context.Context) string {
	if r.url == "" {
		return r.fallback
	}

	name, err := r.fetch(ctx)
	if err != nil {
		r.log.Warn("display name lookup failed, using fallback",
			zap.String("url", r.url),
			zap.String("fallback", r.fallback),
			zap.Error(err))
		return r.fallback
	}
	return name
}

func (r *Resolver) fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return "", err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var payload struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", err
	}

	name := strings.TrimSpace(payload.Name)
	if name == "" {
		return "", fmt.Errorf("empty name in response")
	}
	if utf8.RuneCountInString(name) > wire.MaxNameRunes {
		return "", fmt.Errorf("name exceeds %d characters", wire.MaxNameRunes)
	}
	return name, nil
}
