package server

import (
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// normalizeOrigins lowercases and validates the configured origins, returning
// the allow set and whether "*" granted access to everyone.
func normalizeOrigins(origins []string, log *zap.Logger) (map[string]struct{}, bool) {
	if log == nil {
		log = zap.NewNop()
	}
	allowed := make(map[string]struct{}, len(origins))
	allowAll := false

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			allowAll = true
			continue
		}
		normalized, ok := normalizeOrigin(trimmed)
		if !ok {
			log.Warn("ignoring invalid origin in configuration", zap.String("origin", origin))
			continue
		}
		allowed[normalized] = struct{}{}
	}

	return allowed, allowAll
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

func (s *Server) checkOrigin(r *http.Request) bool {
	originHeader := r.Header.Get("Origin")
	if originHeader == "" {
		// Non-browser clients send no Origin header; the allow-list guards
		// against cross-site browser requests only.
		return true
	}

	normalized, ok := normalizeOrigin(originHeader)
	if !ok {
		return false
	}

	if s.allowAll {
		return true
	}
	if _, exists := s.allowed[normalized]; exists {
		return true
	}

	s.log.Warn("blocked websocket connection from disallowed origin",
		zap.String("origin", originHeader))
	return false
}
