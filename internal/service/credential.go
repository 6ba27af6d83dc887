package service

import (
	"errors"
	"net/http"
	"strings"

	"github.com/HandyWote/gemini-proxy/internal/config"
)

// ErrMissingAPIKey is returned in server-held mode when no API key is configured.
var ErrMissingAPIKey = errors.New("API key is not configured: set upstream.api_key or the API_KEY environment variable")

// ErrUnauthorized is returned in pass-through mode when the caller sent no usable bearer token.
var ErrUnauthorized = errors.New(`missing or malformed Authorization header: expected "Bearer <token>"`)

const bearerPrefix = "Bearer "

// credentialPrefixLen is how much of a credential may appear in logs.
const credentialPrefixLen = 10

// resolveCredential returns the secret to present upstream according to the
// configured strategy.
func (s *ProxyService) resolveCredential(header http.Header) (string, error) {
	if s.cfg.Proxy.Credential == config.CredentialServerHeld {
		if s.cfg.Upstream.APIKey == "" {
			return "", ErrMissingAPIKey
		}
		return s.cfg.Upstream.APIKey, nil
	}
	return bearerToken(header.Get("Authorization"))
}

// bearerToken extracts the token from an Authorization header value. The
// scheme match is case-sensitive.
func bearerToken(value string) (string, error) {
	if !strings.HasPrefix(value, bearerPrefix) {
		return "", ErrUnauthorized
	}
	token := value[len(bearerPrefix):]
	if strings.TrimSpace(token) == "" {
		return "", ErrUnauthorized
	}
	return token, nil
}

// MaskCredential reduces a secret to a short prefix suitable for logs.
// Short secrets reveal at most half their length.
func MaskCredential(secret string) string {
	if secret == "" {
		return ""
	}
	n := min(credentialPrefixLen, len(secret)/2)
	return secret[:n] + "..."
}

// redactHeaders returns a copy of h safe to log.
func redactHeaders(h http.Header) http.Header {
	out := h.Clone()
	if token, err := bearerToken(out.Get("Authorization")); err == nil {
		out.Set("Authorization", bearerPrefix+MaskCredential(token))
	} else if out.Get("Authorization") != "" {
		out.Set("Authorization", "[REDACTED]")
	}
	for _, key := range []string{"X-Goog-Api-Key", "Api-Key", "X-Api-Key"} {
		if v := out.Get(key); v != "" {
			out.Set(key, MaskCredential(v))
		}
	}
	return out
}
