package auth

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"
)

// Credentials holds the client id/secret pair pre-encoded for HTTP
// Basic auth against the token endpoint.
type Credentials struct {
	basic string
}

// BasicAuth returns base64(client_id:client_secret).
func (c Credentials) BasicAuth() string { return c.basic }

// ResolveCredentials locates API credentials, in order: the
// MF_BASIC_AUTH_B64 environment variable (already encoded), then
// MF_CLIENT_ID plus MF_CLIENT_SECRET, then idFile containing either
// "id:secret" or its base64 form.
func ResolveCredentials(idFile string) (Credentials, error) {
	if b64 := strings.TrimSpace(os.Getenv("MF_BASIC_AUTH_B64")); b64 != "" {
		return Credentials{basic: b64}, nil
	}

	cid := os.Getenv("MF_CLIENT_ID")
	sec := os.Getenv("MF_CLIENT_SECRET")
	if cid != "" && sec != "" {
		return Credentials{basic: encode(cid + ":" + sec)}, nil
	}

	raw, err := os.ReadFile(idFile)
	if err != nil {
		return Credentials{}, fmt.Errorf(
			"missing credentials: set MF_BASIC_AUTH_B64, or MF_CLIENT_ID+MF_CLIENT_SECRET, or provide %s", idFile)
	}

	s := strings.TrimSpace(string(raw))
	if strings.Contains(s, ":") {
		return Credentials{basic: encode(s)}, nil
	}

	// Assume base64 already; verify it decodes.
	if _, err := base64.StdEncoding.DecodeString(s); err != nil {
		return Credentials{}, fmt.Errorf("invalid %s: expected \"id:secret\" or base64(id:secret)", idFile)
	}
	return Credentials{basic: s}, nil
}

func encode(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}
