// internal/pkg/jwt/loader.go
package jwt

import (
	"fmt"
)

// Config points at the identity service's public key. Tokens are issued
// elsewhere; this service only verifies them.
type Config struct {
	PubPath  string `env:"JWT_PUBLIC_KEY_PATH" envDefault:"/app/secrets/jwt_public.pem"`
	Issuer   string `env:"JWT_ISSUER" envDefault:"motorlist-identity"`
	Audience string `env:"JWT_AUDIENCE" envDefault:"motorlist-api"`
}

type Manager struct {
	Verifier *Verifier
}

// LoadAndBuild loads the public key and builds the verifier.
func LoadAndBuild(cfg Config) (*Manager, error) {
	pub, err := LoadRSAPublicKeyFromPEM(cfg.PubPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load public key from %s: %w", cfg.PubPath, err)
	}

	return &Manager{Verifier: NewVerifier(pub, cfg.Issuer, cfg.Audience)}, nil
}
