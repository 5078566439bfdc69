// Package auth decides whether an inbound request may reach the orchestrator.
package auth

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"ghrunner/internal/config"
	"ghrunner/internal/logging"

	"go.uber.org/zap"
)

const (
	// KeyHeader carries the shared-secret key.
	KeyHeader = "x-functions-key"
	// KeyQueryParam is the query parameter alternative to KeyHeader.
	KeyQueryParam = "code"

	refPrefix = "refs/heads/"
)

// ErrUnauthorized is the only rejection the gate reports. Callers cannot tell
// which scheme failed or how.
var ErrUnauthorized = errors.New("unauthorized")

// Scheme names the credential scheme that admitted a request.
type Scheme string

const (
	SchemeNone      Scheme = ""
	SchemeFederated Scheme = "federated"
	SchemeSharedKey Scheme = "shared-key"
)

// Claims are the federated identity assertions the gate checks.
type Claims struct {
	Repository string `json:"repository"`
	Ref        string `json:"ref"`
	Actor      string `json:"actor"`
}

// principal also accepts the platform envelope where claims are a typ/val list.
type principal struct {
	Claims
	List []struct {
		Type  string `json:"typ"`
		Value string `json:"val"`
	} `json:"claims"`
}

// Gate decides whether a request may reach the orchestrator.
type Gate struct {
	claimsHeader      string
	allowedRepository string
	allowedActor      string
	key               []byte
}

// NewGate creates a Gate from auth configuration
func NewGate(cfg config.AuthConfig) *Gate {
	header := cfg.ClaimsHeader
	if header == "" {
		header = config.DefaultClaimsHeader
	}
	return &Gate{
		claimsHeader:      header,
		allowedRepository: cfg.AllowedRepository,
		allowedActor:      cfg.AllowedActor,
		key:               []byte(cfg.FunctionKey),
	}
}

// Authorize accepts r if either scheme admits it. The two schemes are
// evaluated independently.
func (g *Gate) Authorize(r *http.Request) (Scheme, error) {
	if raw := r.Header.Get(g.claimsHeader); raw != "" {
		err := g.checkClaims(raw)
		if err == nil {
			return SchemeFederated, nil
		}
		logging.Logger().Debug("Federated claim rejected", zap.Error(err))
	}

	if g.checkKey(presentedKey(r)) {
		return SchemeSharedKey, nil
	}
	return SchemeNone, ErrUnauthorized
}

func presentedKey(r *http.Request) string {
	if k := r.Header.Get(KeyHeader); k != "" {
		return k
	}
	return r.URL.Query().Get(KeyQueryParam)
}

func (g *Gate) checkKey(presented string) bool {
	if len(g.key) == 0 || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare(g.key, []byte(presented)) == 1
}

func (g *Gate) checkClaims(raw string) error {
	claims, err := DecodeClaims(raw)
	if err != nil {
		return err
	}
	if g.allowedRepository == "" || g.allowedActor == "" {
		return errors.New("federated identity is not configured")
	}
	if claims.Repository != g.allowedRepository {
		return fmt.Errorf("repository %q is not allowed", claims.Repository)
	}
	if !strings.HasPrefix(claims.Ref, refPrefix) {
		return fmt.Errorf("ref %q is not a branch", claims.Ref)
	}
	if claims.Actor != g.allowedActor {
		return fmt.Errorf("actor %q is not allowed", claims.Actor)
	}
	return nil
}

// DecodeClaims decodes a base64 JSON claim set. Both flat objects and the
// typ/val claim list are understood.
func DecodeClaims(raw string) (*Claims, error) {
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		data, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(raw, "="))
		if err != nil {
			return nil, fmt.Errorf("failed to decode claims: %w", err)
		}
	}

	var p principal
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse claims: %w", err)
	}

	c := p.Claims
	for _, item := range p.List {
		switch item.Type {
		case "repository":
			if c.Repository == "" {
				c.Repository = item.Value
			}
		case "ref":
			if c.Ref == "" {
				c.Ref = item.Value
			}
		case "actor":
			if c.Actor == "" {
				c.Actor = item.Value
			}
		}
	}
	return &c, nil
}

// EncodeClaims is the inverse of DecodeClaims for flat claim sets.
func EncodeClaims(c Claims) string {
	data, _ := json.Marshal(c)
	return base64.StdEncoding.EncodeToString(data)
}
