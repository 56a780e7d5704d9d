// Package identity implements the edge-token verification gate (spec §4.6):
// it runs ahead of every HTTP and WebSocket handler, resolves the calling
// user from a JWKS-verified token (or, in development, a header/query
// override), and enforces the admin-maintained allowlist.
package identity

import (
	"context"
	"strings"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/logpose/terminal-gateway/internal/apperror"
	"github.com/logpose/terminal-gateway/internal/config"
	"github.com/logpose/terminal-gateway/internal/logger"
)

const userLocalsKey = "identity.user"

// Allowlist is the live, possibly admin-updated source of truth for
// allowlist membership — satisfied by settings.Store.
type Allowlist interface {
	IsAllowlisted(email string) bool
}

// Gate verifies the edge-issued token on every request and attaches the
// resolved, allowlisted email to the fiber context.
type Gate struct {
	cfg       *config.Config
	allowlist Allowlist
	keyfunc   keyfunc.Keyfunc
	devMode   bool
	tokenHdr  string
}

// New builds a Gate. In production, or whenever a team domain is
// configured, it builds a JWKS-backed keyfunc for the team domain's certs
// endpoint and returns a ConfigError if that keyfunc cannot be created; the
// keyfunc refreshes the key set on its own cadence. The audience is not
// checked here, only per token in resolveEmail.
func New(cfg *config.Config, allowlist Allowlist, devMode bool) (*Gate, error) {
	g := &Gate{cfg: cfg, allowlist: allowlist, devMode: devMode, tokenHdr: "Cf-Access-Jwt-Assertion"}

	if cfg.IsProduction() || cfg.CFAccessTeamDomain != "" {
		jwksURL := "https://" + cfg.CFAccessTeamDomain + "/cdn-cgi/access/certs"
		kf, err := keyfunc.NewDefaultCtx(context.Background(), []string{jwksURL})
		if err != nil {
			return nil, apperror.Wrap(apperror.KindConfigError, "failed to fetch JWKS", err)
		}
		g.keyfunc = kf
	}
	return g, nil
}

// RequireUser is fiber middleware implementing the gate's verification
// steps: extract token, verify signature+audience against the cached JWKS,
// extract and lowercase the email claim, and check allowlist membership.
func (g *Gate) RequireUser(c *fiber.Ctx) error {
	email, err := g.resolveEmail(c)
	if err != nil {
		ae, ok := apperror.As(err)
		if !ok {
			return fiber.NewError(fiber.StatusUnauthorized, "identity verification failed")
		}
		return fiber.NewError(apperror.HTTPStatus(ae.Kind), ae.Message)
	}

	if !g.allowlist.IsAllowlisted(email) {
		return fiber.NewError(fiber.StatusForbidden, "email not allowlisted")
	}

	c.Locals(userLocalsKey, email)
	return c.Next()
}

// UserFromContext returns the email the gate attached to the request, or
// "" if none was attached (the caller did not run through RequireUser).
func UserFromContext(c *fiber.Ctx) string {
	if email, ok := c.Locals(userLocalsKey).(string); ok {
		return email
	}
	return ""
}

func (g *Gate) resolveEmail(c *fiber.Ctx) (string, error) {
	if g.devMode {
		if email := c.Get("X-Dev-User-Email"); email != "" {
			return strings.ToLower(strings.TrimSpace(email)), nil
		}
		if email := c.Query("devUser"); email != "" {
			return strings.ToLower(strings.TrimSpace(email)), nil
		}
	}

	raw := c.Get(g.tokenHdr)
	if raw == "" {
		raw = c.Cookies("CF_Authorization")
	}
	if raw == "" {
		return "", apperror.New(apperror.KindUnauthorized, "missing identity token")
	}

	if g.keyfunc == nil {
		return "", apperror.New(apperror.KindConfigError, "identity gate not configured")
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, g.keyfunc.Keyfunc,
		jwt.WithAudience(g.cfg.CFAccessAudience),
		jwt.WithValidMethods([]string{"RS256"}),
	)
	if err != nil || !token.Valid {
		logger.Warnf("identity: token verification failed: %v", err)
		return "", apperror.New(apperror.KindUnauthorized, "invalid identity token")
	}

	emailClaim, ok := claims["email"].(string)
	if !ok || emailClaim == "" {
		return "", apperror.New(apperror.KindUnauthorized, "token missing email claim")
	}
	return strings.ToLower(strings.TrimSpace(emailClaim)), nil
}
