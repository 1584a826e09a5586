package middleware

import (
	"net/http"
	"strings"
	"time"

	"prima/internal/model"
	"prima/internal/service"
	"prima/pkg/response"

	"github.com/gin-gonic/gin"
)

const (
	sessionCookie = "access_token"
	sessionKey    = "session"
	actorKey      = "actor"
)

// SetSessionCookie stores the session token as an HttpOnly cookie.
func SetSessionCookie(c *gin.Context, token string, ttl time.Duration, crossSite bool) {
	// Production (cross-origin): SameSiteNoneMode + Secure=true
	// Development (same-site):   SameSiteLaxMode  + Secure=false
	sameSite := http.SameSiteLaxMode
	if crossSite {
		sameSite = http.SameSiteNoneMode
	}
	c.SetSameSite(sameSite)
	c.SetCookie(sessionCookie, token, int(ttl.Seconds()), "/", "", crossSite, true)
}

// ClearSessionCookie removes the session cookie
func ClearSessionCookie(c *gin.Context, crossSite bool) {
	sameSite := http.SameSiteLaxMode
	if crossSite {
		sameSite = http.SameSiteNoneMode
	}
	c.SetSameSite(sameSite)
	c.SetCookie(sessionCookie, "", -1, "/", "", crossSite, true)
}

// TokenFromRequest reads the session token from the cookie, falling back to the
// Authorization header.
func TokenFromRequest(c *gin.Context) (string, string) {
	tokenString, cookieErr := c.Cookie(sessionCookie)
	if cookieErr == nil && tokenString != "" {
		return tokenString, ""
	}
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", "Authorization is missing"
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", "Invalid authorization format. Expected 'Bearer <token>'"
	}
	return parts[1], ""
}

// RequireSession validates the session token and puts the acting address into the context.
func RequireSession(sessions service.SessionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, problem := TokenFromRequest(c)
		if problem != "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, problem))
			return
		}

		sess, err := sessions.ParseToken(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, err.Error()))
			return
		}

		c.Set(sessionKey, sess)
		c.Set(actorKey, sess.Actor.String())
		c.Next()
	}
}

// SessionFrom returns the session set by RequireSession.
func SessionFrom(c *gin.Context) (model.Session, bool) {
	v, ok := c.Get(sessionKey)
	if !ok {
		return model.Session{}, false
	}
	sess, ok := v.(model.Session)
	return sess, ok
}
