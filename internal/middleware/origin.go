package middleware

import (
	"net/http"
	"net/url"
	"strings"

	"prima/pkg/response"

	"github.com/gin-gonic/gin"
)

// OriginAllowed reports whether origin is one of allowed, compared without case or a trailing slash.
func OriginAllowed(origin string, allowed []string) bool {
	origin = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(origin)), "/")
	if origin == "" {
		return false
	}
	for _, a := range allowed {
		if strings.TrimSuffix(strings.ToLower(strings.TrimSpace(a)), "/") == origin {
			return true
		}
	}
	return false
}

// requestOrigin is the Origin header, or the scheme and host of the Referer when a browser
// omitted it.
func requestOrigin(r *http.Request) string {
	if origin := r.Header.Get("Origin"); origin != "" {
		return origin
	}
	ref, err := url.Parse(r.Referer())
	if err != nil || ref.Scheme == "" || ref.Host == "" {
		return ""
	}
	return ref.Scheme + "://" + ref.Host
}

// RequireTrustedOrigin refuses state-changing requests that ride on the session cookie unless
// they come from one of the allowed origins. Bearer-authenticated and cookie-less requests pass.
func RequireTrustedOrigin(allowed []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}
		if token, err := c.Cookie(sessionCookie); err != nil || token == "" {
			c.Next()
			return
		}
		if !OriginAllowed(requestOrigin(c.Request), allowed) {
			c.AbortWithStatusJSON(http.StatusForbidden, response.Error(http.StatusForbidden, "origin not allowed"))
			return
		}
		c.Next()
	}
}
