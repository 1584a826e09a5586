package handler

import (
	"net/http"
	"time"

	"prima/internal/middleware"
	"prima/internal/service"
	"prima/pkg/response"

	"github.com/gin-gonic/gin"
)

type AuthHandler struct {
	sessions   service.SessionService
	sessionTTL time.Duration
	crossSite  bool
}

// NewAuthHandler sets up wallet sign-in. crossSite selects SameSite=None + Secure cookies.
func NewAuthHandler(sessions service.SessionService, sessionTTL time.Duration, crossSite bool) *AuthHandler {
	return &AuthHandler{sessions: sessions, sessionTTL: sessionTTL, crossSite: crossSite}
}

func (h *AuthHandler) RegisterRoutes(router *gin.RouterGroup) {
	auth := router.Group("/api/auth")
	{
		auth.POST("/nonce", h.IssueNonce)
		auth.POST("/session", h.OpenSession)
		auth.POST("/logout", h.Logout)
		auth.GET("/me", middleware.RequireSession(h.sessions), h.GetMe)
	}
}

// IssueNonce returns the message a wallet has to sign to open a session
// @Summary      Request sign-in nonce
// @Description  Issues a single-use nonce and the exact message to sign with personal_sign
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.NonceRequest  true  "Wallet address"
// @Success      200      {object}  response.Response{data=service.NonceResponse}
// @Failure      400      {object}  response.Response
// @Router       /api/auth/nonce [post]
func (h *AuthHandler) IssueNonce(c *gin.Context) {
	var req service.NonceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.sessions.IssueNonce(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, res))
}

// OpenSession verifies the signed nonce and sets the session cookie
// @Summary      Open session
// @Description  Verifies the personal_sign signature over the issued message and returns a session token
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.SessionRequest  true  "Address and signature"
// @Success      200      {object}  response.Response{data=service.TokenResponse}
// @Failure      400      {object}  response.Response
// @Failure      401      {object}  response.Response
// @Router       /api/auth/session [post]
func (h *AuthHandler) OpenSession(c *gin.Context) {
	var req service.SessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.sessions.OpenSession(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}

	middleware.SetSessionCookie(c, res.Token, h.sessionTTL, h.crossSite)
	c.JSON(http.StatusOK, response.Success(http.StatusOK, res))
}

// Logout clears the session cookie
// @Summary      Logout
// @Tags         auth
// @Produce      json
// @Success      200  {object}  response.Response
// @Router       /api/auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	middleware.ClearSessionCookie(c, h.crossSite)
	c.JSON(http.StatusOK, response.Success(http.StatusOK, nil))
}

// GetMe returns the session's actor and chain
// @Summary      Current session
// @Tags         auth
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  response.Response{data=object}
// @Failure      401  {object}  response.Response
// @Router       /api/auth/me [get]
func (h *AuthHandler) GetMe(c *gin.Context) {
	sess, ok := session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{
		"address":  sess.Actor.String(),
		"chain_id": sess.ChainID,
	}))
}
