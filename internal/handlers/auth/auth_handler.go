// internal/handlers/auth/auth_handler.go
package auth

import (
	"net/http"
	"strings"

	"audiotricks-service/internal/domain/auth"
	"audiotricks-service/internal/middleware"
	xerrors "audiotricks-service/internal/pkg/errors"
	"audiotricks-service/internal/pkg/response"
	authUsecase "audiotricks-service/internal/service/auth"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Login attempts are counted per 15 minute window.
const loginRetryAfter = "900"

type AuthHandler struct {
	service *authUsecase.AuthService
	logger  *zap.Logger
}

func NewAuthHandler(service *authUsecase.AuthService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		service: service,
		logger:  logger,
	}
}

// clientMeta fills the request fields that come from the connection rather
// than the body. An explicit device in the body wins over X-Device.
func clientMeta(c *gin.Context, device *string, ip, userAgent *string) {
	*ip = c.ClientIP()
	*userAgent = c.GetHeader("User-Agent")
	if strings.TrimSpace(*device) == "" {
		*device = c.GetHeader("X-Device")
	}
}

// Register creates an account with its personal workspace and logs it in.
func (h *AuthHandler) Register(c *gin.Context) {
	var req auth.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err)
		return
	}
	clientMeta(c, &req.Device, &req.IPAddress, &req.UserAgent)

	out, err := h.service.Register(c.Request.Context(), &req)
	if err != nil {
		if !xerrors.Is(err, xerrors.ErrConflict) {
			h.logger.Warn("registration failed", zap.String("email", req.Email), zap.Error(err))
		}
		response.FromError(c, "registration failed", err)
		return
	}

	response.Success(c, http.StatusCreated, "registration successful", out)
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req auth.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err)
		return
	}
	clientMeta(c, &req.Device, &req.IPAddress, &req.UserAgent)

	out, err := h.service.Login(c.Request.Context(), &req)
	switch {
	case err == nil:
	case xerrors.Is(err, xerrors.ErrRateLimited):
		c.Header("Retry-After", loginRetryAfter)
		response.FromError(c, "too many login attempts", err)
		return
	default:
		h.logger.Warn("login failed", zap.String("email", req.Email), zap.String("ip", req.IPAddress), zap.Error(err))
		response.FromError(c, "login failed", err)
		return
	}

	h.logger.Info("user logged in", zap.Int64("user_id", out.User.ID), zap.String("device", req.Device))
	response.Success(c, http.StatusOK, "login successful", out)
}

// Logout ends the session behind the presented token.
func (h *AuthHandler) Logout(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	err := h.service.Logout(c.Request.Context(), userID, middleware.MustGetJTI(c), middleware.GetTokenExpiry(c))
	if err != nil {
		h.logger.Error("logout failed", zap.Int64("user_id", userID), zap.Error(err))
		response.FromError(c, "logout failed", err)
		return
	}

	response.Success(c, http.StatusOK, "logout successful", nil)
}

func (h *AuthHandler) GetMe(c *gin.Context) {
	me, err := h.service.Me(c.Request.Context(), middleware.MustGetUserID(c))
	if err != nil {
		response.FromError(c, "failed to load profile", err)
		return
	}
	response.Success(c, http.StatusOK, "profile retrieved", me)
}
