package rest

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/parley/server/apperr"
	"github.com/kasuganosora/parley/server/cache"
	"github.com/kasuganosora/parley/server/config"
	mw "github.com/kasuganosora/parley/server/middleware"
	"github.com/kasuganosora/parley/server/model"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const passwordCost = 12

// AuthHandler handles authentication REST endpoints.
type AuthHandler struct {
	db     *gorm.DB
	cache  cache.Cache
	sec    config.SecurityConfig
	logger *zap.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(db *gorm.DB, c cache.Cache, sec config.SecurityConfig, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{db: db, cache: c, sec: sec, logger: logger}
}

type loginRequest struct {
	Username string `json:"username" binding:"required,min=2,max=32"`
	Password string `json:"password" binding:"required,min=4,max=64"`
}

// Login handles POST /api/auth/login.
// Auto-registers on first login if the username does not exist.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	var u model.User
	err := h.db.Where("username = ?", req.Username).First(&u).Error

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), passwordCost)
		if err != nil {
			respondError(c, apperr.Server("registration failed", err))
			return
		}
		u = model.User{Username: req.Username, PasswordHash: string(hash), Status: 1}
		if err := h.db.Create(&u).Error; err != nil {
			// another request registered the same name first
			if apperr.IsUniqueViolation(err) {
				respondError(c, apperr.Conflict("username already taken"))
			} else {
				respondError(c, apperr.Server("registration failed", err))
			}
			return
		}
		h.logger.Info("user registered", zap.Int64("user_id", u.ID), zap.String("username", u.Username))
	case err != nil:
		respondError(c, apperr.Server("database error", err))
		return
	default:
		if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials", "code": "unauthorized"})
			return
		}
		if u.Status == 0 {
			c.JSON(http.StatusForbidden, gin.H{"error": "account banned", "code": "forbidden"})
			return
		}
	}

	token, err := h.issue(c.Request.Context(), u.ID)
	if err != nil {
		respondError(c, apperr.Server("token error", err))
		return
	}

	// best-effort
	now := time.Now()
	_ = h.db.Model(&u).Updates(map[string]interface{}{
		"last_login_at": now,
		"last_login_ip": c.ClientIP(),
	})

	c.JSON(http.StatusOK, gin.H{
		"token":    token,
		"user_id":  u.ID,
		"username": u.Username,
	})
}

// issue signs a token for userID and stores its session.
func (h *AuthHandler) issue(ctx context.Context, userID int64) (string, error) {
	token, err := mw.GenerateToken(userID, h.sec.JWTSecret, h.sec.JWTTTLH)
	if err != nil {
		return "", err
	}
	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := h.cache.Set(cctx, mw.SessionKeyPrefix+token, strconv.FormatInt(userID, 10), h.sec.JWTTTLH); err != nil {
		return "", err
	}
	return token, nil
}

// Logout handles POST /api/auth/logout.
func (h *AuthHandler) Logout(c *gin.Context) {
	tokenStr := mw.BearerToken(c)
	if tokenStr == "" {
		badRequest(c, "missing token")
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	_ = h.cache.Del(ctx, mw.SessionKeyPrefix+tokenStr)
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// Refresh handles POST /api/auth/refresh.
func (h *AuthHandler) Refresh(c *gin.Context) {
	userID := mw.GetUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "code": "unauthorized"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	_ = h.cache.Del(ctx, mw.SessionKeyPrefix+mw.BearerToken(c))

	newToken, err := h.issue(c.Request.Context(), userID)
	if err != nil {
		respondError(c, apperr.Server("token error", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": newToken})
}
