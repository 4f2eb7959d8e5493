package auth

import (
	"context"
	"errors"
	"log"
	"time"

	"c2core/internal/auth"
	"c2core/internal/blacklist"
	"c2core/internal/ca"
	"c2core/internal/config"
	"c2core/internal/httpx"
	"c2core/internal/model"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CertIssuer is the slice of the CA engine login uses to hand an
// operator a client certificate.
type CertIssuer interface {
	IssueCertificate(identity, sessionID, role string, ttlSeconds int) (*ca.IssuedCertificate, error)
}

// TokenRevoker blacklists an operator session token on logout.
type TokenRevoker interface {
	BlacklistUserToken(ctx context.Context, token string, userID int, reason string) (*blacklist.Result, error)
}

// LoginRequest represents login request body
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// CertificateInfo carries the operator's issued client certificate.
// When issuance fails the login still succeeds with Issued=false; the
// certificate is an enhancement, not a login prerequisite.
type CertificateInfo struct {
	Issued    bool   `json:"issued"`
	CertID    string `json:"certId,omitempty"`
	Cert      string `json:"cert,omitempty"`
	Key       string `json:"key,omitempty"`
	CACert    string `json:"caCert,omitempty"`
	ExpiresAt string `json:"expiresAt,omitempty"`
}

// LoginResponse represents login response data
type LoginResponse struct {
	Token       string          `json:"token"`
	ExpireAt    string          `json:"expireAt"`
	SessionID   string          `json:"sessionId"`
	User        UserInfo        `json:"user"`
	Certificate CertificateInfo `json:"certificate"`
}

// UserInfo represents user information in response
type UserInfo struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// IssueCertificateInfo requests a client certificate and folds the
// outcome into a response block. Issuance is best-effort: a CA failure
// is logged and reported as issued=false so callers can reconcile
// degraded sessions, but it never fails the caller's flow.
func IssueCertificateInfo(issuer CertIssuer, identity, sessionID, role string, ttlSeconds int) CertificateInfo {
	if issuer == nil {
		return CertificateInfo{Issued: false}
	}
	issued, err := issuer.IssueCertificate(identity, sessionID, role, ttlSeconds)
	if err != nil {
		log.Printf("[CA] Certificate issuance failed for %s: %v", identity, err)
		return CertificateInfo{Issued: false}
	}
	return CertificateInfo{
		Issued:    true,
		CertID:    issued.CertID,
		Cert:      issued.CertPEM,
		Key:       issued.KeyPEM,
		CACert:    issued.CACertPEM,
		ExpiresAt: issued.ExpiresAt.Format(time.RFC3339),
	}
}

// LoginHandler handles operator login
func LoginHandler(db *gorm.DB, cfg *config.Config, issuer CertIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			httpx.FailErr(c, httpx.ErrParamInvalid("invalid request body"))
			return
		}

		// Query user by username
		var user model.User
		if err := db.Where("username = ?", req.Username).First(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				// User not found or wrong password - return same error for security
				httpx.FailErr(c, httpx.ErrInvalidToken("invalid credentials"))
				return
			}
			httpx.FailErr(c, httpx.ErrDatabaseError("database error", err))
			return
		}

		// Check user status
		if user.Status == model.UserStatusInactive {
			httpx.FailErr(c, httpx.ErrForbidden("user is inactive"))
			return
		}

		// Verify password
		if err := auth.ComparePassword(user.PasswordHash, req.Password); err != nil {
			httpx.FailErr(c, httpx.ErrInvalidToken("invalid credentials"))
			return
		}

		// Generate JWT token
		expireAt := time.Now().Add(time.Duration(cfg.JWT.ExpireMinutes) * time.Minute)
		token, err := auth.GenerateToken(user.ID, user.Username, user.Role, expireAt, cfg.JWT.Issuer)
		if err != nil {
			httpx.FailErr(c, httpx.ErrInternalError("failed to generate token", err))
			return
		}

		sessionID := uuid.NewString()

		// Client certificate issuance is best-effort; a CA hiccup must
		// not lock operators out
		certInfo := IssueCertificateInfo(issuer, user.Username, sessionID, user.Role, int(time.Until(expireAt).Seconds()))

		httpx.OK(c, LoginResponse{
			Token:       token,
			ExpireAt:    expireAt.Format(time.RFC3339),
			SessionID:   sessionID,
			User: UserInfo{
				ID:       user.ID,
				Username: user.Username,
				Role:     user.Role,
			},
			Certificate: certInfo,
		})
	}
}

// LogoutHandler revokes the current session token
func LogoutHandler(revoker TokenRevoker) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetString("token")
		if token == "" {
			httpx.FailErr(c, httpx.ErrUnauthorized("no active session"))
			return
		}

		uid := c.GetInt("uid")
		result, err := revoker.BlacklistUserToken(c.Request.Context(), token, uid, "logout")
		if err != nil {
			httpx.FailErr(c, httpx.ErrInternalError("failed to revoke session", err))
			return
		}

		httpx.OK(c, gin.H{
			"revoked":        true,
			"alreadyExpired": result.AlreadyExpired,
		})
	}
}
