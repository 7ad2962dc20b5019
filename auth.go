package main

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"logoqr/models"
	"logoqr/pkg/apperr"
)

const (
	sessionCookie  = "logoqr_session"
	ctxAdminKey    = "admin"
	ctxSessionKey  = "admin_session"
	loginPath      = "/login"
	adminPath      = "/admin"
	invalidCredMsg = "invalid credentials"
)

var (
	jwtSecret    []byte
	sessionTTL   = 12 * time.Hour
	cookieSecure bool

	errNoSession = errors.New("no admin session")
)

// sessionClaims ties the signed cookie to a server-side admin_sessions row.
type sessionClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// Authenticate checks username and password against admin_users.
func Authenticate(ctx context.Context, username, password string) (models.AdminUser, error) {
	username = strings.TrimSpace(username)
	var user models.AdminUser
	if err := db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// keep timing close to a real comparison
			_ = bcrypt.CompareHashAndPassword(dummyHash(), []byte(password))
			return models.AdminUser{}, apperr.Unauthorized(invalidCredMsg)
		}
		return models.AdminUser{}, apperr.Internal(err, "server error")
	}
	if err := bcrypt.CompareHashAndPassword(user.HashedPassword, []byte(password)); err != nil {
		return models.AdminUser{}, apperr.Unauthorized(invalidCredMsg)
	}
	return user, nil
}

// dummyHash is compared against when the username is unknown.
var dummyHash = sync.OnceValue(func() []byte {
	h, _ := bcrypt.GenerateFromPassword([]byte("not-a-real-password"), bcrypt.DefaultCost)
	return h
})

// createSession stores a new session for user and returns the signed cookie value.
func createSession(ctx context.Context, user models.AdminUser) (string, time.Time, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", time.Time{}, err
	}
	sid := hex.EncodeToString(b)
	now := time.Now()
	expires := now.Add(sessionTTL)
	session := models.AdminSession{AdminUserID: user.ID, TokenHash: hashSessionID(sid), ExpiresAt: expires}
	if err := db.WithContext(ctx).Create(&session).Error; err != nil {
		return "", time.Time{}, fmt.Errorf("failed to store session: %w", err)
	}
	claims := sessionClaims{
		SessionID: sid,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(jwtSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

func hashSessionID(sid string) string {
	h := sha256.Sum256([]byte(sid))
	return hex.EncodeToString(h[:])
}

// loadSession verifies the cookie signature and expiry, then the session row.
func loadSession(ctx context.Context, raw string) (*models.AdminSession, error) {
	if raw == "" {
		return nil, errNoSession
	}
	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !token.Valid || claims.SessionID == "" {
		return nil, errNoSession
	}
	var session models.AdminSession
	err = db.WithContext(ctx).Preload("AdminUser").
		Where("token_hash = ?", hashSessionID(claims.SessionID)).First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errNoSession
		}
		return nil, err
	}
	if !session.Active(time.Now()) {
		return nil, errNoSession
	}
	return &session, nil
}

func revokeSession(ctx context.Context, session *models.AdminSession) error {
	return db.WithContext(ctx).Model(&models.AdminSession{}).
		Where("id = ?", session.ID).Update("revoked", true).Error
}

func setSessionCookie(c *gin.Context, value string, expires time.Time) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     sessionCookie,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		MaxAge:   int(time.Until(expires).Seconds()),
		HttpOnly: true,
		Secure:   cookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

func clearSessionCookie(c *gin.Context) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   cookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

// sessionFromRequest returns the active session of the request, or errNoSession.
func sessionFromRequest(c *gin.Context) (*models.AdminSession, error) {
	raw, err := c.Cookie(sessionCookie)
	if err != nil {
		return nil, errNoSession
	}
	return loadSession(c.Request.Context(), raw)
}

// adminAuthMiddleware guards admin routes. Pages redirect to the login form,
// API calls get a 401 JSON body.
func adminAuthMiddleware(api bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, err := sessionFromRequest(c)
		if err != nil {
			if !errors.Is(err, errNoSession) {
				respondError(c, apperr.Internal(err, "server error"))
				c.Abort()
				return
			}
			if api {
				c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "authentication required"})
			} else {
				c.Redirect(http.StatusSeeOther, loginPath)
			}
			c.Abort()
			return
		}
		c.Set(ctxSessionKey, session)
		c.Set(ctxAdminKey, session.AdminUser.Username)
		c.Next()
	}
}
