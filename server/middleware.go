package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/shamwari-labs/shamwari"
)

const (
	identityContextKey = "shamwari_identity"
	sessionCookieName  = "shamwari_session"
	sessionCookieAge   = 24 * 60 * 60
)

func signSession(id string, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(id))
	return id + "." + hex.EncodeToString(mac.Sum(nil))
}

func verifySession(cookie string, secret []byte) (string, bool) {
	dot := strings.LastIndexByte(cookie, '.')
	if dot <= 0 {
		return "", false
	}
	id := cookie[:dot]
	if !hmac.Equal([]byte(signSession(id, secret)), []byte(cookie)) {
		return "", false
	}
	return id, true
}

// Identity resolves the caller's identity for every request. The session
// cookie scopes anonymous callers; a bearer token, when present, is verified
// against the identity provider. Absence or failure of verification never
// rejects the request: the tagged identity records the outcome and the
// orchestrator demotes failures to anonymous.
func Identity(verifier shamwari.IdentityVerifier, sessionSecret string) gin.HandlerFunc {
	secret := []byte(sessionSecret)

	return func(c *gin.Context) {
		sessionID := ""
		if cookie, err := c.Cookie(sessionCookieName); err == nil {
			sessionID, _ = verifySession(cookie, secret)
		}
		if sessionID == "" {
			sessionID = uuid.New().String()
			c.SetCookie(sessionCookieName, signSession(sessionID, secret),
				sessionCookieAge, "/", "", false, true)
		}

		id := shamwari.AnonymousIdentity(sessionID)
		if authHeader := c.GetHeader("Authorization"); authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				id = shamwari.FailedIdentity(sessionID, "malformed authorization header")
			} else {
				id = verifier.Verify(c.Request.Context(), parts[1])
				id.SessionID = sessionID
			}
		}

		c.Set(identityContextKey, id)
		c.Next()
	}
}

func identityFrom(c *gin.Context) shamwari.Identity {
	if v, exists := c.Get(identityContextKey); exists {
		if id, ok := v.(shamwari.Identity); ok {
			return id
		}
	}
	return shamwari.AnonymousIdentity(uuid.New().String())
}

// RateLimit applies a per-client token bucket. Clients are keyed by IP;
// idle limiters are not evicted, which is acceptable for the expected
// client cardinality of a single instance.
func RateLimit(rps float64, burst int) gin.HandlerFunc {
	var mu sync.Mutex
	limiters := make(map[string]*rate.Limiter)

	return func(c *gin.Context) {
		ip := c.ClientIP()

		mu.Lock()
		limiter, exists := limiters[ip]
		if !exists {
			limiter = rate.NewLimiter(rate.Limit(rps), burst)
			limiters[ip] = limiter
		}
		mu.Unlock()

		if !limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "too many requests, slow down",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequestLogger logs one line per request with a generated request ID.
func RequestLogger(logger shamwari.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := uuid.New().String()
		c.Header("X-Request-ID", requestID)
		c.Next()

		logger.WithFields(map[string]interface{}{
			"request_id": requestID,
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
		}).Info("request handled")
	}
}
