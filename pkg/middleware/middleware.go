package middleware

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fanbridge/payout-api/pkg/response"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"
)

// Context keys set by the auth middleware.
const (
	CtxSubjectID = "subjectID"
	CtxRole      = "role"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

var (
	visitors = make(map[string]*visitor)
	mu       sync.RWMutex

	// Configure limits per endpoint type
	authLimit    = rate.Limit(10.0 / 60.0)  // 10 requests per minute
	payoutLimit  = rate.Limit(30.0 / 60.0)  // 30 requests per minute
	readLimit    = rate.Limit(300.0 / 60.0) // 300 requests per minute
	webhookLimit = rate.Limit(600.0 / 60.0) // 600 events per minute
)

// Cleanup old visitors periodically
func init() {
	go cleanupVisitors()
}

func getLimiter(path, method, clientKey string) *rate.Limiter {
	mu.Lock()
	defer mu.Unlock()

	key := clientKey + ":" + path
	v, exists := visitors[key]

	if !exists {
		var limit rate.Limit
		switch {
		case strings.HasPrefix(path, "/api/v1/auth"):
			limit = authLimit
		case strings.HasPrefix(path, "/api/v1/webhooks"):
			limit = webhookLimit
		case strings.HasPrefix(path, "/api/v1/payouts") && method != "GET":
			limit = payoutLimit
		default:
			limit = readLimit
		}

		v = &visitor{
			limiter:  rate.NewLimiter(limit, 5),
			lastSeen: time.Now(),
		}
		visitors[key] = v
	}

	v.lastSeen = time.Now()
	return v.limiter
}

func cleanupVisitors() {
	for {
		time.Sleep(time.Minute)

		mu.Lock()
		for ip, v := range visitors {
			if time.Since(v.lastSeen) > 3*time.Minute {
				delete(visitors, ip)
			}
		}
		mu.Unlock()
	}
}

func RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientKey := c.GetString(CtxSubjectID)
		if clientKey == "" {
			clientKey = c.ClientIP()
		}

		limiter := getLimiter(c.FullPath(), c.Request.Method, clientKey)
		if !limiter.Allow() {
			response.BadRequest(c, "Rate limit exceeded. Please try again later.")
			c.Abort()
			return
		}

		c.Next()
	}
}

// JWTAuth validates a bearer token and stores the subject id and role on the
// request context. Any valid token passes; role gating is a separate layer.
func JWTAuth(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		subjectID, role, err := validateAndExtractToken(c, jwtSecret)
		if err != nil {
			return
		}

		c.Set(CtxSubjectID, subjectID)
		c.Set(CtxRole, role)
		c.Next()
	}
}

// AdminAuth validates a bearer token and requires the admin role.
func AdminAuth(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		subjectID, role, err := validateAndExtractToken(c, jwtSecret)
		if err != nil {
			return
		}

		if role != "admin" {
			response.Forbidden(c, "Admin access required")
			c.Abort()
			return
		}

		c.Set(CtxSubjectID, subjectID)
		c.Set(CtxRole, role)
		c.Next()
	}
}

// InternalAuth protects the charge/refund ingest endpoints called by the
// main platform. Same token scheme as the public API; deployments put these
// routes behind the internal network as well.
func InternalAuth(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		subjectID, role, err := validateAndExtractToken(c, jwtSecret)
		if err != nil {
			return
		}

		c.Set(CtxSubjectID, subjectID)
		c.Set(CtxRole, role)
		c.Next()
	}
}

func validateAndExtractToken(c *gin.Context, jwtSecret string) (string, string, error) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		response.Unauthorized(c, "Authorization header required")
		c.Abort()
		return "", "", fmt.Errorf("authorization header required")
	}

	bearerToken := strings.Split(authHeader, " ")
	if len(bearerToken) != 2 || strings.ToLower(bearerToken[0]) != "bearer" {
		response.Unauthorized(c, "Invalid authorization header format")
		c.Abort()
		return "", "", fmt.Errorf("invalid authorization header format")
	}

	tokenString := bearerToken[1]
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(jwtSecret), nil
	})
	if err != nil {
		response.Unauthorized(c, "Invalid token")
		c.Abort()
		return "", "", fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		response.Unauthorized(c, "Invalid token claims")
		c.Abort()
		return "", "", fmt.Errorf("invalid token claims")
	}

	subjectID, ok := claims["subject_id"].(string)
	if !ok {
		response.Unauthorized(c, "Invalid subject in token")
		c.Abort()
		return "", "", fmt.Errorf("invalid subject in token")
	}

	role, _ := claims["role"].(string)
	return subjectID, role, nil
}
