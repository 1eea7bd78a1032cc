package middleware

import (
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"visit_tracker/internal/models"
)

var secret = []byte(getJWTSecret())

func getJWTSecret() string {
	if val := os.Getenv("JWT_SECRET"); val != "" {
		return val
	}
	return "supersecret" // fallback
}

// Claims carries the principal inside the token.
type Claims struct {
	UserID     uint   `json:"user_id"`
	Name       string `json:"name"`
	Role       string `json:"role"`
	Department string `json:"department"`
	jwt.RegisteredClaims
}

// GenerateToken mints a 72h HS256 token for a user.
func GenerateToken(user *models.User) (string, error) {
	claims := Claims{
		UserID:     user.ID,
		Name:       user.Name,
		Role:       user.Role,
		Department: user.Department,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(72 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// ValidateToken parses and verifies a token, returning its claims.
func ValidateToken(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// Identity adapts token validation to the hub's identity collaborator.
type Identity struct{}

// Verify implements hub.Identity.
func (Identity) Verify(token string) (models.Principal, error) {
	if token == "" {
		return models.Principal{}, errors.New("missing authentication token")
	}
	claims, err := ValidateToken(token)
	if err != nil {
		return models.Principal{}, err
	}
	return models.Principal{
		ID:         claims.UserID,
		Name:       claims.Name,
		Role:       claims.Role,
		Department: claims.Department,
	}, nil
}

// authenticate validates the bearer header and returns the principal,
// aborting the request with 401 on failure.
func authenticate(c *gin.Context) (models.Principal, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing or invalid Authorization header"})
		return models.Principal{}, false
	}

	tokenString := strings.TrimPrefix(authHeader, "Bearer ")
	claims, err := ValidateToken(tokenString)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
		return models.Principal{}, false
	}

	return models.Principal{
		ID:         claims.UserID,
		Name:       claims.Name,
		Role:       claims.Role,
		Department: claims.Department,
	}, true
}

// RequireAuth ensures a valid JWT is present
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := authenticate(c)
		if !ok {
			return
		}
		// Store the principal in context for downstream handlers
		c.Set("principal", p)
		c.Next()
	}
}

// RequireAuthWithRole ensures the JWT is valid and the user has a specific role
func RequireAuthWithRole(requiredRole string) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := authenticate(c)
		if !ok {
			return
		}
		if p.Role != requiredRole {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Insufficient permissions"})
			return
		}
		c.Set("principal", p)
		c.Next()
	}
}

// MustPrincipal pulls the authenticated principal set by RequireAuth.
func MustPrincipal(c *gin.Context) models.Principal {
	return c.MustGet("principal").(models.Principal)
}
