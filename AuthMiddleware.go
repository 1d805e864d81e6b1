package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	authCookieName  = "auth_token"
	principalCtxKey = "principal"
)

// AuthMiddleware resolves the session cookie (or a Bearer token) into a
// Principal on the context. It never aborts: anonymous requests pass through
// and the per-route guards decide what to do with them.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := sessionTokenFromRequest(c)
		if tokenString == "" {
			c.Next()
			return
		}

		userID, err := ParseSessionToken(tokenString, Cfg.JWTSecret)
		if err != nil {
			clearSessionCookie(c)
			c.Next()
			return
		}

		p, err := loadPrincipal(c.Request.Context(), userID)
		if err != nil {
			if !isNotFound(err) {
				slog.Error("failed to load principal", "error", err, "user_id", userID)
			}
			clearSessionCookie(c)
			c.Next()
			return
		}
		if !p.IsActive {
			c.Next()
			return
		}

		c.Set(principalCtxKey, p)
		c.Set("user_id", p.UserID)
		c.Next()
	}
}

// LoginRequired redirects anonymous requests to the sign-in page.
func LoginRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if currentPrincipal(c) == nil {
			redirectToSignIn(c)
			return
		}
		c.Next()
	}
}

// RequireGroups guards a view with policy. Anonymous requests go to sign-in,
// authenticated ones that fail the policy go to the no-permission page.
func RequireGroups(policy Policy) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := currentPrincipal(c)
		if p == nil {
			redirectToSignIn(c)
			return
		}
		if !policy(p) {
			c.Redirect(http.StatusFound, pathNoPermission)
			c.Abort()
			return
		}
		c.Next()
	}
}

func currentPrincipal(c *gin.Context) *Principal {
	v, ok := c.Get(principalCtxKey)
	if !ok {
		return nil
	}
	p, _ := v.(*Principal)
	return p
}

func loadPrincipal(ctx context.Context, userID uint) (*Principal, error) {
	if p, ok := cachedPrincipal(ctx, userID); ok {
		return p, nil
	}

	var u User
	if err := DB.WithContext(ctx).Preload("Groups").First(&u, userID).Error; err != nil {
		return nil, fmt.Errorf("load user %d: %w", userID, err)
	}
	p := principalFromUser(&u)
	cachePrincipal(ctx, p, Cfg.RoleCacheTTL)
	return p, nil
}

func sessionTokenFromRequest(c *gin.Context) string {
	if tokenStr, err := c.Cookie(authCookieName); err == nil && tokenStr != "" {
		return tokenStr
	}

	authHeader := c.GetHeader("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
}

func setSessionCookie(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(authCookieName, token, int(Cfg.SessionTTL.Seconds()), "/", "", false, true)
}

func clearSessionCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(authCookieName, "", -1, "/", "", false, true)
}

func redirectToSignIn(c *gin.Context) {
	target := pathSignIn + "?" + url.Values{"next": {c.Request.URL.RequestURI()}}.Encode()
	c.Redirect(http.StatusFound, target)
	c.Abort()
}
