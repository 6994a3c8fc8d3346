package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"finsight-backend/internal/identity"
)

type stubVerifier struct {
	claims identity.Claims
	err    error
}

func (s stubVerifier) VerifyToken(ctx context.Context, bearer string) (identity.Claims, error) {
	if bearer != "good" {
		if s.err != nil {
			return identity.Claims{}, s.err
		}
		return identity.Claims{}, identity.ErrInvalidToken
	}
	return s.claims, nil
}

func TestAuthAllowsOptionsWithoutIdentity(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Auth(stubVerifier{}))
	router.OPTIONS("/api/v1/prompts", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/prompts", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}
}

func TestAuthSetsUserFromVerifiedToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Auth(stubVerifier{claims: identity.Claims{Subject: "user-1", Email: "a@example.com"}}))
	router.GET("/api/v1/me", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"userId": UserIDFromContext(c), "email": UserEmailFromContext(c)})
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	req.Header.Set("Authorization", "Bearer good")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var body map[string]string
	_ = json.Unmarshal(resp.Body.Bytes(), &body)
	if body["userId"] != "user-1" || body["email"] != "a@example.com" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestAuthMapsTokenErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := map[string]error{
		"invalid_token": identity.ErrInvalidToken,
		"expired_token": identity.ErrExpiredToken,
		"revoked_token": identity.ErrRevokedToken,
	}
	for code, verr := range cases {
		router := gin.New()
		router.Use(Auth(stubVerifier{err: verr}))
		router.GET("/api/v1/prompts", func(c *gin.Context) { c.Status(http.StatusOK) })

		req := httptest.NewRequest(http.MethodGet, "/api/v1/prompts", nil)
		req.Header.Set("Authorization", "Bearer bad")
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		if resp.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", code, resp.Code)
		}
		var body struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		_ = json.Unmarshal(resp.Body.Bytes(), &body)
		if body.Error.Code != code {
			t.Fatalf("expected code %s, got %s", code, body.Error.Code)
		}
	}
}

func TestAuthSkipsPublicPaths(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Auth(stubVerifier{}))
	router.GET("/api/v1/blobs/*path", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/api/v1/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, path := range []string{"/api/v1/blobs/a/b.csv", "/api/v1/health"} {
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, path, nil))
		if resp.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, resp.Code)
		}
	}

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/prompts", nil))
	if resp.Code != http.StatusUnauthorized && resp.Code != http.StatusNotFound {
		t.Fatalf("unexpected status %d", resp.Code)
	}
}
