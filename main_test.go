package main

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"incident-service/config"
	"incident-service/service"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRouter(t *testing.T) (*gin.Engine, *config.Config) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{
		DBHost:           "127.0.0.1",
		DBPort:           "1",
		DBName:           "incidents",
		DBRetryDelay:     time.Second,
		DBMaxRetryDelay:  time.Second,
		DBConnectTimeout: time.Second,
		DBHealthInterval: time.Hour,
		SendTimeout:      time.Second,
		UploadsDir:       filepath.Join(t.TempDir(), "uploads"),
		UploadsMaxSize:   1 << 20,
		AllowedOrigins:   []string{"http://localhost:5500"},
	}
	svc, err := service.NewService(cfg)
	require.NoError(t, err)
	return setupRouter(cfg, svc), cfg
}

func TestRouter_RootAndHealth(t *testing.T) {
	r, _ := testRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Server is running!", w.Body.String())

	// The reconnect loop is never started, so the store stays disconnected.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"store":"disconnected"`)
}

func TestRouter_SubmitWhileDisconnected(t *testing.T) {
	r, _ := testRouter(t)
	body := `{"collegeCode":"C1","incidentCategory":"safety","incidentType":"fire","description":"smoke in lab"}`

	for _, path := range []string{"/reports", "/api/reports"} {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.Code, path)
		assert.Contains(t, w.Body.String(), "Failed to save the report.", path)
	}
}

func TestRouter_CORS(t *testing.T) {
	r, _ := testRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/reports", nil)
	req.Header.Set("Origin", "http://localhost:5500")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:5500", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodOptions, "/reports", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_MetricsAndUploads(t *testing.T) {
	r, cfg := testRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "incidents_store_connected")

	require.NoError(t, os.WriteFile(filepath.Join(cfg.UploadsDir, "1-photo.txt"), []byte("photo"), 0o644))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/uploads/1-photo.txt", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "photo", w.Body.String())
}
