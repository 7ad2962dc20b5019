package main

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"logoqr/pkg/config"
	"logoqr/pkg/testutil"
)

const testAdminPassword = "correct horse battery"

// helper to perform requests with an optional session cookie
func performRequest(r http.Handler, method, path string, body io.Reader, cookie *http.Cookie, contentType string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func testConfig(t *testing.T) *config.Config {
	dir := t.TempDir()
	return &config.Config{
		Env: "test",
		DB: config.DBConfig{
			Driver:      "sqlite",
			Name:        filepath.Join(dir, "test.db"),
			AutoMigrate: true,
		},
		Storage: config.StorageConfig{Type: "local", BasePath: filepath.Join(dir, "uploads")},
		Upload:  config.UploadConfig{MaxBytes: 5 * 1024 * 1024, RequireContact: true},
		Auth: config.AuthConfig{
			JWTSecret:     "test-secret",
			SessionTTL:    time.Hour,
			AdminUsername: fmt.Sprintf("admin-%d", time.Now().UnixNano()),
			AdminPassword: testAdminPassword,
		},
		PublicDir: "public",
	}
}

func setupTestServer(t *testing.T, cfg *config.Config) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	require.NoError(t, initDB(cfg))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	require.NoError(t, initApp(context.Background(), cfg))
	return newRouter()
}

type uploadResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	RedirectURL string `json:"redirectUrl"`
	ID          uint   `json:"id"`
	ProfileURL  string `json:"profileUrl"`
}

func upload(t *testing.T, r http.Handler, fields map[string]string, files ...testutil.File) (*httptest.ResponseRecorder, uploadResponse) {
	t.Helper()
	body, contentType := testutil.Multipart(t, fields, files...)
	rec := performRequest(r, http.MethodPost, "/upload", body, nil, contentType)
	var resp uploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return rec, resp
}

func uploadValid(t *testing.T, r http.Handler) uploadResponse {
	t.Helper()
	rec, resp := upload(t, r,
		map[string]string{"contact_type": "phone", "contact_value": "+33600000000"},
		testutil.ImageFile(t, "logo", "logo.png"),
		testutil.ImageFile(t, "qr", "qr.png"),
	)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.True(t, resp.Success)
	require.Equal(t, "/confirmation", resp.RedirectURL)
	require.NotZero(t, resp.ID)
	return resp
}

func login(t *testing.T, r http.Handler, username, password string) *httptest.ResponseRecorder {
	t.Helper()
	form := url.Values{"username": {username}, "password": {password}}
	return performRequest(r, http.MethodPost, "/login", strings.NewReader(form.Encode()), nil, "application/x-www-form-urlencoded")
}

func sessionCookieFrom(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookie {
			return c
		}
	}
	t.Fatalf("no %s cookie in response", sessionCookie)
	return nil
}

func TestFullFlow(t *testing.T) {
	cfg := testConfig(t)
	runFullFlow(t, cfg, setupTestServer(t, cfg))
}

// Postgres variant is opt-in. Set DB_DSN_TEST=1 and DB_DSN to run it.
func TestFullFlowPostgres(t *testing.T) {
	if os.Getenv("DB_DSN_TEST") != "1" {
		t.Skip("integration tests are disabled; set DB_DSN_TEST=1 to enable")
	}
	cfg := testConfig(t)
	cfg.DB = config.DBConfig{Driver: "postgres", DSN: os.Getenv("DB_DSN"), AutoMigrate: true}
	runFullFlow(t, cfg, setupTestServer(t, cfg))
}

func runFullFlow(t *testing.T, cfg *config.Config, r *gin.Engine) {
	// 1. Health
	resp := performRequest(r, http.MethodGet, "/health", nil, nil, "")
	require.Equal(t, http.StatusOK, resp.Code)
	require.JSONEq(t, `{"status":"ok"}`, resp.Body.String())

	// 2. Upload and view the profile page
	first := uploadValid(t, r)
	require.Equal(t, fmt.Sprintf("/profil/%d", first.ID), first.ProfileURL)
	resp = performRequest(r, http.MethodGet, first.ProfileURL, nil, nil, "")
	require.Equal(t, http.StatusOK, resp.Code)
	require.Contains(t, resp.Body.String(), "tel:+33600000000")

	resp = performRequest(r, http.MethodGet, "/profil/999999999", nil, nil, "")
	require.Equal(t, http.StatusNotFound, resp.Code)
	resp = performRequest(r, http.MethodGet, "/profil/abc", nil, nil, "")
	require.Equal(t, http.StatusNotFound, resp.Code)

	// 3. Non-image attachment is rejected
	rec, bad := upload(t, r,
		map[string]string{"contact_type": "email", "contact_value": "a@example.com"},
		testutil.ImageFile(t, "logo", "logo.png"),
		testutil.File{Field: "qr", Filename: "qr.txt", ContentType: "text/plain", Data: []byte("hello")},
	)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.False(t, bad.Success)
	require.NotEmpty(t, bad.Message)

	// 4. Admin area is closed without a session, whatever the query says
	for _, path := range []string{"/admin", "/admin?auth=true"} {
		resp = performRequest(r, http.MethodGet, path, nil, nil, "")
		require.Equal(t, http.StatusSeeOther, resp.Code, path)
		require.Equal(t, "/login", resp.Header().Get("Location"))
	}
	resp = performRequest(r, http.MethodDelete, fmt.Sprintf("/profils/%d", first.ID), nil, nil, "")
	require.Equal(t, http.StatusUnauthorized, resp.Code)

	// 5. Login
	resp = performRequest(r, http.MethodGet, "/login", nil, nil, "")
	require.Equal(t, http.StatusOK, resp.Code)
	resp = login(t, r, cfg.Auth.AdminUsername, "wrong password")
	require.Equal(t, http.StatusUnauthorized, resp.Code)
	resp = login(t, r, cfg.Auth.AdminUsername, testAdminPassword)
	require.Equal(t, http.StatusSeeOther, resp.Code, resp.Body.String())
	require.Equal(t, "/admin", resp.Header().Get("Location"))
	cookie := sessionCookieFrom(t, resp)
	require.True(t, cookie.HttpOnly)
	require.Equal(t, http.SameSiteStrictMode, cookie.SameSite)

	// 6. Admin list is newest first
	time.Sleep(10 * time.Millisecond)
	second := uploadValid(t, r)
	resp = performRequest(r, http.MethodGet, "/admin", nil, cookie, "")
	require.Equal(t, http.StatusOK, resp.Code)
	page := resp.Body.String()
	firstAt := strings.Index(page, fmt.Sprintf(`id="profil-%d"`, first.ID))
	secondAt := strings.Index(page, fmt.Sprintf(`id="profil-%d"`, second.ID))
	require.NotEqual(t, -1, firstAt)
	require.NotEqual(t, -1, secondAt)
	require.Less(t, secondAt, firstAt)

	// 7. Download the archive
	p, err := profileSvc.Get(context.Background(), first.ID)
	require.NoError(t, err)
	resp = performRequest(r, http.MethodGet, fmt.Sprintf("/download/%d", first.ID), nil, cookie, "")
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, "application/zip", resp.Header().Get("Content-Type"))
	require.Equal(t, fmt.Sprintf(`attachment; filename="profil-%d.zip"`, first.ID), resp.Header().Get("Content-Disposition"))
	zr, err := zip.NewReader(bytes.NewReader(resp.Body.Bytes()), int64(resp.Body.Len()))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	want := p.Files()
	sort.Strings(names)
	sort.Strings(want)
	require.Equal(t, want, names)

	// 8. Thumbnails and stored files
	resp = performRequest(r, http.MethodGet, "/admin/thumbnails/"+p.LogoPath, nil, cookie, "")
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, "image/jpeg", resp.Header().Get("Content-Type"))
	resp = performRequest(r, http.MethodGet, "/uploads/"+p.QRPath, nil, nil, "")
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, "image/png", resp.Header().Get("Content-Type"))
	resp = performRequest(r, http.MethodGet, "/uploads/missing.png", nil, nil, "")
	require.Equal(t, http.StatusNotFound, resp.Code)

	// 9. Download after the files were removed externally
	s, err := profileSvc.Get(context.Background(), second.ID)
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(cfg.Storage.BasePath, s.QRPath)))
	resp = performRequest(r, http.MethodGet, fmt.Sprintf("/download/%d", second.ID), nil, cookie, "")
	require.Equal(t, http.StatusNotFound, resp.Code)
	require.NotEqual(t, "application/zip", resp.Header().Get("Content-Type"))

	// 10. Delete
	resp = performRequest(r, http.MethodDelete, fmt.Sprintf("/profils/%d", first.ID), nil, cookie, "")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	require.JSONEq(t, `{"success":true,"message":"profile deleted"}`, resp.Body.String())
	for _, name := range p.Files() {
		_, err := os.Stat(filepath.Join(cfg.Storage.BasePath, name))
		require.True(t, os.IsNotExist(err), name)
	}
	resp = performRequest(r, http.MethodDelete, fmt.Sprintf("/profils/%d", first.ID), nil, cookie, "")
	require.Equal(t, http.StatusNotFound, resp.Code)
	resp = performRequest(r, http.MethodGet, first.ProfileURL, nil, nil, "")
	require.Equal(t, http.StatusNotFound, resp.Code)

	// 11. Logout revokes the session
	resp = performRequest(r, http.MethodPost, "/logout", nil, cookie, "")
	require.Equal(t, http.StatusSeeOther, resp.Code)
	require.Equal(t, "/login", resp.Header().Get("Location"))
	resp = performRequest(r, http.MethodGet, "/admin", nil, cookie, "")
	require.Equal(t, http.StatusSeeOther, resp.Code)
}

func TestUploadRejectsOversizedFiles(t *testing.T) {
	cfg := testConfig(t)
	cfg.Upload.MaxBytes = 200
	r := setupTestServer(t, cfg)

	rec, resp := upload(t, r,
		map[string]string{"contact_type": "phone", "contact_value": "0600000000"},
		testutil.File{Field: "logo", Filename: "logo.png", ContentType: "image/png", Data: testutil.PNG(t, 64, 64)},
		testutil.File{Field: "qr", Filename: "qr.png", ContentType: "image/png", Data: testutil.PNG(t, 64, 64)},
	)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.False(t, resp.Success)

	t.Run("should cut off a body far over the cap", func(t *testing.T) {
		rec, resp := upload(t, r,
			map[string]string{"contact_type": "phone", "contact_value": "0600000000"},
			testutil.File{Field: "logo", Filename: "logo.png", ContentType: "image/png", Data: bytes.Repeat([]byte{0x89}, 2*multipartOverhead)},
			testutil.ImageFile(t, "qr", "qr.png"),
		)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.False(t, resp.Success)
		require.Contains(t, resp.Message, "too large")
	})

	entries, err := os.ReadDir(cfg.Storage.BasePath)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestUploadServesSniffedContentType(t *testing.T) {
	cfg := testConfig(t)
	r := setupTestServer(t, cfg)

	payload := append(testutil.PNG(t, 24, 24), []byte("<script>alert(document.cookie)</script>")...)
	rec, resp := upload(t, r,
		map[string]string{"contact_type": "phone", "contact_value": "0600000000"},
		testutil.File{Field: "logo", Filename: "logo.html", ContentType: "image/png", Data: payload},
		testutil.ImageFile(t, "qr", "qr.png"),
	)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	p, err := profileSvc.Get(context.Background(), resp.ID)
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(p.LogoPath, ".png"), p.LogoPath)

	served := performRequest(r, http.MethodGet, "/uploads/"+p.LogoPath, nil, nil, "")
	require.Equal(t, http.StatusOK, served.Code)
	require.Equal(t, "image/png", served.Header().Get("Content-Type"))
	require.Equal(t, "nosniff", served.Header().Get("X-Content-Type-Options"))

	t.Run("should serve unknown extensions as opaque bytes", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(cfg.Storage.BasePath, "legacy.html"), []byte("<script></script>"), 0o644))
		served := performRequest(r, http.MethodGet, "/uploads/legacy.html", nil, nil, "")
		require.Equal(t, http.StatusOK, served.Code)
		require.Equal(t, "application/octet-stream", served.Header().Get("Content-Type"))
	})
}

func TestThumbnailRejectsHugeDimensions(t *testing.T) {
	cfg := testConfig(t)
	r := setupTestServer(t, cfg)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Storage.BasePath, "logo-huge.png"), testutil.PNGHeader(t, 8000, 8000), 0o644))
	cookie := sessionCookieFrom(t, login(t, r, cfg.Auth.AdminUsername, testAdminPassword))

	resp := performRequest(r, http.MethodGet, "/admin/thumbnails/logo-huge.png", nil, cookie, "")
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestUploadRequiresContact(t *testing.T) {
	cfg := testConfig(t)
	r := setupTestServer(t, cfg)

	rec, resp := upload(t, r, nil,
		testutil.ImageFile(t, "logo", "logo.png"),
		testutil.ImageFile(t, "qr", "qr.png"),
	)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, resp.Message, "missing data")
}

func TestPublicFiles(t *testing.T) {
	cfg := testConfig(t)
	r := setupTestServer(t, cfg)

	resp := performRequest(r, http.MethodGet, "/", nil, nil, "")
	require.Equal(t, http.StatusOK, resp.Code)
	require.Contains(t, resp.Body.String(), `id="upload-form"`)

	resp = performRequest(r, http.MethodGet, "/admin.js", nil, nil, "")
	require.Equal(t, http.StatusOK, resp.Code)

	resp = performRequest(r, http.MethodGet, "/nope.html", nil, nil, "")
	require.Equal(t, http.StatusNotFound, resp.Code)

	t.Run("should never list directories", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("home"), 0o644))
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "assets"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "assets", "app.css"), []byte("body{}"), 0o644))
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "docs"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "docs", "index.html"), []byte("docs"), 0o644))
		cfg.PublicDir = dir
		r := newRouter()

		resp := performRequest(r, http.MethodGet, "/assets/", nil, nil, "")
		require.Equal(t, http.StatusNotFound, resp.Code)
		require.NotContains(t, resp.Body.String(), "app.css")

		resp = performRequest(r, http.MethodGet, "/assets/app.css", nil, nil, "")
		require.Equal(t, http.StatusOK, resp.Code)

		resp = performRequest(r, http.MethodGet, "/docs/", nil, nil, "")
		require.Equal(t, http.StatusOK, resp.Code)
		require.Contains(t, resp.Body.String(), "docs")

		resp = performRequest(r, http.MethodGet, "/", nil, nil, "")
		require.Equal(t, http.StatusOK, resp.Code)
		require.Equal(t, "home", resp.Body.String())
	})
}

func TestInitDBRejectsInvalidPasswordHash(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.AdminPassword = ""
	cfg.Auth.AdminPasswordHash = "not-a-hash"
	err := initDB(cfg)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	require.Error(t, err)
}
