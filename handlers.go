package main

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"mime/multipart"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"logoqr/models"
	"logoqr/pkg/apperr"
	"logoqr/pkg/archive"
	"logoqr/pkg/profiles"
	"logoqr/pkg/storage"
	"logoqr/pkg/thumbnail"
)

// multipartOverhead is allowed on top of UPLOAD_MAX_BYTES for boundaries and text fields.
const multipartOverhead = 64 << 10

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplates = template.Must(template.New("pages").Funcs(template.FuncMap{
	"contactHref":  contactHref,
	"contactLabel": contactLabel,
	"formatTime": func(t time.Time) string {
		return t.Local().Format("02/01/2006 15:04")
	},
}).ParseFS(templateFS, "templates/*.html"))

func setupRoutes(r *gin.Engine) {
	r.SetHTMLTemplate(pageTemplates)

	r.GET("/health", healthHandler)
	r.POST("/upload", uploadHandler)
	r.GET("/confirmation", confirmationHandler)
	r.GET("/profil/:id", profileHandler)
	r.GET("/uploads/:name", storedFileHandler)
	r.GET(loginPath, loginPageHandler)
	r.POST(loginPath, loginHandler)
	r.POST("/logout", logoutHandler)

	pages := r.Group("")
	pages.Use(adminAuthMiddleware(false))
	pages.GET(adminPath, adminHandler)
	pages.GET("/admin/thumbnails/:name", thumbnailHandler)
	pages.GET("/download/:id", downloadHandler)

	api := r.Group("")
	api.Use(adminAuthMiddleware(true))
	api.DELETE("/profils/:id", deleteProfileHandler)

	r.NoRoute(publicFilesHandler(appCfg.PublicDir))
}

// respondError writes the JSON error body used by every API route.
func respondError(c *gin.Context, err error) {
	status := apperr.Status(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Error(err))
	}
	c.JSON(status, gin.H{"success": false, "message": apperr.Message(err)})
}

// renderError is respondError for HTML pages.
func renderError(c *gin.Context, err error) {
	status := apperr.Status(err)
	if status >= http.StatusInternalServerError {
		log.Error("page failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
	}
	c.HTML(status, "error.html", gin.H{"Status": status, "Message": apperr.Message(err)})
}

func parseID(c *gin.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, apperr.NotFound("profile not found")
	}
	return uint(id), nil
}

func healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := pingDB(ctx); err != nil {
		log.Warn("health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// uploadHandler accepts multipart form: logo, qr, contact_type, contact_value.
func uploadHandler(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, appCfg.Upload.MaxBytes+multipartOverhead)
	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(c, apperr.Validation(fmt.Sprintf("files too large: %d bytes allowed in total", appCfg.Upload.MaxBytes)))
			return
		}
		respondError(c, apperr.Validation("missing data: expected a multipart form"))
		return
	}
	defer func() { _ = form.RemoveAll() }()

	p, err := profileSvc.Upload(c.Request.Context(), profiles.UploadInput{
		Logo:         firstFile(form, "logo"),
		QR:           firstFile(form, "qr"),
		ContactType:  firstValue(form, "contact_type"),
		ContactValue: firstValue(form, "contact_value"),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"redirectUrl": "/confirmation",
		"id":          p.ID,
		"profileUrl":  fmt.Sprintf("/profil/%d", p.ID),
	})
}

func firstFile(form *multipart.Form, field string) *multipart.FileHeader {
	if files := form.File[field]; len(files) > 0 {
		return files[0]
	}
	return nil
}

func firstValue(form *multipart.Form, field string) string {
	if values := form.Value[field]; len(values) > 0 {
		return values[0]
	}
	return ""
}

func confirmationHandler(c *gin.Context) {
	c.HTML(http.StatusOK, "confirmation.html", nil)
}

func profileHandler(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		renderError(c, err)
		return
	}
	p, err := profileSvc.Get(c.Request.Context(), id)
	if err != nil {
		renderError(c, err)
		return
	}
	c.HTML(http.StatusOK, "profile.html", gin.H{"Profile": *p})
}

func adminHandler(c *gin.Context) {
	items, err := profileSvc.List(c.Request.Context())
	if err != nil {
		renderError(c, err)
		return
	}
	c.HTML(http.StatusOK, "admin.html", gin.H{
		"Profiles": items,
		"Admin":    c.GetString(ctxAdminKey),
	})
}

func loginPageHandler(c *gin.Context) {
	if _, err := sessionFromRequest(c); err == nil {
		c.Redirect(http.StatusSeeOther, adminPath)
		return
	}
	c.HTML(http.StatusOK, "login.html", nil)
}

func loginHandler(c *gin.Context) {
	username := strings.TrimSpace(c.PostForm("username"))
	user, err := Authenticate(c.Request.Context(), username, c.PostForm("password"))
	if err != nil {
		status := apperr.Status(err)
		if status >= http.StatusInternalServerError {
			log.Error("login failed", zap.Error(err))
		} else {
			log.Info("rejected admin login", zap.String("username", username), zap.String("ip", c.ClientIP()))
		}
		c.HTML(status, "login.html", gin.H{"Error": apperr.Message(err), "Username": username})
		return
	}
	token, expires, err := createSession(c.Request.Context(), user)
	if err != nil {
		log.Error("failed to create admin session", zap.Error(err))
		c.HTML(http.StatusInternalServerError, "login.html", gin.H{"Error": "server error", "Username": username})
		return
	}
	setSessionCookie(c, token, expires)
	log.Info("admin logged in", zap.String("username", user.Username))
	c.Redirect(http.StatusSeeOther, adminPath)
}

func logoutHandler(c *gin.Context) {
	if session, err := sessionFromRequest(c); err == nil {
		if err := revokeSession(c.Request.Context(), session); err != nil {
			log.Error("failed to revoke admin session", zap.Uint("session_id", session.ID), zap.Error(err))
		}
	}
	clearSessionCookie(c)
	c.Redirect(http.StatusSeeOther, loginPath)
}

func deleteProfileHandler(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := profileSvc.Delete(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "profile deleted"})
}

// downloadHandler streams the profile's two files as a zip archive.
func downloadHandler(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	p, entries, err := profileSvc.OpenArchive(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Content-Type", "application/zip")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="profil-%d.zip"`, p.ID))
	c.Status(http.StatusOK)
	if err := archive.Write(c.Writer, entries); err != nil {
		// headers are already sent, the client sees a truncated archive
		log.Error("failed to stream archive", zap.Uint("id", p.ID), zap.Error(err))
	}
}

func thumbnailHandler(c *gin.Context) {
	name := c.Param("name")
	obj, err := openStored(c.Request.Context(), name)
	if err != nil {
		respondError(c, err)
		return
	}
	defer obj.Body.Close()
	data, err := io.ReadAll(obj.Body)
	if err != nil {
		respondError(c, apperr.Internal(err, "server error"))
		return
	}
	c.Header("Cache-Control", "private, max-age=3600")
	var buf bytes.Buffer
	if err := thumbnail.Write(&buf, bytes.NewReader(data), thumbnail.DefaultSize); err != nil {
		switch {
		case errors.Is(err, thumbnail.ErrTooLarge):
			respondError(c, apperr.Validation("image too large for a thumbnail"))
			return
		case errors.Is(err, thumbnail.ErrUndecodable):
			c.Header("X-Content-Type-Options", "nosniff")
			c.Data(http.StatusOK, profiles.ContentType(name), data)
			return
		}
		respondError(c, apperr.Internal(err, "server error"))
		return
	}
	c.Data(http.StatusOK, "image/jpeg", buf.Bytes())
}

func storedFileHandler(c *gin.Context) {
	name := c.Param("name")
	obj, err := openStored(c.Request.Context(), name)
	if err != nil {
		respondError(c, err)
		return
	}
	defer obj.Body.Close()
	c.DataFromReader(http.StatusOK, obj.Size, profiles.ContentType(name), obj.Body, map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"Content-Security-Policy": "default-src 'none'; sandbox",
	})
}

func openStored(ctx context.Context, name string) (*storage.Object, error) {
	if err := storage.ValidateName(name); err != nil {
		return nil, apperr.NotFound("file not found")
	}
	obj, err := store.Open(ctx, name)
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			return nil, apperr.NotFound("file not found")
		}
		return nil, apperr.Internal(err, "server error")
	}
	return obj, nil
}

// publicFS hides directories without an index.html, so nothing under the
// public directory is ever listed.
type publicFS struct {
	http.FileSystem
}

func (p publicFS) Open(name string) (http.File, error) {
	f, err := p.FileSystem.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.IsDir() {
		index, err := p.FileSystem.Open(path.Join(name, "index.html"))
		if err != nil {
			f.Close()
			return nil, fs.ErrNotExist
		}
		index.Close()
	}
	return f, nil
}

// publicFilesHandler serves the static site for every GET path without a route.
func publicFilesHandler(dir string) gin.HandlerFunc {
	files := http.FileServer(publicFS{http.Dir(dir)})
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "not found"})
			return
		}
		files.ServeHTTP(c.Writer, c.Request)
	}
}

// contactHref is the profile's contact link. tel: needs to be marked safe for
// html/template; anything but the known schemes is dropped.
func contactHref(p models.Profile) template.URL {
	href := p.ContactHref()
	for _, scheme := range []string{"https://", "http://", "mailto:", "tel:"} {
		if strings.HasPrefix(strings.ToLower(href), scheme) {
			return template.URL(href)
		}
	}
	return "#"
}

func contactLabel(t models.ContactType) string {
	switch t {
	case models.ContactInstagram:
		return "Instagram"
	case models.ContactSnapchat:
		return "Snapchat"
	case models.ContactPhone:
		return "Téléphone"
	case models.ContactEmail:
		return "E-mail"
	case models.ContactLink:
		return "Lien"
	default:
		return "Non spécifié"
	}
}
