package profiles

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"logoqr/models"
	"logoqr/pkg/apperr"
	"logoqr/pkg/archive"
	"logoqr/pkg/storage"
	"logoqr/pkg/thumbnail"
)

const (
	slotLogo = "logo"
	slotQR   = "qr"

	// deleteGrace is how long a file removed by Delete is reported by RecentlyDeleted.
	deleteGrace = time.Minute
)

// imageTypes maps every accepted sniffed media type to its stored extension.
var imageTypes = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// ContentType is the media type a stored file is served with. Names outside the
// accepted image extensions are served as opaque bytes.
func ContentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

// Options tunes upload validation.
type Options struct {
	MaxBytes       int64 // total size of both attachments
	RequireContact bool
}

// UploadInput is one submission of the upload form.
type UploadInput struct {
	Logo         *multipart.FileHeader
	QR           *multipart.FileHeader
	ContactType  string
	ContactValue string
}

// Service ties the profile repository to the file store.
type Service struct {
	repo  *Repository
	store storage.Store
	log   *zap.Logger
	opts  Options

	deleting sync.Map // stored name -> time.Time
}

func NewService(repo *Repository, store storage.Store, log *zap.Logger, opts Options) *Service {
	return &Service{
		repo:  repo,
		store: store,
		log:   log.With(zap.String("service", "profiles")),
		opts:  opts,
	}
}

// Upload validates both attachments, stores them and inserts the profile row.
// Nothing is written unless every check passes; files already stored are removed
// again when a later step fails.
func (s *Service) Upload(ctx context.Context, in UploadInput) (*models.Profile, error) {
	if in.Logo == nil || in.QR == nil {
		return nil, apperr.Validation("missing data: please upload a logo and a QR code")
	}
	contactValue := strings.TrimSpace(in.ContactValue)
	contactType := models.ContactType(strings.ToLower(strings.TrimSpace(in.ContactType)))
	if s.opts.RequireContact && contactValue == "" {
		return nil, apperr.Validation("missing data: please provide a contact")
	}
	if !contactType.Valid() {
		return nil, apperr.Validation("unsupported contact type")
	}
	if s.opts.MaxBytes > 0 && in.Logo.Size+in.QR.Size > s.opts.MaxBytes {
		return nil, apperr.Validation(fmt.Sprintf("files too large: %d bytes allowed in total", s.opts.MaxBytes))
	}
	logoExt, err := checkImage(in.Logo)
	if err != nil {
		return nil, err
	}
	qrExt, err := checkImage(in.QR)
	if err != nil {
		return nil, err
	}

	var stored []string
	rollback := func() {
		for _, name := range stored {
			if err := s.store.Delete(context.WithoutCancel(ctx), name); err != nil {
				s.log.Error("failed to remove file after failed upload", zap.String("file", name), zap.Error(err))
			}
		}
	}
	logoName, err := s.save(ctx, slotLogo, logoExt, in.Logo)
	if err != nil {
		return nil, apperr.Internal(err, "server error while saving the files")
	}
	stored = append(stored, logoName)
	qrName, err := s.save(ctx, slotQR, qrExt, in.QR)
	if err != nil {
		rollback()
		return nil, apperr.Internal(err, "server error while saving the files")
	}
	stored = append(stored, qrName)

	profile := &models.Profile{
		LogoPath:     logoName,
		QRPath:       qrName,
		ContactType:  contactType,
		ContactValue: contactValue,
	}
	if err := s.repo.Create(ctx, profile); err != nil {
		rollback()
		return nil, apperr.Internal(err, "server error while saving the profile")
	}
	s.log.Info("profile created",
		zap.Uint("id", profile.ID),
		zap.String("logo", logoName),
		zap.String("qr", qrName))
	return profile, nil
}

func (s *Service) save(ctx context.Context, slot, ext string, fh *multipart.FileHeader) (string, error) {
	name := slot + "-" + uuid.NewString() + ext
	f, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("open %s upload: %w", slot, err)
	}
	defer f.Close()
	if err := s.store.Save(ctx, name, f, ContentType(name)); err != nil {
		return "", err
	}
	return name, nil
}

// checkImage accepts the attachment only when the declared media type and the
// sniffed content are both one of imageTypes and its dimensions fit the thumbnail
// pixel budget. It returns the extension the file is stored under, derived from
// the sniffed content rather than the client's file name.
func checkImage(fh *multipart.FileHeader) (string, error) {
	unsupported := apperr.Validation("unsupported file type: only PNG, JPEG, GIF and WebP images are accepted")
	if !strings.HasPrefix(strings.ToLower(fh.Header.Get("Content-Type")), "image/") {
		return "", unsupported
	}
	f, err := fh.Open()
	if err != nil {
		return "", apperr.Internal(err, "server error while reading the files")
	}
	defer f.Close()
	detected, err := mimetype.DetectReader(f)
	if err != nil {
		return "", apperr.Internal(err, "server error while reading the files")
	}
	ext, ok := imageTypes[detected.String()]
	if !ok {
		return "", unsupported
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", apperr.Internal(err, "server error while reading the files")
	}
	if err := thumbnail.CheckDimensions(f); err != nil {
		if errors.Is(err, thumbnail.ErrTooLarge) {
			return "", apperr.Validation(fmt.Sprintf("image too large: at most %d pixels allowed", thumbnail.MaxPixels))
		}
		return "", unsupported
	}
	return ext, nil
}

func (s *Service) Get(ctx context.Context, id uint) (*models.Profile, error) {
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperr.NotFound("profile not found")
		}
		return nil, apperr.Internal(err, "server error")
	}
	return p, nil
}

func (s *Service) List(ctx context.Context) ([]models.Profile, error) {
	items, err := s.repo.List(ctx)
	if err != nil {
		return nil, apperr.Internal(err, "server error")
	}
	return items, nil
}

// Delete removes the profile's files and then its row in one transaction. When a
// file cannot be removed the row is kept, so the call can simply be retried.
func (s *Service) Delete(ctx context.Context, id uint) error {
	var marked []string
	err := s.repo.Transaction(ctx, func(tx *Repository) error {
		p, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		for _, name := range p.Files() {
			s.markDeleting(name)
			marked = append(marked, name)
			if err := s.store.Delete(ctx, name); err != nil {
				return fmt.Errorf("delete file %s: %w", name, err)
			}
		}
		return tx.Delete(ctx, id)
	})
	if err != nil {
		for _, name := range marked {
			s.deleting.Delete(name)
		}
	}
	switch {
	case err == nil:
		s.log.Info("profile deleted", zap.Uint("id", id))
		return nil
	case errors.Is(err, ErrNotFound):
		return apperr.NotFound("profile not found")
	default:
		return apperr.Internal(err, "server error while deleting the profile")
	}
}

// OpenArchive opens both files of a profile for the archive builder.
func (s *Service) OpenArchive(ctx context.Context, id uint) (*models.Profile, archive.Entries, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	entries, err := archive.Open(ctx, s.store, p.Files()...)
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			return nil, nil, apperr.NotFound("profile files not found")
		}
		return nil, nil, apperr.Internal(err, "server error while reading the files")
	}
	return p, entries, nil
}

// ProfileForFile finds the profile still referencing a stored file, or nil.
func (s *Service) ProfileForFile(ctx context.Context, name string) (*models.Profile, error) {
	p, err := s.repo.FindByFile(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return p, err
}

// RecentlyDeleted reports whether name was removed by Delete within the grace period.
func (s *Service) RecentlyDeleted(name string) bool {
	v, ok := s.deleting.Load(name)
	return ok && time.Since(v.(time.Time)) < deleteGrace
}

func (s *Service) markDeleting(name string) {
	now := time.Now()
	s.deleting.Range(func(k, v any) bool {
		if now.Sub(v.(time.Time)) >= deleteGrace {
			s.deleting.Delete(k)
		}
		return true
	})
	s.deleting.Store(name, now)
}
