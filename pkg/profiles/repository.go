package profiles

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"logoqr/models"
)

// ErrNotFound is returned when no profile matches.
var ErrNotFound = errors.New("profile not found")

// Repository is the gorm-backed access to the profils table.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, p *models.Profile) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *Repository) Get(ctx context.Context, id uint) (*models.Profile, error) {
	var p models.Profile
	if err := r.db.WithContext(ctx).First(&p, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// List returns every profile, most recent first.
func (r *Repository) List(ctx context.Context) ([]models.Profile, error) {
	var items []models.Profile
	if err := r.db.WithContext(ctx).Order("created_at desc").Order("id desc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// Delete removes the row only; stored files are the caller's concern.
func (r *Repository) Delete(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(&models.Profile{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// FindByFile returns the profile whose logo or QR code is stored under name.
func (r *Repository) FindByFile(ctx context.Context, name string) (*models.Profile, error) {
	var p models.Profile
	err := r.db.WithContext(ctx).
		Where("logo_path = ? OR qr_path = ?", name, name).
		First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// Transaction runs fn against a repository bound to one database transaction.
func (r *Repository) Transaction(ctx context.Context, fn func(tx *Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Repository{db: tx})
	})
}
