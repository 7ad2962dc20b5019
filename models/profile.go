package models

import "time"

// Profile is one uploaded logo + QR code pair with an optional contact reference.
// LogoPath and QRPath are file names inside the file store, not URLs.
type Profile struct {
	ID           uint        `gorm:"primaryKey" json:"id"`
	CreatedAt    time.Time   `gorm:"index" json:"created_at"`
	LogoPath     string      `gorm:"column:logo_path;size:255;not null" json:"logo_path"`
	QRPath       string      `gorm:"column:qr_path;size:255;not null" json:"qr_path"`
	ContactType  ContactType `gorm:"column:contact_type;size:32" json:"contact_type,omitempty"`
	ContactValue string      `gorm:"column:contact_value;size:512" json:"contact_value,omitempty"`
}

// TableName keeps the table name used by the existing deployments.
func (Profile) TableName() string {
	return "profils"
}

// Files returns the stored file names referenced by the profile, logo first.
func (p Profile) Files() []string {
	return []string{p.LogoPath, p.QRPath}
}

// HasContact reports whether a contact link can be rendered for the profile.
func (p Profile) HasContact() bool {
	return p.ContactValue != ""
}

// ContactHref is the link target for the profile's contact value.
func (p Profile) ContactHref() string {
	return p.ContactType.Href(p.ContactValue)
}
