package models

import "strings"

// ContactType is the closed set of contact kinds a profile can link to.
type ContactType string

const (
	ContactInstagram ContactType = "instagram"
	ContactSnapchat  ContactType = "snapchat"
	ContactPhone     ContactType = "phone"
	ContactEmail     ContactType = "email"
	ContactLink      ContactType = "link"
)

// ContactTypes lists every accepted contact type in display order.
var ContactTypes = []ContactType{ContactInstagram, ContactSnapchat, ContactPhone, ContactEmail, ContactLink}

// Valid reports whether t is empty or one of ContactTypes.
func (t ContactType) Valid() bool {
	if t == "" {
		return true
	}
	for _, known := range ContactTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Href builds the link target for value. An empty or unknown type returns value as is.
func (t ContactType) Href(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	switch t {
	case ContactInstagram:
		return "https://instagram.com/" + strings.TrimPrefix(value, "@")
	case ContactSnapchat:
		return "https://www.snapchat.com/add/" + strings.TrimPrefix(value, "@")
	case ContactPhone:
		return "tel:" + strings.ReplaceAll(value, " ", "")
	case ContactEmail:
		return "mailto:" + value
	case ContactLink:
		if strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://") {
			return value
		}
		return "https://" + value
	}
	return value
}
