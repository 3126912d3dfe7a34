package domain

import (
	"time"
)

// Metadata is the authoritative lifecycle record of a paste. It lives in the
// durable store; the encrypted payload lives separately and is expendable.
type Metadata struct {
	ID          string      `json:"id"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	ExpiresAt   *time.Time  `json:"expires_at,omitempty"`
	MaxViews    *int        `json:"max_views,omitempty"`
	ViewCount   int         `json:"view_count"`
	Burned      bool        `json:"burned"`
	HasPassword bool        `json:"has_password"`
	TokenDigest string      `json:"-"`
	Display     DisplayMeta `json:"display"`
}

// Payload holds the client-encrypted blob. All fields are URL-safe base64
// text and are never inspected or transformed by the server.
type Payload struct {
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
	AuthTag    string `json:"auth_tag"`
	Salt       string `json:"salt,omitempty"`
}

// DisplayMeta is free-form presentation metadata, opaque to lifecycle logic.
type DisplayMeta struct {
	Language string   `json:"language,omitempty"`
	Title    string   `json:"title,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

type CreateParams struct {
	Payload     Payload
	Policy      Policy
	Duration    time.Duration
	MaxViews    int
	HasPassword bool
	Display     DisplayMeta
}

type CreateResult struct {
	ID            string
	ExpiresAt     *time.Time
	MaxViews      *int
	DeletionToken string
}

// ConsumeResult is the full response of a successful read: the payload plus
// a metadata snapshot where ViewCount reflects the value after this read.
type ConsumeResult struct {
	Payload     Payload
	CreatedAt   time.Time
	ExpiresAt   *time.Time
	ViewCount   int
	MaxViews    *int
	HasPassword bool
	Display     DisplayMeta
	WillBurn    bool
}

// Expired reports whether the paste is no longer servable: burned, past its
// absolute expiry, or at its view limit. Shared by Consume and the sweep.
func (m *Metadata) Expired(now time.Time) bool {
	if m.Burned {
		return true
	}
	if m.ExpiresAt != nil && now.After(*m.ExpiresAt) {
		return true
	}
	if m.MaxViews != nil && m.ViewCount >= *m.MaxViews {
		return true
	}
	return false
}

// Revocable reports whether a deletion token was issued for this paste.
func (m *Metadata) Revocable() bool {
	return m.TokenDigest != ""
}
