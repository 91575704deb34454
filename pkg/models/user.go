package models

import "time"

// User is a subject who owns a vault.
type User struct {
	UserID       string
	Email        string
	Fullname     string
	Phone        string
	PasswordHash string
	CreatedAt    time.Time
	LastLogin    *time.Time
}

// VaultRecord holds a subject's encrypted data. One record per user.
//
// Documents maps a document type to an opaque blob-store locator; the
// stored blob is already buffer-envelope encrypted. PersonalData maps a
// personal-data field to a string-envelope ciphertext, each entry
// independently decryptable.
type VaultRecord struct {
	UserID       string
	Documents    map[string]string
	PersonalData map[string]string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
