// Package store persists small durable records (account sessions, deletion log entries,
// DRM activations) in an embedded Badger database.
package store

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/listenupapp/listenup-sync/internal/domain"
)

// Key prefixes.
const (
	prefixAccount  = "account:"
	prefixDeletion = "deletion:"
	prefixDRM      = "drm:"
)

// AccountRecord is the persisted state of one library account's session.
type AccountRecord struct {
	LibraryID string           `json:"library_id"`
	AuthState domain.AuthState `json:"auth_state"`

	// Credentials holds the output of domain.MarshalCredentials.
	Credentials []byte `json:"credentials,omitempty"`
	// Cookies are IdP session cookies kept next to a token after SAML sign-in.
	Cookies []domain.Cookie `json:"cookies,omitempty"`

	DRM                     *domain.DRMIdentity `json:"drm,omitempty"`
	PatronInfo              []byte              `json:"patron_info,omitempty"`
	AuthorizationIdentifier string              `json:"authorization_identifier,omitempty"`
	SyncPermission          *bool               `json:"sync_permission,omitempty"`
	AnnotationsURL          string              `json:"annotations_url,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// DeletionRecord lists the annotation IDs the user deleted for one book of one library.
type DeletionRecord struct {
	LibraryID     string    `json:"library_id,omitempty"`
	BookID        string    `json:"book_id"`
	AnnotationIDs []string  `json:"annotation_ids,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ActivationRecord is a DRM device activation kept by the local authorizer.
type ActivationRecord struct {
	DeviceID    string    `json:"device_id"`
	UserID      string    `json:"user_id"`
	Vendor      string    `json:"vendor"`
	AccountID   string    `json:"account_id"`
	ActivatedAt time.Time `json:"activated_at"`
}

// Store wraps a Badger database instance.
type Store struct {
	db     *badger.DB
	logger *slog.Logger

	Accounts  *Entity[AccountRecord]
	Deletions *Entity[DeletionRecord]
	DRM       *Entity[ActivationRecord]
}

// New opens (or creates) the database at path.
func New(path string, logger *slog.Logger) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil            // Disable Badger's internal logging
	opts.SyncWrites = true       // Credentials and deletions must survive a crash right after the write
	opts.CompactL0OnClose = true // Compact L0 tables on close for faster startup

	return open(opts, logger, path)
}

// NewInMemory opens a non-persistent database. Used by tests and dry runs.
func NewInMemory(logger *slog.Logger) (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	return open(opts, logger, ":memory:")
}

func open(opts badger.Options, logger *slog.Logger, path string) (*Store, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	s := &Store{db: db, logger: logger}
	s.Accounts = NewEntity[AccountRecord](s, prefixAccount)
	s.Deletions = NewEntity[DeletionRecord](s, prefixDeletion)
	s.DRM = NewEntity[ActivationRecord](s, prefixDRM)

	if logger != nil {
		logger.Info("Badger database opened", "path", path)
	}
	return s, nil
}

// Close gracefully closes the database connection.
func (s *Store) Close() error {
	if s.logger != nil {
		s.logger.Info("Closing badger database")
	}
	return s.db.Close()
}
