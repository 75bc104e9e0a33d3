package identity

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

const (
	usersDocument  = "users.json"
	groupsDocument = "groupchats.json"
)

// Snapshot is the content of a collection at one revision. Revision is empty
// when the document did not exist at read time.
type Snapshot[T any] struct {
	Revision string
	Items    []T
}

// Store is the read-all / write-all contract of the Identity Store. Writes
// carry the revision they were derived from and fail with ErrConflict when
// the collection has moved on.
type Store interface {
	ReadUsers(ctx context.Context) (Snapshot[User], error)
	WriteUsers(ctx context.Context, revision string, users []User) error
	ReadGroups(ctx context.Context) (Snapshot[GroupChat], error)
	WriteGroups(ctx context.Context, revision string, groups []GroupChat) error
}

// Revision fingerprints a document body.
func Revision(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DocumentStore implements Store on top of a DocumentClient. Both collections
// live in the same folder as individual JSON array documents.
type DocumentStore struct {
	docs   DocumentClient
	folder string
	logger *zap.Logger
}

// NewDocumentStore wraps docs. folder is where users.json and groupchats.json live.
func NewDocumentStore(docs DocumentClient, folder string, logger *zap.Logger) *DocumentStore {
	if folder == "" {
		folder = "others"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentStore{docs: docs, folder: folder, logger: logger.Named("identity")}
}

// Documents exposes the underlying document client for other collections.
func (s *DocumentStore) Documents() DocumentClient {
	return s.docs
}

func (s *DocumentStore) ReadUsers(ctx context.Context) (Snapshot[User], error) {
	return readCollection[User](ctx, s, usersDocument)
}

func (s *DocumentStore) WriteUsers(ctx context.Context, revision string, users []User) error {
	return writeCollection(ctx, s, usersDocument, revision, users)
}

func (s *DocumentStore) ReadGroups(ctx context.Context) (Snapshot[GroupChat], error) {
	return readCollection[GroupChat](ctx, s, groupsDocument)
}

func (s *DocumentStore) WriteGroups(ctx context.Context, revision string, groups []GroupChat) error {
	return writeCollection(ctx, s, groupsDocument, revision, groups)
}

func readCollection[T any](ctx context.Context, s *DocumentStore, name string) (Snapshot[T], error) {
	data, err := s.docs.Get(ctx, s.folder, name)
	if errors.Is(err, ErrNotFound) {
		return Snapshot[T]{}, nil
	}
	if err != nil {
		s.logger.Error("collection_read_failed", zap.String("document", name), zap.Error(err))
		return Snapshot[T]{}, fmt.Errorf("read %s: %w", name, err)
	}

	var items []T
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &items); err != nil {
			return Snapshot[T]{}, fmt.Errorf("decode %s: %w", name, err)
		}
	}
	return Snapshot[T]{Revision: Revision(data), Items: items}, nil
}

func writeCollection[T any](ctx context.Context, s *DocumentStore, name, revision string, items []T) error {
	if items == nil {
		items = []T{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}

	if cmp, ok := s.docs.(ComparingDocumentClient); ok {
		if err := cmp.CompareAndPut(ctx, s.folder, name, revision, data); err != nil {
			return s.writeFailed(name, err)
		}
		return nil
	}

	// The remote store has no conditional write; re-read right before the
	// write to narrow the window in which a concurrent writer is lost.
	current, err := s.docs.Get(ctx, s.folder, name)
	currentRev := ""
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return s.writeFailed(name, err)
	default:
		currentRev = Revision(current)
	}
	if currentRev != revision {
		return s.writeFailed(name, ErrConflict)
	}
	if err := s.docs.Put(ctx, s.folder, name, data); err != nil {
		return s.writeFailed(name, err)
	}
	return nil
}

func (s *DocumentStore) writeFailed(name string, err error) error {
	if errors.Is(err, ErrConflict) {
		s.logger.Info("store_conflict", zap.String("document", name))
		return ErrConflict
	}
	s.logger.Error("collection_write_failed", zap.String("document", name), zap.Error(err))
	return fmt.Errorf("write %s: %w", name, err)
}

// FindUser returns the user with the given id.
func FindUser(users []User, id string) (int, bool) {
	for i := range users {
		if users[i].ID == id {
			return i, true
		}
	}
	return -1, false
}

// FindUsername returns the user with the given username, compared case-insensitively.
func FindUsername(users []User, username string) (int, bool) {
	for i := range users {
		if strings.EqualFold(users[i].Username, username) {
			return i, true
		}
	}
	return -1, false
}

// FindGroup returns the group with the given id.
func FindGroup(groups []GroupChat, id string) (int, bool) {
	for i := range groups {
		if groups[i].ID == id {
			return i, true
		}
	}
	return -1, false
}

// NewMemoryStore returns a DocumentStore backed by in-memory documents.
func NewMemoryStore(logger *zap.Logger) *DocumentStore {
	return NewDocumentStore(NewMemoryDocuments(), "others", logger)
}

// Seed replaces the users document. It is meant for tests and local development.
func (s *DocumentStore) Seed(ctx context.Context, users []User, groups []GroupChat) error {
	encodedUsers, err := json.Marshal(users)
	if err != nil {
		return err
	}
	if err := s.docs.Put(ctx, s.folder, usersDocument, encodedUsers); err != nil {
		return err
	}
	if groups == nil {
		return nil
	}
	encodedGroups, err := json.Marshal(groups)
	if err != nil {
		return err
	}
	return s.docs.Put(ctx, s.folder, groupsDocument, encodedGroups)
}
