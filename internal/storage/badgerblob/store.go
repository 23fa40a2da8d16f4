package badgerblob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// Store is an embedded blob store backed by BadgerDB. Badger transactions
// give the same atomic-put contract as the other backends without a
// separate server process. Blob bytes live under "b:<key>", the content
// type and etag under "m:<key>".
type Store struct {
	db     *badger.DB
	logger arbor.ILogger
}

type blobMeta struct {
	ContentType string `json:"content_type"`
	ETag        string `json:"etag"`
}

// Compile-time interface assertion
var _ interfaces.BlobStore = (*Store)(nil)

// NewStore opens a badger-backed blob store at the configured path
func NewStore(config *common.BadgerConfig, logger arbor.ILogger) (*Store, error) {
	if config.ResetOnStartup {
		if _, err := os.Stat(config.Path); err == nil {
			logger.Debug().Str("path", config.Path).Msg("Deleting existing database (reset_on_startup=true)")
			if err := os.RemoveAll(config.Path); err != nil {
				logger.Warn().Err(err).Str("path", config.Path).Msg("Failed to delete database directory")
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	options := badger.DefaultOptions(config.Path)
	options.Logger = nil // Disable default badger logger to use arbor

	db, err := badger.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	logger.Debug().Str("path", config.Path).Msg("Badger blob store initialized")
	return &Store{db: db, logger: logger}, nil
}

func dataKey(key string) []byte { return []byte("b:" + key) }
func metaKey(key string) []byte { return []byte("m:" + key) }

// Put stores content and metadata in one transaction
func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	etag := hex.EncodeToString(sum[:16])
	meta, _ := json.Marshal(blobMeta{ContentType: contentType, ETag: etag})

	err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(dataKey(key), data); err != nil {
			return err
		}
		return txn.Set(metaKey(key), meta)
	})
	if err != nil {
		return "", wrap("put", key, err)
	}
	return etag, nil
}

// Get reads the content and content type stored under key
func (s *Store) Get(ctx context.Context, key string) ([]byte, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	var data []byte
	contentType := "application/octet-stream"

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(dataKey(key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if metaItem, err := txn.Get(metaKey(key)); err == nil {
			metaBytes, err := metaItem.ValueCopy(nil)
			if err == nil {
				var meta blobMeta
				if json.Unmarshal(metaBytes, &meta) == nil && meta.ContentType != "" {
					contentType = meta.ContentType
				}
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, "", fmt.Errorf("blob %s: %w", key, models.ErrNotFound)
		}
		return nil, "", wrap("get", key, err)
	}
	return data, contentType, nil
}

// List iterates keys with the given prefix in lexical order
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = dataKey(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			k := string(it.Item().Key())
			keys = append(keys, strings.TrimPrefix(k, "b:"))
		}
		return nil
	})
	if err != nil {
		return nil, wrap("list", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete removes the blob and its metadata. Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(dataKey(key)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Delete(metaKey(key)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return nil
	})
	if err != nil {
		return wrap("delete", key, err)
	}
	return nil
}

// Exists reports whether key holds a blob
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	exists := false
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(dataKey(key))
		if err == nil {
			exists = true
			return nil
		}
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return false, wrap("exists", key, err)
	}
	return exists, nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

func wrap(op, key string, err error) error {
	kind := models.ErrKindStoragePermanent
	if errors.Is(err, badger.ErrConflict) {
		kind = models.ErrKindStorageTransient
	}
	return models.NewPipelineError(kind, "storage", fmt.Sprintf("badger %s failed for %s", op, key), err)
}
