package localfs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// Store is a local-directory blob store. Each blob is a file under the
// root; a sidecar <name>.meta file carries content type and etag. Puts go
// through a temp file plus rename so readers never observe partial objects.
type Store struct {
	root   string
	logger arbor.ILogger
}

type blobMeta struct {
	ContentType string `json:"content_type"`
	ETag        string `json:"etag"`
}

// Compile-time interface assertion
var _ interfaces.BlobStore = (*Store)(nil)

// NewStore creates a local filesystem blob store rooted at root
func NewStore(root string, logger arbor.ILogger) (*Store, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blob root: %w", err)
	}
	logger.Debug().Str("root", root).Msg("Local blob store initialized")
	return &Store{root: root, logger: logger}, nil
}

func (s *Store) pathFor(key string) (string, error) {
	clean := filepath.Clean(strings.ReplaceAll(key, "/", string(filepath.Separator)))
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", models.NewPipelineError(models.ErrKindStoragePermanent, "storage", fmt.Sprintf("invalid key %q", key), nil)
	}
	return filepath.Join(s.root, clean), nil
}

// Put stores content atomically via temp file and rename
func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path, err := s.pathFor(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", s.wrap("put", key, err)
	}

	sum := sha256.Sum256(data)
	etag := hex.EncodeToString(sum[:16])

	tmp, err := os.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		return "", s.wrap("put", key, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", s.wrap("put", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", s.wrap("put", key, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", s.wrap("put", key, err)
	}

	meta, _ := json.Marshal(blobMeta{ContentType: contentType, ETag: etag})
	if err := os.WriteFile(path+".meta", meta, 0644); err != nil {
		return "", s.wrap("put", key, err)
	}

	s.logger.Trace().Str("key", key).Int("size", len(data)).Msg("Blob stored")
	return etag, nil
}

// Get returns the blob content and content type for key
func (s *Store) Get(ctx context.Context, key string) ([]byte, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	path, err := s.pathFor(key)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", fmt.Errorf("blob %s: %w", key, models.ErrNotFound)
		}
		return nil, "", s.wrap("get", key, err)
	}

	contentType := "application/octet-stream"
	if metaBytes, err := os.ReadFile(path + ".meta"); err == nil {
		var meta blobMeta
		if json.Unmarshal(metaBytes, &meta) == nil && meta.ContentType != "" {
			contentType = meta.ContentType
		}
	}
	return data, contentType, nil
}

// List returns all keys under prefix in lexical order
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var keys []string
	err := filepath.Walk(s.root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".meta") || strings.HasPrefix(filepath.Base(path), ".put-") {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return nil
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, s.wrap("list", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete removes the blob and its sidecar. Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return s.wrap("delete", key, err)
	}
	os.Remove(path + ".meta")
	return nil
}

// Exists reports whether key holds a blob
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	path, err := s.pathFor(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, s.wrap("exists", key, err)
	}
	return true, nil
}

// Close is a no-op for the filesystem backend
func (s *Store) Close() error {
	return nil
}

func (s *Store) wrap(op, key string, err error) error {
	return models.NewPipelineError(models.ErrKindStoragePermanent, "storage",
		fmt.Sprintf("local %s failed for %s", op, key), err)
}
