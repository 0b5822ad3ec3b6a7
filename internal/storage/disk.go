// ABOUTME: Disk-backed blob store with token-guarded uploads
// ABOUTME: Objects live under root/room-<roomId>/ and are served at /audio/
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	blog "github.com/beatsync/beatsync-go/internal/log"
)

const (
	// PublicPathPrefix is where httpapi serves stored objects from.
	PublicPathPrefix = "/audio/"
	// UploadPathPrefix is where httpapi accepts token-guarded PUTs.
	UploadPathPrefix = "/upload/direct/"

	tokenTTL = 15 * time.Minute
)

// DiskStore keeps blobs on the local filesystem. Upload URLs are one-time
// tokens resolved back to an object key when the PUT arrives, which mirrors
// the presigned-URL flow of a real object store.
type DiskStore struct {
	root string
	log  zerolog.Logger

	mu      sync.Mutex
	pending map[string]pendingUpload
}

type pendingUpload struct {
	key     string
	expires time.Time
}

// NewDiskStore creates the store rooted at dir.
func NewDiskStore(dir string) (*DiskStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("blob root directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob directory: %w", err)
	}
	return &DiskStore{
		root:    dir,
		log:     blog.WithComponent("storage"),
		pending: make(map[string]pendingUpload),
	}, nil
}

// Root returns the directory objects are stored under, for static serving.
func (s *DiskStore) Root() string {
	return s.root
}

// PresignUpload mints a one-time token for a room-scoped object key.
func (s *DiskStore) PresignUpload(roomID, fileName string) (UploadTarget, error) {
	name := sanitizeFileName(fileName)
	if name == "" {
		return UploadTarget{}, fmt.Errorf("invalid file name %q", fileName)
	}
	key := path.Join("room-"+roomID, uuid.NewString()+"-"+name)
	token := uuid.NewString()

	s.mu.Lock()
	s.gcLocked()
	s.pending[token] = pendingUpload{key: key, expires: time.Now().Add(tokenTTL)}
	s.mu.Unlock()

	return UploadTarget{
		UploadURL: UploadPathPrefix + token,
		PublicURL: PublicPathPrefix + key,
	}, nil
}

// Put consumes token and writes the object via a temp file + rename so a
// partially uploaded blob is never visible.
func (s *DiskStore) Put(ctx context.Context, token string, r io.Reader) (string, error) {
	s.mu.Lock()
	up, ok := s.pending[token]
	if ok {
		delete(s.pending, token)
	}
	s.mu.Unlock()
	if !ok || time.Now().After(up.expires) {
		return "", fmt.Errorf("unknown or expired upload token")
	}

	finalPath := filepath.Join(s.root, filepath.FromSlash(up.key))
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return "", fmt.Errorf("create object directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(finalPath), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp object: %w", err)
	}
	tmpPath := tmp.Name()

	size, copyErr := io.Copy(tmp, r)
	closeErr := tmp.Close()
	if copyErr != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("write object bytes: %w", copyErr)
	}
	if closeErr != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("close object file: %w", closeErr)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("move object into place: %w", err)
	}

	s.log.Info().Str("key", up.key).Int64("size", size).Msg("object stored")
	return PublicPathPrefix + up.key, nil
}

// Owns reports whether url is a room-scoped object of this store.
func (s *DiskStore) Owns(roomID, url string) bool {
	return strings.Contains(url, "/room-"+roomID+"/")
}

// Delete removes one object by public URL. Missing objects are not an error.
func (s *DiskStore) Delete(_ context.Context, url string) error {
	key, ok := keyFromURL(url)
	if !ok {
		return fmt.Errorf("url %q is not a stored object", url)
	}
	err := os.Remove(filepath.Join(s.root, filepath.FromSlash(key)))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

// DeletePrefix removes everything under a key prefix (a room's objects).
func (s *DiskStore) DeletePrefix(_ context.Context, prefix string) error {
	prefix = path.Clean("/" + prefix)[1:] // strip any traversal
	if prefix == "" || prefix == "." {
		return fmt.Errorf("empty prefix")
	}
	if err := os.RemoveAll(filepath.Join(s.root, filepath.FromSlash(prefix))); err != nil {
		return fmt.Errorf("delete prefix %s: %w", prefix, err)
	}
	s.log.Info().Str("prefix", prefix).Msg("prefix deleted")
	return nil
}

// keyFromURL extracts the object key from a public URL, absolute or relative.
func keyFromURL(url string) (string, bool) {
	idx := strings.Index(url, PublicPathPrefix)
	if idx < 0 {
		return "", false
	}
	key := url[idx+len(PublicPathPrefix):]
	if key == "" || strings.Contains(key, "..") {
		return "", false
	}
	return key, true
}

func sanitizeFileName(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == string(filepath.Separator) {
		return ""
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}

// gcLocked drops expired tokens; callers hold mu.
func (s *DiskStore) gcLocked() {
	now := time.Now()
	for token, up := range s.pending {
		if now.After(up.expires) {
			delete(s.pending, token)
		}
	}
}
