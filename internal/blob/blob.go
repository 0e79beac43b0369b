// Package blob stores fetched raw content on disk, addressed by content
// hash. Derived thumbnails live in a sibling namespace keyed by the same
// hash so garbage collection can remove both with one reference.
package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	rawPrefix   = "sha256/"
	thumbPrefix = "thumbs/"
)

// Store is the blob storage contract used by the fetch agent, the
// thumbnail agent, and the garbage collector.
type Store interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
	Exists(ctx context.Context, ref string) (bool, error)
	Delete(ctx context.Context, ref string) error
	PutThumbnail(ctx context.Context, rawRef string, data []byte) (string, error)
}

// ThumbnailRef derives the thumbnail sibling ref for a raw content ref.
func ThumbnailRef(rawRef string) (string, error) {
	hash, ok := strings.CutPrefix(rawRef, rawPrefix)
	if !ok || hash == "" {
		return "", fmt.Errorf("not a raw content ref: %q", rawRef)
	}
	return thumbPrefix + hash, nil
}

// DiskStore implements Store on the local filesystem.
type DiskStore struct {
	root string
}

// NewDiskStore creates the backing directories under root.
func NewDiskStore(root string) (*DiskStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("blob root directory is required")
	}
	for _, dir := range []string{rawPrefix, thumbPrefix} {
		if err := os.MkdirAll(filepath.Join(root, filepath.FromSlash(dir)), 0o755); err != nil {
			return nil, fmt.Errorf("create blob dir: %w", err)
		}
	}
	return &DiskStore{root: root}, nil
}

// Put writes data under its sha256 hash and returns the ref. Writing the
// same content twice yields the same ref.
func (s *DiskStore) Put(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	ref := rawPrefix + hex.EncodeToString(sum[:])
	if err := s.write(ref, data); err != nil {
		return "", err
	}
	return ref, nil
}

// Get reads the content for a ref.
func (s *DiskStore) Get(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.refPath(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", ref, err)
	}
	return data, nil
}

// Exists reports whether a ref is present.
func (s *DiskStore) Exists(ctx context.Context, ref string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	path, err := s.refPath(ref)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat blob %s: %w", ref, err)
	}
	return true, nil
}

// Delete removes a ref. Deleting a raw ref also removes its thumbnail
// sibling when one exists. Missing blobs are not an error.
func (s *DiskStore) Delete(ctx context.Context, ref string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.refPath(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete blob %s: %w", ref, err)
	}
	if thumbRef, err := ThumbnailRef(ref); err == nil {
		thumbPath, err := s.refPath(thumbRef)
		if err != nil {
			return err
		}
		if err := os.Remove(thumbPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("delete thumbnail %s: %w", thumbRef, err)
		}
	}
	return nil
}

// PutThumbnail stores thumbnail bytes in the sibling namespace of a raw ref.
func (s *DiskStore) PutThumbnail(ctx context.Context, rawRef string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ref, err := ThumbnailRef(rawRef)
	if err != nil {
		return "", err
	}
	if err := s.write(ref, data); err != nil {
		return "", err
	}
	return ref, nil
}

func (s *DiskStore) write(ref string, data []byte) error {
	path, err := s.refPath(ref)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write blob %s: %w", ref, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("finalize blob %s: %w", ref, err)
	}
	return nil
}

func (s *DiskStore) refPath(ref string) (string, error) {
	hash := ""
	switch {
	case strings.HasPrefix(ref, rawPrefix):
		hash = strings.TrimPrefix(ref, rawPrefix)
	case strings.HasPrefix(ref, thumbPrefix):
		hash = strings.TrimPrefix(ref, thumbPrefix)
	default:
		return "", fmt.Errorf("unknown blob ref %q", ref)
	}
	if hash == "" || strings.ContainsAny(hash, "/\\.") {
		return "", fmt.Errorf("malformed blob ref %q", ref)
	}
	prefix := rawPrefix
	if strings.HasPrefix(ref, thumbPrefix) {
		prefix = thumbPrefix
	}
	return filepath.Join(s.root, filepath.FromSlash(prefix), hash), nil
}
