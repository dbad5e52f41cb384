// Package localfs implements media.StorageProvider on a local directory.
// Every key resolves to <root>/<key>; keys that would leave the root are
// rejected.
package localfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/memohai/wagate/internal/media"
)

// Provider stores media files below a single root directory.
type Provider struct {
	root string
}

// New creates a provider rooted at root and makes sure the directory exists.
func New(root string) (*Provider, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("media root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve media root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create media root: %w", err)
	}
	return &Provider{root: abs}, nil
}

// Root returns the absolute media root.
func (p *Provider) Root() string {
	return p.root
}

// Put writes the object through a temporary file so readers never observe a
// partially written original.
func (p *Provider) Put(_ context.Context, key string, reader io.Reader) error {
	dest, err := p.Path(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err = io.Copy(tmp, reader); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}
	if err = os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod file: %w", err)
	}
	if err = os.Rename(tmpName, dest); err != nil {
		return fmt.Errorf("rename file: %w", err)
	}
	return nil
}

// Open reads a stored object. A missing file yields media.ErrAssetNotFound.
func (p *Provider) Open(_ context.Context, key string) (io.ReadCloser, error) {
	dest, err := p.Path(key)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(dest)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", media.ErrAssetNotFound, key)
		}
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s", media.ErrAssetNotFound, key)
	}
	f, err := os.Open(dest)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	return f, nil
}

// Delete removes a stored object. Deleting a missing object is not an error.
func (p *Provider) Delete(_ context.Context, key string) error {
	dest, err := p.Path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

// Path converts a storage key into an absolute file path below the root.
func (p *Provider) Path(key string) (string, error) {
	clean, err := media.CleanKey(key)
	if err != nil {
		return "", err
	}
	joined := filepath.Join(p.root, filepath.FromSlash(clean))
	if !strings.HasPrefix(joined, p.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", media.ErrPathTraversal, key)
	}
	return joined, nil
}
