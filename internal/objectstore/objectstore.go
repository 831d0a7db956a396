// Package objectstore keeps uploaded import files. Names are slash
// separated keys such as "imports/<batch_id>/<file>".
package objectstore

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/blnkfinance/intake/config"
	"github.com/pkg/errors"
)

// ErrObjectNotFound is returned by Download when name was never uploaded.
var ErrObjectNotFound = errors.New("object not found")

// Store is the durable file store used for uploaded imports.
type Store interface {
	Upload(ctx context.Context, name string, data []byte) error
	Download(ctx context.Context, name string) ([]byte, error)
}

// New returns the store selected by cfg.Driver.
func New(cfg config.ObjectStoreConfig) (Store, error) {
	switch cfg.Driver {
	case config.StoreS3:
		return NewS3Store(S3Config{
			Bucket:          cfg.Bucket,
			Region:          cfg.Region,
			Endpoint:        cfg.Endpoint,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
		})
	case config.StoreDisk, "":
		dir := cfg.Dir
		if dir == "" {
			dir = config.DEFAULT_STORE_DIR
		}
		return NewDiskStore(dir)
	default:
		return nil, errors.Errorf("unsupported object store driver %q", cfg.Driver)
	}
}

// cleanKey rejects empty, absolute and parent-escaping names.
func cleanKey(name string) (string, error) {
	key := path.Clean(strings.TrimSpace(strings.ReplaceAll(name, "\\", "/")))
	if key == "." || key == "" || strings.HasPrefix(key, "/") || key == ".." || strings.HasPrefix(key, "../") {
		return "", errors.Errorf("invalid object name %q", name)
	}
	return key, nil
}

// DiskStore stores objects as files below a root directory.
type DiskStore struct {
	root string
}

func NewDiskStore(root string) (*DiskStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating object store dir %s", root)
	}
	return &DiskStore{root: root}, nil
}

func (d *DiskStore) Upload(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := cleanKey(name)
	if err != nil {
		return err
	}

	target := filepath.Join(d.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return errors.Wrapf(err, "creating directory for %s", key)
	}

	tmp := target + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrapf(err, "writing %s", key)
	}
	return errors.Wrapf(os.Rename(tmp, target), "committing %s", key)
}

func (d *DiskStore) Download(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key, err := cleanKey(name)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(d.root, filepath.FromSlash(key)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, errors.Wrap(ErrObjectNotFound, key)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", key)
	}
	return data, nil
}
