package core

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path/filepath"
)

// PhotoStore persists photo blobs by key.
type PhotoStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// Get returns ErrPhotoNotFound when key is absent.
	Get(ctx context.Context, key string) ([]byte, string, error)
	Delete(ctx context.Context, key string) error
}

// NewPhotoStore builds the store selected by cfg.PhotoStorage.
func NewPhotoStore(ctx context.Context, cfg Config) (PhotoStore, error) {
	switch cfg.PhotoStorage {
	case "", "fs":
		return NewFSPhotoStore(cfg.PhotoDir)
	case "s3":
		return NewS3PhotoStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown photo storage %q", cfg.PhotoStorage)
	}
}

// FSPhotoStore keeps photos as files in a single directory.
type FSPhotoStore struct {
	root string
}

func NewFSPhotoStore(root string) (*FSPhotoStore, error) {
	if root == "" {
		root = "uploads"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create photo dir: %w", err)
	}
	return &FSPhotoStore{root: root}, nil
}

func (s *FSPhotoStore) path(key string) (string, error) {
	if key == "" || filepath.Base(key) != key || key == "." || key == ".." {
		return "", fmt.Errorf("invalid photo key %q", key)
	}
	return filepath.Join(s.root, key), nil
}

// Put writes the file once; keys are content addressed so an existing file is kept.
func (s *FSPhotoStore) Put(_ context.Context, key string, data []byte, _ string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil
		}
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(p)
		return err
	}
	return f.Close()
}

func (s *FSPhotoStore) Get(_ context.Context, key string) ([]byte, string, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, "", ErrPhotoNotFound
		}
		return nil, "", err
	}
	ct := mime.TypeByExtension(filepath.Ext(key))
	if ct == "" {
		ct = http.DetectContentType(data)
	}
	return data, ct, nil
}

func (s *FSPhotoStore) Delete(_ context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
