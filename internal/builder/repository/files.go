package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ============================================================
// File Storage
// ============================================================

// FileStorage хранит каждый документ отдельным JSON файлом в root.
type FileStorage struct {
	root string
}

func NewFileStorage(root string) *FileStorage {
	return &FileStorage{root: root}
}

func (s *FileStorage) DocumentPath(key string) string {
	safe := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(key)
	return filepath.Join(s.root, safe+".json")
}

func (s *FileStorage) EnsureDir() error {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("mkdir documents dir: %w", err)
	}
	return nil
}

func (s *FileStorage) Load(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.DocumentPath(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, key)
	}
	return data, err
}

// Save пишет во временный файл и переименовывает, чтобы читатель не увидел
// наполовину записанный документ.
func (s *FileStorage) Save(_ context.Context, key string, body []byte) error {
	if err := s.EnsureDir(); err != nil {
		return err
	}
	target := s.DocumentPath(key)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("rename %s: %w", key, err)
	}
	return nil
}

func (s *FileStorage) Ping(context.Context) error {
	return s.EnsureDir()
}

func (s *FileStorage) Close() error {
	return nil
}
