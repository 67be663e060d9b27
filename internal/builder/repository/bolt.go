package repository

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// ============================================================
// Bolt Repository
// ============================================================

const bucketDocuments = "documents"

type Bolt struct {
	db *bolt.DB
}

// OpenBolt открывает (или создаёт) файл bbolt и бакет документов.
func OpenBolt(path string) (*Bolt, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketDocuments))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init bolt: %w", err)
	}
	return &Bolt{db: db}, nil
}

func (r *Bolt) Load(_ context.Context, key string) ([]byte, error) {
	var body []byte
	err := r.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketDocuments)).Get([]byte(key))
		if v == nil {
			return fmt.Errorf("%w: %s", ErrDocumentNotFound, key)
		}
		// значение живёт только внутри транзакции
		body = append([]byte(nil), v...)
		return nil
	})
	return body, err
}

func (r *Bolt) Save(_ context.Context, key string, body []byte) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketDocuments)).Put([]byte(key), body)
	})
}

func (r *Bolt) Ping(context.Context) error {
	return r.db.View(func(tx *bolt.Tx) error { return nil })
}

func (r *Bolt) Close() error {
	return r.db.Close()
}
