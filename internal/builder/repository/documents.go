// Package repository хранит документы реестра виджетов и экземпляров
// компонентов в одном из бэкендов: sqlite, bbolt или каталог с файлами.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"

	"widget-builder/internal/builder/instance"
	"widget-builder/internal/builder/store"
)

// ============================================================
// Errors
// ============================================================

var (
	ErrDocumentNotFound   = errors.New("document not found")
	ErrIncompatibleSchema = errors.New("incompatible schema version")
	ErrUnknownBackend     = errors.New("unknown storage backend")
)

// Ключи документов.
const (
	KeyRegistry  = "widget-registry"
	KeyInstances = "component-instances"
)

// SupportedSchema это диапазон версий документа, которые умеем читать.
const SupportedSchema = "^1.0.0"

// Backend хранит тела документов по ключу.
type Backend interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, body []byte) error
	Ping(ctx context.Context) error
	io.Closer
}

// Open открывает бэкенд по имени из конфига.
func Open(ctx context.Context, kind, dbPath, fileRoot string) (Backend, error) {
	switch kind {
	case "", "sqlite":
		db, err := OpenSQLite(dbPath)
		if err != nil {
			return nil, err
		}
		r := NewSQLite(db)
		if err := r.Init(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return r, nil
	case "bolt":
		return OpenBolt(dbPath)
	case "file":
		s := NewFileStorage(fileRoot)
		if err := s.EnsureDir(); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, kind)
	}
}

// CheckSchema проверяет, что версия документа совместима. Пустая версия
// считается 1.0.0: так выглядят документы, записанные до версионирования.
func CheckSchema(version string) error {
	if version == "" {
		version = store.SchemaVersion
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrIncompatibleSchema, version, err)
	}
	c, err := semver.NewConstraint(SupportedSchema)
	if err != nil {
		return err
	}
	if !c.Check(v) {
		return fmt.Errorf("%w: %s does not satisfy %s", ErrIncompatibleSchema, version, SupportedSchema)
	}
	return nil
}

// ============================================================
// Documents
// ============================================================

// Documents сериализует документы хранилищ в JSON и пишет их в Backend.
// Реализует store.Persister и instance.Persister.
type Documents struct {
	backend Backend
	log     zerolog.Logger
}

func NewDocuments(backend Backend, log zerolog.Logger) *Documents {
	return &Documents{backend: backend, log: log}
}

type instancesEnvelope struct {
	SchemaVersion string `json:"schemaVersion"`
	*instance.Document
}

func (d *Documents) SaveRegistry(ctx context.Context, doc *store.Document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}
	if err := d.backend.Save(ctx, KeyRegistry, body); err != nil {
		return err
	}
	d.log.Debug().Int("widgets", len(doc.Widgets)).Int("bytes", len(body)).Msg("registry saved")
	return nil
}

func (d *Documents) SaveInstances(ctx context.Context, doc *instance.Document) error {
	body, err := json.Marshal(instancesEnvelope{SchemaVersion: store.SchemaVersion, Document: doc})
	if err != nil {
		return fmt.Errorf("encode instances: %w", err)
	}
	if err := d.backend.Save(ctx, KeyInstances, body); err != nil {
		return err
	}
	d.log.Debug().Int("instances", len(doc.Instances)).Int("bytes", len(body)).Msg("instances saved")
	return nil
}

// LoadRegistry читает документ реестра. Отсутствие документа возвращает
// ErrDocumentNotFound.
func (d *Documents) LoadRegistry(ctx context.Context) (*store.Document, error) {
	body, err := d.backend.Load(ctx, KeyRegistry)
	if err != nil {
		return nil, err
	}
	var doc store.Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode registry: %w", err)
	}
	if err := CheckSchema(doc.SchemaVersion); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (d *Documents) LoadInstances(ctx context.Context) (*instance.Document, error) {
	body, err := d.backend.Load(ctx, KeyInstances)
	if err != nil {
		return nil, err
	}
	env := instancesEnvelope{Document: &instance.Document{}}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode instances: %w", err)
	}
	if err := CheckSchema(env.SchemaVersion); err != nil {
		return nil, err
	}
	return env.Document, nil
}

// Ping проверяет доступность бэкенда.
func (d *Documents) Ping(ctx context.Context) error {
	return d.backend.Ping(ctx)
}
