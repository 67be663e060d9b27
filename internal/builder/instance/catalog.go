package instance

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// ============================================================
// Definition Catalog
// ============================================================

// Definition это шаблон, из которого создаются экземпляры компонентов.
type Definition struct {
	ID              string         `yaml:"id" json:"id"`
	Type            string         `yaml:"type" json:"type"`
	Label           string         `yaml:"label" json:"label"`
	Icon            string         `yaml:"icon,omitempty" json:"icon,omitempty"`
	AcceptsChildren bool           `yaml:"acceptsChildren,omitempty" json:"acceptsChildren"`
	Defaults        map[string]any `yaml:"defaults,omitempty" json:"defaults,omitempty"`
}

type catalogFile struct {
	Definitions []Definition `yaml:"definitions"`
}

// Catalog хранит определения компонентов; безопасен для конкурентного
// чтения во время перезагрузки.
type Catalog struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

func NewCatalog(defs ...Definition) *Catalog {
	c := &Catalog{defs: make(map[string]Definition, len(defs))}
	for _, d := range defs {
		c.defs[d.ID] = d
	}
	return c
}

// ParseCatalog разбирает YAML вида {definitions: [...]}.
func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	seen := make(map[string]bool, len(f.Definitions))
	for i, d := range f.Definitions {
		if d.ID == "" || d.Type == "" {
			return nil, fmt.Errorf("parse catalog: definition #%d needs id and type", i)
		}
		if seen[d.ID] {
			return nil, fmt.Errorf("parse catalog: duplicate definition %q", d.ID)
		}
		seen[d.ID] = true
	}
	return NewCatalog(f.Definitions...), nil
}

// LoadCatalog читает каталог из файла.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(data)
}

func (c *Catalog) Definition(id string) (Definition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.defs[id]
	return d, ok
}

// Definitions возвращает определения, отсортированные по id.
func (c *Catalog) Definitions() []Definition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Definition, 0, len(c.defs))
	for _, d := range c.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Replace подменяет содержимое каталога содержимым other.
func (c *Catalog) Replace(other *Catalog) {
	other.mu.RLock()
	defs := make(map[string]Definition, len(other.defs))
	for k, v := range other.defs {
		defs[k] = v
	}
	other.mu.RUnlock()

	c.mu.Lock()
	c.defs = defs
	c.mu.Unlock()
}

// WatchCatalog перечитывает файл каталога при его изменении, пока не
// отменён ctx. Следит за каталогом-папкой: редакторы часто заменяют файл
// целиком. Битый или пустой файл не заменяет прежнее содержимое.
func WatchCatalog(ctx context.Context, path string, catalog *Catalog, log zerolog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("catalog watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch catalog dir: %w", err)
	}
	target := filepath.Clean(path)

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target || !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
					continue
				}
				next, err := LoadCatalog(path)
				if err != nil {
					log.Error().Err(err).Str("path", path).Msg("catalog reload failed")
					continue
				}
				if len(next.Definitions()) == 0 {
					// файл пишется в несколько приёмов, пустой снимок пропускаем
					log.Debug().Str("path", path).Msg("empty catalog ignored")
					continue
				}
				catalog.Replace(next)
				log.Info().Int("definitions", len(next.Definitions())).Msg("catalog reloaded")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Error().Err(err).Msg("catalog watcher error")
			}
		}
	}()
	return nil
}
