package vard

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
	"pkt.systems/pslog"

	"github.com/varserver/vard/api"
	"github.com/varserver/vard/internal/registry"
)

// preloadFile is the on-disk format for variable definitions loaded at
// startup.
type preloadFile struct {
	Variables []preloadVar `yaml:"variables"`
}

type preloadVar struct {
	Name       string   `yaml:"name"`
	InstanceID uint32   `yaml:"instanceId,omitempty"`
	Type       string   `yaml:"type,omitempty"`
	Value      string   `yaml:"value,omitempty"`
	Flags      string   `yaml:"flags,omitempty"`
	Tags       []string `yaml:"tags,omitempty"`
	Format     string   `yaml:"format,omitempty"`
	GUID       uint32   `yaml:"guid,omitempty"`
}

// preloader seeds the registry from a YAML definitions file and optionally
// re-applies it when the file changes on disk.
type preloader struct {
	path   string
	reg    *registry.List
	logger pslog.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
}

func newPreloader(path string, reg *registry.List, logger pslog.Logger) *preloader {
	return &preloader{path: path, reg: reg, logger: logger}
}

// load parses the definitions file and creates every variable it names.
// Variables that already exist keep their current value; only their absence is
// corrected, so re-applying the same file is idempotent.
func (p *preloader) load() error {
	raw, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("read %s: %w", p.path, err)
	}
	var file preloadFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parse %s: %w", p.path, err)
	}
	var created int
	for _, def := range file.Variables {
		typ, err := api.ParseVarType(def.Type)
		if err != nil {
			return fmt.Errorf("variable %q: %w", def.Name, err)
		}
		flags, err := api.ParseFlags(def.Flags)
		if err != nil {
			return fmt.Errorf("variable %q: %w", def.Name, err)
		}
		_, err = p.reg.Create(registry.Spec{
			Name:       def.Name,
			InstanceID: def.InstanceID,
			Type:       typ,
			Value:      def.Value,
			Flags:      flags,
			Tags:       strings.Join(def.Tags, ","),
			Format:     def.Format,
			GUID:       def.GUID,
		})
		switch {
		case errors.Is(err, registry.ErrExists):
			continue
		case err != nil:
			return fmt.Errorf("variable %q: %w", def.Name, err)
		}
		created++
	}
	p.logger.Info("definitions loaded",
		"path", p.path,
		"defined", len(file.Variables),
		"created", created,
	)
	return nil
}

// watch re-applies the definitions file whenever it is rewritten. Parse
// failures during reload are logged and skipped so a half-written file cannot
// take the server down.
func (p *preloader) watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Watch the directory rather than the file: editors replace files by
	// rename, which drops a file-level watch.
	if err := w.Add(filepath.Dir(p.path)); err != nil {
		w.Close()
		return err
	}
	p.mu.Lock()
	p.watcher = w
	p.done = make(chan struct{})
	done := p.done
	p.mu.Unlock()

	go func() {
		defer close(done)
		target := filepath.Clean(p.path)
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) {
					continue
				}
				if err := p.load(); err != nil {
					p.logger.Warn("definitions reload failed", "error", err)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				p.logger.Warn("definitions watcher error", "error", err)
			}
		}
	}()
	return nil
}

func (p *preloader) stop() {
	p.mu.Lock()
	w := p.watcher
	done := p.done
	p.watcher = nil
	p.done = nil
	p.mu.Unlock()
	if w != nil {
		w.Close()
	}
	if done != nil {
		<-done
	}
}
