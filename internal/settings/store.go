package settings

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/wenwu/saas-platform/panel-service/internal/client"
)

const DefaultSiteName = "panel default"

// Settings is the admin-editable integration and branding document.
type Settings struct {
	Web         Web         `koanf:"web" json:"web"`
	Pterodactyl Pterodactyl `koanf:"pterodactyl" json:"pterodactyl"`
}

type Web struct {
	Name    string `koanf:"name" json:"name"`
	Favicon string `koanf:"favicon" json:"favicon,omitempty"`
}

type Pterodactyl struct {
	URL    string `koanf:"url" json:"url"`
	APIKey string `koanf:"api_key" json:"api_key"`
}

// Default is what callers see when the file is missing or malformed.
func Default() Settings {
	return Settings{Web: Web{Name: DefaultSiteName}}
}

// Integration returns the remote panel credentials. ok is false when either
// the URL or the key is blank.
func (s Settings) Integration() (client.Credentials, bool) {
	creds := client.Credentials{
		BaseURL: strings.TrimSpace(s.Pterodactyl.URL),
		APIKey:  strings.TrimSpace(s.Pterodactyl.APIKey),
	}
	return creds, creds.BaseURL != "" && creds.APIKey != ""
}

// Masked returns a copy safe to show in the admin UI.
func (s Settings) Masked() Settings {
	out := s
	out.Pterodactyl.APIKey = MaskKey(s.Pterodactyl.APIKey)
	return out
}

func MaskKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}

// Store caches the settings file in memory. The cache is replaced on Save and
// dropped by Invalidate; nothing else expires it.
type Store struct {
	path   string
	mu     sync.RWMutex
	cached *Settings
	log    *slog.Logger
}

func NewStore(path string) *Store {
	return &Store{
		path: path,
		log:  slog.Default().With("component", "settings"),
	}
}

func (s *Store) Path() string {
	return s.path
}

// Get returns the current settings, reading the file on first use.
func (s *Store) Get() Settings {
	s.mu.RLock()
	if s.cached != nil {
		out := *s.cached
		s.mu.RUnlock()
		return out
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached != nil {
		return *s.cached
	}

	loaded := s.read()
	s.cached = &loaded
	return loaded
}

func (s *Store) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}

func (s *Store) read() Settings {
	k := koanf.New(".")
	if err := k.Load(file.Provider(s.path), json.Parser()); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("settings file unreadable, using defaults", "path", s.path, "error", err)
		}
		return Default()
	}

	var out Settings
	if err := k.UnmarshalWithConf("", &out, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		s.log.Warn("settings file malformed, using defaults", "path", s.path, "error", err)
		return Default()
	}
	if strings.TrimSpace(out.Web.Name) == "" {
		out.Web.Name = DefaultSiteName
	}
	return out
}

// Save merges next into the file on disk (unknown keys are kept) and replaces
// the cached value.
func (s *Store) Save(next Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := koanf.New(".")
	if err := k.Load(file.Provider(s.path), json.Parser()); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Warn("overwriting unreadable settings file", "path", s.path, "error", err)
		k = koanf.New(".")
	}

	values := map[string]any{
		"web.name":            strings.TrimSpace(next.Web.Name),
		"web.favicon":         strings.TrimSpace(next.Web.Favicon),
		"pterodactyl.url":     strings.TrimRight(strings.TrimSpace(next.Pterodactyl.URL), "/"),
		"pterodactyl.api_key": strings.TrimSpace(next.Pterodactyl.APIKey),
	}
	for key, v := range values {
		if err := k.Set(key, v); err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
	}

	data, err := k.Marshal(json.Parser())
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	if err := writeFileAtomic(s.path, data); err != nil {
		return err
	}

	saved := Settings{
		Web:         Web{Name: values["web.name"].(string), Favicon: values["web.favicon"].(string)},
		Pterodactyl: Pterodactyl{URL: values["pterodactyl.url"].(string), APIKey: values["pterodactyl.api_key"].(string)},
	}
	if saved.Web.Name == "" {
		saved.Web.Name = DefaultSiteName
	}
	s.cached = &saved

	s.log.Info("settings saved", "path", s.path, "integration_configured", saved.Pterodactyl.URL != "" && saved.Pterodactyl.APIKey != "")
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".settings-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close settings: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}
