package layout

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Profiles stores named layouts as <dir>/<name>.json.
type Profiles struct {
	Dir string
}

// NewProfiles returns a profile store rooted at dir.
func NewProfiles(dir string) *Profiles {
	return &Profiles{Dir: dir}
}

// ValidateName rejects empty names and names that would escape the directory.
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("profile name is required")
	}
	if strings.ContainsAny(name, `/\`) || name != filepath.Base(name) {
		return fmt.Errorf("invalid profile name %q", name)
	}
	if name == "." || name == ".." || strings.Contains(name, "..") {
		return fmt.Errorf("invalid profile name %q", name)
	}
	return nil
}

func (p *Profiles) path(name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return filepath.Join(p.Dir, strings.TrimSpace(name)+".json"), nil
}

// Save writes cfg under name, replacing any existing profile.
func (p *Profiles) Save(name string, cfg *Config) error {
	path, err := p.path(name)
	if err != nil {
		return err
	}
	if err := NewStore(path, 0).Write(cfg); err != nil {
		return fmt.Errorf("failed to write profile %q: %w", name, err)
	}
	return nil
}

// Read loads the profile called name.
func (p *Profiles) Read(name string) (*Config, error) {
	path, err := p.path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile %q: %w", name, err)
	}
	cfg, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse profile %q: %w", name, err)
	}
	return cfg, nil
}

// Delete removes the profile called name.
func (p *Profiles) Delete(name string) error {
	path, err := p.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to delete profile %q: %w", name, err)
	}
	return nil
}

// List returns profile names sorted alphabetically.
func (p *Profiles) List() ([]string, error) {
	entries, err := os.ReadDir(p.Dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	var out []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		out = append(out, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(out)
	return out, nil
}
