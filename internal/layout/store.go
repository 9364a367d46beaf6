package layout

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// BackupsDirName is the directory next to the layout file holding backups.
const BackupsDirName = "backups"

// Store reads and writes one layout file transactionally, keeping
// timestamped backups of the file it replaces.
type Store struct {
	Path string
	// Backups is how many backups to keep; zero disables backups.
	Backups int
}

// NewStore returns a store for path keeping backups copies.
func NewStore(path string, backups int) *Store {
	return &Store{Path: path, Backups: backups}
}

func (s *Store) backupDir() string {
	return filepath.Join(filepath.Dir(s.Path), BackupsDirName)
}

func (s *Store) backupPrefix() string {
	return filepath.Base(s.Path) + "."
}

// Read loads the layout. A missing file yields Default(). A file that fails
// to parse or validate falls back to the newest readable backup.
func (s *Store) Read() (*Config, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	if err == nil {
		var cfg *Config
		if cfg, err = Decode(data); err == nil {
			return cfg, nil
		}
	}

	cfg, berr := s.readLatestBackup()
	if berr != nil {
		return nil, fmt.Errorf("read layout: %w; backup attempt: %v", err, berr)
	}
	return cfg, nil
}

// Write replaces the layout file atomically after backing up the current one.
func (s *Store) Write(cfg *Config) error {
	data, err := Encode(cfg)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create layout directory: %w", err)
	}

	if s.Backups > 0 {
		if _, statErr := os.Stat(s.Path); statErr == nil {
			if err := s.backup(); err != nil {
				return err
			}
		}
	}

	temp := filepath.Join(dir, fmt.Sprintf(".%s.tmp-%d-%d", filepath.Base(s.Path), os.Getpid(), rand.Int()))
	if err := writeFileSync(temp, data); err != nil {
		_ = os.Remove(temp)
		return fmt.Errorf("failed to write temp layout: %w", err)
	}
	if err := os.Rename(temp, s.Path); err != nil {
		_ = os.Remove(temp)
		return fmt.Errorf("failed to replace layout: %w", err)
	}
	return nil
}

func (s *Store) backup() error {
	bdir := s.backupDir()
	if err := os.MkdirAll(bdir, 0o755); err != nil {
		return fmt.Errorf("failed to create backups directory: %w", err)
	}
	stamp := time.Now().Format("20060102-150405.000000")
	bpath := filepath.Join(bdir, s.backupPrefix()+stamp+".bak")
	if err := copyFile(s.Path, bpath); err != nil {
		return fmt.Errorf("failed to back up layout: %w", err)
	}
	return s.prune()
}

// ListBackups lists backup files oldest first.
func (s *Store) ListBackups() ([]string, error) {
	ents, err := os.ReadDir(s.backupDir())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read backups directory: %w", err)
	}
	var out []string
	for _, e := range ents {
		name := e.Name()
		if strings.HasPrefix(name, s.backupPrefix()) && strings.HasSuffix(name, ".bak") {
			out = append(out, filepath.Join(s.backupDir(), name))
		}
	}
	// Timestamps in the name sort lexicographically.
	sort.Strings(out)
	return out, nil
}

func (s *Store) prune() error {
	backups, err := s.ListBackups()
	if err != nil {
		return err
	}
	for len(backups) > s.Backups {
		if err := os.Remove(backups[0]); err != nil {
			return fmt.Errorf("failed to prune backup: %w", err)
		}
		backups = backups[1:]
	}
	return nil
}

func (s *Store) readLatestBackup() (*Config, error) {
	backups, err := s.ListBackups()
	if err != nil {
		return nil, err
	}
	if len(backups) == 0 {
		return nil, errors.New("no backups found")
	}
	for i := len(backups) - 1; i >= 0; i-- {
		data, err := os.ReadFile(backups[i])
		if err != nil {
			continue
		}
		if cfg, err := Decode(data); err == nil {
			return cfg, nil
		}
	}
	return nil, errors.New("no readable backup")
}

// writeFileSync writes data to a file and flushes it to disk.
func writeFileSync(path string, data []byte) (err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.Sync()
}

func copyFile(src, dst string) (err error) {
	sf, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sf.Close()
	df, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := df.Close(); err == nil {
			err = cerr
		}
	}()
	if _, err := io.Copy(df, sf); err != nil {
		return err
	}
	return df.Sync()
}
