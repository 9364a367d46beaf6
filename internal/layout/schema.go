// Package layout persists portal layouts and guards saves against data loss
// during slow or partial startup.
package layout

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/1broseidon/deskportal/internal/platform"
	"github.com/1broseidon/deskportal/internal/portal"
)

// CurrentVersion is the layout schema version written by this build.
const CurrentVersion = 1

const (
	defaultWidth  = 300
	defaultHeight = 200
)

var (
	//go:embed layout.schema.json
	schemaJSON []byte
	//go:embed record.schema.json
	recordSchemaJSON []byte
)

var (
	schemaLoader       = gojsonschema.NewBytesLoader(schemaJSON)
	recordSchemaLoader = gojsonschema.NewBytesLoader(recordSchemaJSON)
)

// Bookmark is a persisted URL portal entry.
type Bookmark struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Record is one persisted portal.
type Record struct {
	ID       string      `json:"id"`
	Type     portal.Kind `json:"type"`
	Title    string      `json:"title"`
	X        int         `json:"x"`
	Y        int         `json:"y"`
	Width    int         `json:"width"`
	Height   int         `json:"height"`
	RolledUp bool        `json:"rolled_up"`

	FolderPath     string     `json:"folder_path,omitempty"`
	SortMode       string     `json:"sort_mode,omitempty"`
	ExecutablePath string     `json:"executable_path,omitempty"`
	Args           []string   `json:"args,omitempty"`
	Bookmarks      []Bookmark `json:"bookmarks,omitempty"`

	HeaderColor     string `json:"header_color,omitempty"`
	BackgroundColor string `json:"background_color,omitempty"`
	TitleAlignment  string `json:"title_alignment,omitempty"`
}

// UnmarshalJSON accepts fractional geometry and rounds it to whole pixels.
func (r *Record) UnmarshalJSON(data []byte) error {
	type plain Record
	var aux struct {
		plain
		X      float64 `json:"x"`
		Y      float64 `json:"y"`
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = Record(aux.plain)
	var err error
	if r.X, err = pixels("x", aux.X); err != nil {
		return err
	}
	if r.Y, err = pixels("y", aux.Y); err != nil {
		return err
	}
	if r.Width, err = pixels("width", aux.Width); err != nil {
		return err
	}
	if r.Height, err = pixels("height", aux.Height); err != nil {
		return err
	}
	return nil
}

func pixels(field string, v float64) (int, error) {
	v = math.Round(v)
	if v > math.MaxInt32 || v < math.MinInt32 {
		return 0, fmt.Errorf("%s %g out of range", field, v)
	}
	return int(v), nil
}

// Config is the persisted layout root.
type Config struct {
	Version        int      `json:"version"`
	PortalsVisible bool     `json:"portals_visible"`
	Portals        []Record `json:"portals"`

	// Invalid describes records that could not be decoded. They are
	// dropped from Portals but still count as loaded.
	Invalid []string `json:"-"`
}

// Default returns an empty, visible layout.
func Default() *Config {
	return &Config{Version: CurrentVersion, PortalsVisible: true, Portals: []Record{}}
}

// UnmarshalJSON defaults portals_visible to true when absent. Records are
// decoded one at a time so a bad record only costs itself.
func (c *Config) UnmarshalJSON(data []byte) error {
	var doc struct {
		Version        int               `json:"version"`
		PortalsVisible *bool             `json:"portals_visible"`
		Portals        []json.RawMessage `json:"portals"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	*c = Config{Version: doc.Version, PortalsVisible: true}
	if doc.PortalsVisible != nil {
		c.PortalsVisible = *doc.PortalsVisible
	}
	for i, raw := range doc.Portals {
		if err := validate(recordSchemaLoader, raw); err != nil {
			c.Invalid = append(c.Invalid, fmt.Sprintf("record %d: %v", i, err))
			continue
		}
		var r Record
		if err := json.Unmarshal(raw, &r); err != nil {
			c.Invalid = append(c.Invalid, fmt.Sprintf("record %d: %v", i, err))
			continue
		}
		c.Portals = append(c.Portals, r)
	}
	return nil
}

// Validate checks the document envelope against the embedded JSON schema.
// Individual records are checked while decoding.
func Validate(data []byte) error {
	return validate(schemaLoader, data)
}

func validate(schema gojsonschema.JSONLoader, data []byte) error {
	result, err := gojsonschema.Validate(schema, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("failed to validate layout: %w", err)
	}
	if !result.Valid() {
		var msgs []string
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("layout does not match schema: %s", strings.Join(msgs, "; "))
	}
	return nil
}

// Loaded is the number of records the document held, decodable or not.
func (c *Config) Loaded() int {
	return len(c.Portals) + len(c.Invalid)
}

// Decode validates and parses a layout document and fills safe defaults.
func Decode(data []byte) (*Config, error) {
	if err := Validate(data); err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse layout: %w", err)
	}
	cfg.normalize()
	return &cfg, nil
}

// Encode renders cfg as indented JSON.
func Encode(cfg *Config) ([]byte, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode layout: %w", err)
	}
	return append(data, '\n'), nil
}

func (c *Config) normalize() {
	if c.Version <= 0 {
		c.Version = CurrentVersion
	}
	if c.Portals == nil {
		c.Portals = []Record{}
	}
	for i := range c.Portals {
		r := &c.Portals[i]
		if r.Width <= 0 {
			r.Width = defaultWidth
		}
		if r.Height <= 0 {
			r.Height = defaultHeight
		}
		r.TitleAlignment = string(portal.TitleAlign(r.TitleAlignment).Normalize())
	}
}

// RecordOf captures p for persistence.
func RecordOf(p *portal.Portal) Record {
	r := Record{
		ID:              p.ID,
		Type:            p.Kind,
		Title:           p.Title,
		X:               p.Bounds.X,
		Y:               p.Bounds.Y,
		Width:           p.Bounds.Width,
		Height:          p.Bounds.Height,
		RolledUp:        p.RolledUp,
		HeaderColor:     p.Style.HeaderColor,
		BackgroundColor: p.Style.BackgroundColor,
		TitleAlignment:  string(p.Style.TitleAlign.Normalize()),
	}
	switch p.Kind {
	case portal.KindFolder:
		if p.Folder != nil {
			r.FolderPath = p.Folder.Path
			r.SortMode = p.Folder.SortMode
		}
	case portal.KindApp:
		if p.App != nil {
			r.ExecutablePath = p.App.ExecutablePath
			r.Args = append([]string(nil), p.App.Args...)
		}
	case portal.KindURL:
		if p.URL != nil {
			for _, b := range p.URL.Bookmarks {
				r.Bookmarks = append(r.Bookmarks, Bookmark{Name: b.Name, URL: b.URL})
			}
		}
	}
	return r
}

// Portal reconstructs the portal described by r, with its saved id installed.
func (r Record) Portal() (*portal.Portal, error) {
	h := portal.Header{
		ID:       r.ID,
		Title:    r.Title,
		Bounds:   platform.Rect{X: r.X, Y: r.Y, Width: r.Width, Height: r.Height},
		RolledUp: r.RolledUp,
		Style: portal.Style{
			HeaderColor:     r.HeaderColor,
			BackgroundColor: r.BackgroundColor,
			TitleAlign:      portal.TitleAlign(r.TitleAlignment).Normalize(),
		},
	}
	switch r.Type {
	case portal.KindFolder:
		return portal.NewFolder(h, portal.Folder{Path: r.FolderPath, SortMode: r.SortMode}), nil
	case portal.KindApp:
		return portal.NewApp(h, portal.App{ExecutablePath: r.ExecutablePath, Args: append([]string(nil), r.Args...)}), nil
	case portal.KindURL:
		var bookmarks []portal.Bookmark
		for _, b := range r.Bookmarks {
			bookmarks = append(bookmarks, portal.Bookmark{Name: b.Name, URL: b.URL})
		}
		return portal.NewURL(h, portal.URL{Bookmarks: bookmarks}), nil
	}
	return nil, fmt.Errorf("record %q has unknown type %q", r.ID, r.Type)
}
