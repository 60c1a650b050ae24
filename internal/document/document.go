// Package document defines the Configuration Document: the single value
// describing overlay content and appearance that the relay stores and fans
// out. A Document keeps the exact bytes it was parsed from so it can be
// forwarded verbatim, alongside a typed view used for validation and
// rendering.
package document

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

// ErrInvalid is returned (wrapped) for payloads that are not a well-formed
// Configuration Document.
var ErrInvalid = errors.New("invalid configuration document")

// Config is the typed view of a Configuration Document. All fields are
// optional; unknown fields in the source payload are ignored here but kept
// in the raw bytes.
type Config struct {
	Text            string      `json:"text,omitempty"`
	FontFamily      string      `json:"fontFamily,omitempty"`
	FontSize        *Pixels     `json:"fontSize,omitempty"`
	Color           string      `json:"color,omitempty"`
	Stroke          *Stroke     `json:"stroke,omitempty"`
	CustomFont      *CustomFont `json:"customFont,omitempty"`
	BackgroundImage string      `json:"backgroundImage,omitempty"`
	Logo            *Logo       `json:"logo,omitempty"`
}

// Stroke describes the text outline.
type Stroke struct {
	Enabled bool   `json:"enabled"`
	Color   string `json:"color,omitempty"`
	WidthPx Pixels `json:"widthPx"`
}

// CustomFont is an inline font asset, usually a data URI.
type CustomFont struct {
	Name string `json:"name"`
	Data string `json:"data"`
}

// Logo is an inline image placed over the background.
type Logo struct {
	Data     string  `json:"data"`
	Filename string  `json:"filename,omitempty"`
	SizePx   *Pixels `json:"sizePx,omitempty"`
}

// Document is an immutable Configuration Document.
type Document struct {
	raw    json.RawMessage
	config Config
}

// Parse validates raw and returns the Document it encodes. The returned
// Document owns a copy of raw.
func Parse(raw []byte) (Document, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Document{}, fmt.Errorf("%w: empty payload", ErrInvalid)
	}
	if trimmed[0] != '{' {
		return Document{}, fmt.Errorf("%w: must be a JSON object", ErrInvalid)
	}
	if !utf8.Valid(trimmed) {
		return Document{}, fmt.Errorf("%w: not valid UTF-8", ErrInvalid)
	}

	var cfg Config
	if err := json.Unmarshal(trimmed, &cfg); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	var old legacyFields
	if err := json.Unmarshal(trimmed, &old); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	cfg.applyLegacy(old)
	if err := cfg.validate(); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	return Document{
		raw:    bytes.Clone(trimmed),
		config: cfg,
	}, nil
}

// New encodes cfg and returns it as a Document.
func New(cfg Config) (Document, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return Document{}, fmt.Errorf("marshal config: %w", err)
	}
	return Parse(raw)
}

// legacyFields are the flat stroke keys and logo.size sent by older
// setup pages.
type legacyFields struct {
	UseStroke   bool    `json:"useStroke"`
	StrokeColor string  `json:"strokeColor"`
	StrokeWidth *Pixels `json:"strokeWidth"`
	Logo        *struct {
		Size *Pixels `json:"size"`
	} `json:"logo"`
}

// applyLegacy fills the typed view from legacy keys. Nested keys win.
func (c *Config) applyLegacy(old legacyFields) {
	if c.Stroke == nil && (old.UseStroke || old.StrokeColor != "" || old.StrokeWidth != nil) {
		c.Stroke = &Stroke{Enabled: old.UseStroke, Color: old.StrokeColor}
		if old.StrokeWidth != nil {
			c.Stroke.WidthPx = *old.StrokeWidth
		}
	}
	if c.Logo != nil && c.Logo.SizePx == nil && old.Logo != nil && old.Logo.Size != nil {
		c.Logo.SizePx = old.Logo.Size
	}
}

func (c *Config) validate() error {
	if c.FontSize != nil && *c.FontSize <= 0 {
		return fmt.Errorf("fontSize must be positive, got %d", *c.FontSize)
	}
	if c.Stroke != nil && c.Stroke.WidthPx < 0 {
		return fmt.Errorf("stroke.widthPx must be non-negative, got %d", c.Stroke.WidthPx)
	}
	if c.Logo != nil && c.Logo.SizePx != nil && *c.Logo.SizePx <= 0 {
		return fmt.Errorf("logo.sizePx must be positive, got %d", *c.Logo.SizePx)
	}
	if c.CustomFont != nil && c.CustomFont.Name == "" {
		return errors.New("customFont.name is required")
	}
	return nil
}

// IsZero reports whether d is the zero Document (no payload).
func (d Document) IsZero() bool { return d.raw == nil }

// Config returns the typed view of the document.
func (d Document) Config() Config { return d.config }

// Raw returns the document bytes as received. Callers must not modify the
// returned slice.
func (d Document) Raw() json.RawMessage { return d.raw }

// Fingerprint identifies the document content independent of insignificant
// whitespace.
func (d Document) Fingerprint() string {
	if d.raw == nil {
		return ""
	}
	var buf bytes.Buffer
	src := []byte(d.raw)
	if err := json.Compact(&buf, d.raw); err == nil {
		src = buf.Bytes()
	}
	sum := sha256.Sum256(src)
	return hex.EncodeToString(sum[:])
}

// Equal reports whether d and other carry the same content.
func (d Document) Equal(other Document) bool {
	return d.Fingerprint() == other.Fingerprint()
}

// MarshalJSON emits the raw document, or null for the zero Document.
func (d Document) MarshalJSON() ([]byte, error) {
	if d.raw == nil {
		return []byte("null"), nil
	}
	return d.raw, nil
}

// UnmarshalJSON parses data with Parse. A JSON null leaves d zero.
func (d *Document) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*d = Document{}
		return nil
	}
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
