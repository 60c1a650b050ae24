// Package render turns a Configuration Document into overlay state: the
// values a consumer displays and the stylesheet that displays them.
//
// Apply is idempotent. Applying a document twice yields the same State as
// applying it once, and the stylesheet holds at most one @font-face rule
// per font name however often a custom font is delivered.
package render

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/okdaichi/overlaysync/internal/document"
)

const (
	DefaultFontSize  = 48
	DefaultColor     = "#ffffff"
	DefaultLogoWidth = 100
)

// Logo is the rendered logo.
type Logo struct {
	Src     string `json:"src"`
	WidthPx int    `json:"widthPx"`
}

// State is a rendered overlay.
type State struct {
	Text            string `json:"text"`
	FontFamily      string `json:"fontFamily,omitempty"`
	FontSizePx      int    `json:"fontSizePx"`
	Color           string `json:"color"`
	Stroke          string `json:"stroke"` // CSS text-stroke value
	BackgroundImage string `json:"backgroundImage,omitempty"`
	Logo            *Logo  `json:"logo,omitempty"`

	// Fonts maps a custom font name to its source. Fonts stay loaded
	// across documents, like fonts added to a page.
	Fonts map[string]string `json:"fonts,omitempty"`

	Fingerprint string `json:"fingerprint"`
}

// Apply renders doc on top of prev. Only the font registry carries over
// from prev; every other value comes from doc alone.
func Apply(prev State, doc document.Document) State {
	cfg := doc.Config()

	next := State{
		Text:            cfg.Text,
		FontFamily:      cfg.FontFamily,
		FontSizePx:      DefaultFontSize,
		Color:           DefaultColor,
		Stroke:          "unset",
		BackgroundImage: cfg.BackgroundImage,
		Fonts:           maps.Clone(prev.Fonts),
		Fingerprint:     doc.Fingerprint(),
	}

	if cfg.FontSize != nil {
		next.FontSizePx = int(*cfg.FontSize)
	}
	if cfg.Color != "" {
		next.Color = cfg.Color
	}

	if f := cfg.CustomFont; f != nil && f.Data != "" {
		if next.Fonts == nil {
			next.Fonts = make(map[string]string)
		}
		next.Fonts[f.Name] = f.Data
		next.FontFamily = fmt.Sprintf("%s, sans-serif", quote(f.Name))
	}

	if s := cfg.Stroke; s != nil && s.Enabled && s.Color != "" && s.WidthPx > 0 {
		next.Stroke = fmt.Sprintf("%dpx %s", s.WidthPx, s.Color)
	}

	if l := cfg.Logo; l != nil && l.Data != "" {
		next.Logo = &Logo{Src: l.Data, WidthPx: DefaultLogoWidth}
		if l.SizePx != nil {
			next.Logo.WidthPx = int(*l.SizePx)
		}
	}

	return next
}

// Stylesheet returns the CSS for s. Output is deterministic.
func (s State) Stylesheet() string {
	var b strings.Builder

	for _, name := range slices.Sorted(maps.Keys(s.Fonts)) {
		fmt.Fprintf(&b, "@font-face {\n  font-family: %s;\n  src: url(%s);\n}\n\n", quote(name), quote(s.Fonts[name]))
	}

	b.WriteString("#outputText {\n")
	if s.FontFamily != "" {
		fmt.Fprintf(&b, "  font-family: %s;\n", s.FontFamily)
	}
	fmt.Fprintf(&b, "  font-size: %dpx;\n", s.FontSizePx)
	fmt.Fprintf(&b, "  color: %s;\n", s.Color)
	fmt.Fprintf(&b, "  -webkit-text-stroke: %s;\n", s.Stroke)
	fmt.Fprintf(&b, "  text-stroke: %s;\n", s.Stroke)
	b.WriteString("}\n")

	if s.BackgroundImage != "" {
		fmt.Fprintf(&b, "\n#backgroundImage {\n  background-image: url(%s);\n}\n", quote(s.BackgroundImage))
	}

	b.WriteString("\n#logoElement {\n")
	if s.Logo != nil {
		fmt.Fprintf(&b, "  display: block;\n  width: %dpx;\n  height: auto;\n", s.Logo.WidthPx)
	} else {
		b.WriteString("  display: none;\n")
	}
	b.WriteString("}\n")

	return b.String()
}

// quote returns s as a CSS string literal.
func quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`, "\n", `\a `)
	return "'" + r.Replace(s) + "'"
}
