package render

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/okdaichi/overlaysync/internal/document"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDoc(t *testing.T, raw string) document.Document {
	t.Helper()
	doc, err := document.Parse([]byte(raw))
	require.NoError(t, err)
	return doc
}

const fontDoc = `{
	"text": "HELLO",
	"fontSize": 48,
	"color": "#fff",
	"customFont": {"name": "Brand", "data": "data:font/woff2;base64,AA=="},
	"stroke": {"enabled": true, "color": "#000", "widthPx": 2},
	"logo": {"data": "data:image/png;base64,AA==", "sizePx": 120}
}`

func TestApply(t *testing.T) {
	s := Apply(State{}, mustDoc(t, fontDoc))

	assert.Equal(t, "HELLO", s.Text)
	assert.Equal(t, 48, s.FontSizePx)
	assert.Equal(t, "#fff", s.Color)
	assert.Equal(t, "2px #000", s.Stroke)
	assert.Equal(t, "'Brand', sans-serif", s.FontFamily)
	require.NotNil(t, s.Logo)
	assert.Equal(t, 120, s.Logo.WidthPx)
	assert.Contains(t, s.Fonts, "Brand")
	assert.NotEmpty(t, s.Fingerprint)
}

func TestApply_Defaults(t *testing.T) {
	s := Apply(State{}, mustDoc(t, `{"text":"x"}`))

	assert.Equal(t, DefaultFontSize, s.FontSizePx)
	assert.Equal(t, DefaultColor, s.Color)
	assert.Equal(t, "unset", s.Stroke)
	assert.Nil(t, s.Logo)
	assert.Contains(t, s.Stylesheet(), "display: none;")
}

func TestApply_StrokeDisabled(t *testing.T) {
	tests := map[string]string{
		"disabled":   `{"stroke":{"enabled":false,"color":"#000","widthPx":2}}`,
		"no color":   `{"stroke":{"enabled":true,"widthPx":2}}`,
		"zero width": `{"stroke":{"enabled":true,"color":"#000","widthPx":0}}`,
		"legacy off": `{"useStroke":false,"strokeColor":"#000","strokeWidth":"2"}`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, "unset", Apply(State{}, mustDoc(t, raw)).Stroke)
		})
	}
}

func TestApply_Idempotent(t *testing.T) {
	doc := mustDoc(t, fontDoc)

	once := Apply(State{}, doc)
	twice := Apply(once, doc)
	thrice := Apply(twice, doc)

	assert.Equal(t, once, twice)
	assert.Equal(t, once, thrice)
	assert.Equal(t, once.Stylesheet(), thrice.Stylesheet())
	assert.Equal(t, 1, strings.Count(thrice.Stylesheet(), "@font-face"))
}

// A new document replaces every value; only loaded fonts persist.
func TestApply_NoMixture(t *testing.T) {
	first := Apply(State{}, mustDoc(t, fontDoc))
	second := Apply(first, mustDoc(t, `{"text":"two"}`))

	assert.Equal(t, "two", second.Text)
	assert.Equal(t, DefaultColor, second.Color)
	assert.Equal(t, "unset", second.Stroke)
	assert.Nil(t, second.Logo)
	assert.Empty(t, second.FontFamily)
	assert.Contains(t, second.Fonts, "Brand")
	assert.NotNil(t, first.Logo, "prev is not modified")
}

func TestApply_FontReplacedByName(t *testing.T) {
	s := Apply(State{}, mustDoc(t, `{"customFont":{"name":"A","data":"one"}}`))
	s = Apply(s, mustDoc(t, `{"customFont":{"name":"A","data":"two"}}`))
	s = Apply(s, mustDoc(t, `{"customFont":{"name":"B","data":"three"}}`))

	css := s.Stylesheet()
	assert.Equal(t, 2, strings.Count(css, "@font-face"))
	assert.NotContains(t, css, "'one'")
	assert.Contains(t, css, "'two'")
	assert.Less(t, strings.Index(css, "'A'"), strings.Index(css, "'B'"), "fonts are sorted")
}

func TestStylesheet_Quoting(t *testing.T) {
	s := Apply(State{}, mustDoc(t, `{"customFont":{"name":"It's","data":"x"},"backgroundImage":"https://example.com/a.png"}`))

	css := s.Stylesheet()
	assert.Contains(t, css, `font-family: 'It\'s';`)
	assert.Contains(t, css, `background-image: url('https://example.com/a.png');`)
}

func TestWriteDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	s := Apply(State{}, mustDoc(t, fontDoc))

	require.NoError(t, WriteDir(dir, s))
	require.NoError(t, WriteDir(dir, s))

	css, err := os.ReadFile(filepath.Join(dir, StylesheetFile))
	require.NoError(t, err)
	assert.Equal(t, s.Stylesheet(), string(css))

	got, err := ReadState(dir)
	require.NoError(t, err)
	assert.Equal(t, s, got)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "no temp files left behind")
}

func TestReadState_Missing(t *testing.T) {
	_, err := ReadState(t.TempDir())
	assert.Error(t, err)
}
