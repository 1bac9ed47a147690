package display

import (
	"testing"

	"popup-runtime/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool { return &b }

func TestRenderer_Layout(t *testing.T) {
	r := NewRenderer()

	html, err := r.Render(View{
		ContainerID: "pb-root",
		PopupID:     "c1",
		Lang:        "en",
		Layout: domain.LayoutConfig{
			Position:     domain.PositionBottomRight,
			Width:        420,
			CloseButton:  "outside",
			OverlayClose: true,
			Animation:    "slide",
		},
	})
	require.NoError(t, err)

	assert.Contains(t, html, `id="pb-root"`)
	assert.Contains(t, html, "pb-pos-bottom-right")
	assert.Contains(t, html, "pb-anim-slide")
	assert.Contains(t, html, `data-pb-close="overlay"`)
	assert.Contains(t, html, "max-width:420px")
	assert.Contains(t, html, "pb-close-outside")
}

func TestRenderer_NoOverlayNoCloseButton(t *testing.T) {
	r := NewRenderer()

	html, err := r.Render(View{
		ContainerID: "pb-root",
		PopupID:     "c1",
		Layout:      domain.LayoutConfig{Overlay: boolPtr(false), CloseButton: "none"},
	})
	require.NoError(t, err)

	assert.NotContains(t, html, "pb-overlay")
	assert.NotContains(t, html, `data-pb-close="button"`)
	assert.Contains(t, html, "pb-pos-center")
}

func TestRenderer_BlocksAreInterpolatedAndEscaped(t *testing.T) {
	r := NewRenderer()
	blocks := []domain.Block{
		{ID: "h", Type: "heading", Content: map[string]string{"text": "Hi {{ visitor.name }}"}},
		{ID: "t", Type: "text", Content: map[string]string{"text": "x"}},
		{ID: "raw", Type: "html", Content: map[string]string{"html": "<b>bold</b>"}},
		{ID: "img", Type: "image", Content: map[string]string{"src": "https://cdn.test/a.png", "alt": "A"}},
	}

	html, err := r.Render(View{
		ContainerID: "pb-root",
		PopupID:     "c1",
		Blocks:      blocks,
		Fields: map[string]string{
			"h.text":   "Hi {{ visitor.name }}",
			"t.text":   "<script>alert(1)</script>",
			"raw.html": "<b>bold</b>",
			"img.src":  "https://cdn.test/a.png",
			"img.alt":  "A",
		},
		Bindings: map[string]any{"visitor": map[string]any{"name": "Ann & Bob"}},
	})
	require.NoError(t, err)

	assert.Contains(t, html, "Hi Ann &amp; Bob")
	assert.Contains(t, html, "&lt;script&gt;")
	assert.NotContains(t, html, "<script>")
	assert.Contains(t, html, "<b>bold</b>")
	assert.Contains(t, html, `src="https://cdn.test/a.png"`)
}

func TestRenderer_BadBlockTemplate(t *testing.T) {
	r := NewRenderer()
	_, err := r.Render(View{
		ContainerID: "pb-root",
		PopupID:     "c1",
		Blocks:      []domain.Block{{ID: "h", Type: "heading", Content: map[string]string{"text": ""}}},
		Fields:      map[string]string{"h.text": "{% if %}"},
	})
	assert.Error(t, err)
}
