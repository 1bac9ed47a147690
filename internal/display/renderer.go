package display

import (
	"fmt"
	"sync"

	"popup-runtime/internal/domain"

	"github.com/osteele/liquid"
)

// Block content keys per block type
const (
	ContentText  = "text"  // heading, text
	ContentLabel = "label" // button
	ContentSrc   = "src"   // image
	ContentAlt   = "alt"   // image
	ContentHTML  = "html"  // html
)

const containerTemplate = `<div id="{{ container_id }}" class="pb-root pb-pos-{{ position | escape }}{% if animation != "" %} pb-anim-{{ animation | escape }}{% endif %}" data-popup-id="{{ popup_id | escape }}" lang="{{ lang | escape }}">` +
	`{% if overlay %}<div class="pb-overlay"{% if overlay_close %} data-pb-close="overlay"{% endif %}></div>{% endif %}` +
	`<div class="pb-dialog" role="dialog" aria-modal="true"{% if width > 0 %} style="max-width:{{ width }}px"{% endif %}>` +
	`{% if close_button != "none" %}<button type="button" class="pb-close pb-close-{{ close_button | escape }}" data-pb-close="button" aria-label="Close">&times;</button>{% endif %}` +
	`{% for block in blocks %}` +
	`{% case block.type %}` +
	`{% when "heading" %}<h2 class="pb-heading" data-pb-block="{{ block.id | escape }}">{{ block.text | escape }}</h2>` +
	`{% when "text" %}<p class="pb-text" data-pb-block="{{ block.id | escape }}">{{ block.text | escape }}</p>` +
	`{% when "button" %}<button type="button" class="pb-button" data-pb-block="{{ block.id | escape }}" data-pb-action="{{ block.action | escape }}">{{ block.label | escape }}</button>` +
	`{% when "image" %}<img class="pb-image" data-pb-block="{{ block.id | escape }}" src="{{ block.src | escape }}" alt="{{ block.alt | escape }}">` +
	`{% when "html" %}<div class="pb-html" data-pb-block="{{ block.id | escape }}">{{ block.html }}</div>` +
	`{% endcase %}` +
	`{% endfor %}` +
	`</div></div>`

// View is everything the renderer needs for one popup
type View struct {
	ContainerID string
	PopupID     string
	Lang        string
	Layout      domain.LayoutConfig
	Blocks      []domain.Block
	// Fields are the localized "blockID.prop" values
	Fields map[string]string
	// Bindings are exposed to block content as liquid variables
	Bindings map[string]any
}

// Renderer turns a campaign into container markup with the liquid engine. Block
// content may reference bindings such as {{ visitor.vipLevel }}.
type Renderer struct {
	engine *liquid.Engine

	once      sync.Once
	container *liquid.Template
	parseErr  error
}

// NewRenderer creates a renderer
func NewRenderer() *Renderer {
	return &Renderer{engine: liquid.NewEngine()}
}

// Render produces the container markup
func (r *Renderer) Render(v View) (string, error) {
	r.once.Do(func() {
		tpl, err := r.engine.ParseString(containerTemplate)
		if err != nil {
			r.parseErr = err
			return
		}
		r.container = tpl
	})
	if r.parseErr != nil {
		return "", fmt.Errorf("container template: %w", r.parseErr)
	}

	blocks := make([]map[string]any, 0, len(v.Blocks))
	for _, b := range v.Blocks {
		item := map[string]any{
			"id":         b.ID,
			"type":       b.Type,
			"action":     b.Action,
			ContentText:  "",
			ContentLabel: "",
			ContentSrc:   "",
			ContentAlt:   "",
			ContentHTML:  "",
		}
		for prop := range b.Content {
			value := v.Fields[domain.FieldKey(b.ID, prop)]
			out, err := r.interpolate(value, v.Bindings)
			if err != nil {
				return "", fmt.Errorf("block %s.%s: %w", b.ID, prop, err)
			}
			item[prop] = out
		}
		blocks = append(blocks, item)
	}

	closeButton := v.Layout.CloseButton
	if closeButton == "" {
		closeButton = "inside"
	}
	position := v.Layout.Position
	if position == "" {
		position = domain.PositionCenter
	}

	out, err := r.container.RenderString(map[string]any{
		"container_id":  v.ContainerID,
		"popup_id":      v.PopupID,
		"lang":          v.Lang,
		"position":      position,
		"animation":     v.Layout.Animation,
		"overlay":       v.Layout.HasOverlay(),
		"overlay_close": v.Layout.OverlayClose,
		"width":         v.Layout.Width,
		"close_button":  closeButton,
		"blocks":        blocks,
	})
	if err != nil {
		return "", fmt.Errorf("render container: %w", err)
	}
	return out, nil
}

func (r *Renderer) interpolate(value string, bindings map[string]any) (string, error) {
	if value == "" {
		return "", nil
	}
	out, err := r.engine.ParseAndRenderString(value, bindings)
	if err != nil {
		return "", err
	}
	return out, nil
}
