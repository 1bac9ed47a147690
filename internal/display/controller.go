// Package display owns the page's visibility lock and turns a fired campaign into a
// mounted container, an impression and a frequency write.
package display

import (
	"context"
	"sync"
	"time"

	"popup-runtime/internal/domain"
	"popup-runtime/internal/frequency"
	"popup-runtime/internal/i18n"
	"popup-runtime/internal/metrics"
	"popup-runtime/internal/page"
	"popup-runtime/pkg/logger"
)

// Emitter receives the controller's reports
type Emitter interface {
	Emit(ev domain.Event)
}

// Request asks for one campaign to be shown
type Request struct {
	Decision    domain.CampaignDecision
	TriggerType domain.TriggerType
	Context     domain.Context
	// HostLang is the language the page declares; LangOverride is the explicit
	// language passed at init.
	HostLang     string
	LangOverride string
}

// Inspection is the last language decision, exposed read-only in debug mode
type Inspection struct {
	CampaignID     string             `json:"campaignId"`
	VersionID      string             `json:"versionId,omitempty"`
	Lang           string             `json:"lang"`
	BaseLang       string             `json:"baseLang"`
	Source         i18n.Source        `json:"source"`
	UsedFallback   bool               `json:"usedFallback"`
	FallbackFields []string           `json:"fallbackFields,omitempty"`
	TriggerType    domain.TriggerType `json:"triggerType"`
	At             time.Time          `json:"at"`
}

type active struct {
	decision    domain.CampaignDecision
	key         frequency.Key
	lang        string
	triggerType domain.TriggerType
	context     domain.Context
}

// Controller is confined to the page's event loop, apart from the read-only
// accessors Visible and LastInspection.
type Controller struct {
	siteID   string
	lock     *Lock
	surface  page.Surface
	freq     *frequency.Store
	emitter  Emitter
	renderer *Renderer
	metrics  *metrics.Metrics
	log      *logger.Logger
	now      func() time.Time

	current *active

	mu   sync.Mutex
	last *Inspection
}

// Deps are the collaborators of a Controller
type Deps struct {
	SiteID    string
	Surface   page.Surface
	Frequency *frequency.Store
	Emitter   Emitter
	Renderer  *Renderer
	Metrics   *metrics.Metrics
	Logger    *logger.Logger
	Now       func() time.Time
}

// NewController creates a controller with its own lock
func NewController(d Deps) *Controller {
	if d.Renderer == nil {
		d.Renderer = NewRenderer()
	}
	if d.Logger == nil {
		d.Logger = logger.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Controller{
		siteID:   d.SiteID,
		lock:     &Lock{},
		surface:  d.Surface,
		freq:     d.Frequency,
		emitter:  d.Emitter,
		renderer: d.Renderer,
		metrics:  d.Metrics,
		log:      d.Logger,
		now:      d.Now,
	}
}

// Lock exposes the visibility lock
func (c *Controller) Lock() *Lock {
	return c.lock
}

// Visible returns the id of the popup on screen
func (c *Controller) Visible() (string, bool) {
	return c.lock.Holder()
}

// LastInspection returns a copy of the last language decision
func (c *Controller) LastInspection() (Inspection, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return Inspection{}, false
	}
	out := *c.last
	out.FallbackFields = append([]string(nil), c.last.FallbackFields...)
	return out, true
}

// TryShow takes the lock and mounts the campaign. It returns false, without queueing,
// when another popup is visible or the campaign cannot be rendered.
func (c *Controller) TryShow(ctx context.Context, req Request) bool {
	id := req.Decision.CampaignID
	if !c.lock.TryAcquire(id) {
		c.metrics.Dropped()
		holder, _ := c.lock.Holder()
		c.log.WithFields(map[string]interface{}{
			"campaign_id": id,
			"visible_id":  holder,
		}).Debug("Display dropped, another popup is visible")
		return false
	}

	schema := req.Decision.Schema
	res := i18n.Resolve(schema.Localization, req.LangOverride, req.HostLang)
	fields := res.Localize(schema.ContentFields())

	html, err := c.renderer.Render(View{
		ContainerID: page.ContainerID,
		PopupID:     id,
		Lang:        res.Lang,
		Layout:      schema.Layout,
		Blocks:      schema.Blocks,
		Fields:      fields,
		Bindings:    bindings(req, res.Lang),
	})
	if err != nil {
		c.lock.Release(id)
		c.log.WithError(err).WithField("campaign_id", id).Warn("Failed to render popup")
		return false
	}

	err = c.surface.Mount(page.Mount{
		ContainerID: page.ContainerID,
		PopupID:     id,
		VersionID:   req.Decision.CampaignVersionID,
		HTML:        html,
		Layout:      schema.Layout,
		Lang:        res.Lang,
	})
	if err != nil {
		c.lock.Release(id)
		c.log.WithError(err).WithField("campaign_id", id).Warn("Failed to mount popup")
		return false
	}

	c.current = &active{
		decision:    req.Decision,
		key:         frequency.KeyFor(id, req.Decision.CampaignVersionID, schema.Frequency),
		lang:        res.Lang,
		triggerType: req.TriggerType,
		context:     req.Context,
	}

	c.mu.Lock()
	c.last = &Inspection{
		CampaignID:     id,
		VersionID:      req.Decision.CampaignVersionID,
		Lang:           res.Lang,
		BaseLang:       res.BaseLang,
		Source:         res.Source,
		UsedFallback:   res.UsedFallback,
		FallbackFields: res.FallbackFields,
		TriggerType:    req.TriggerType,
		At:             c.now(),
	}
	c.mu.Unlock()

	c.metrics.Displayed(string(req.TriggerType))
	c.emit(domain.EventImpression, map[string]any{
		domain.DataTriggerType: string(req.TriggerType),
	})

	if c.freq != nil {
		c.freq.RecordShown(ctx, c.current.key)
	}
	return true
}

// Close dismisses the visible popup. It returns false if popupID is not on screen.
func (c *Controller) Close(ctx context.Context, popupID string, method domain.CloseMethod) bool {
	if c.current == nil || c.current.decision.CampaignID != popupID {
		return false
	}
	if method != domain.CloseOverlay {
		method = domain.CloseButton
	}

	if method == domain.CloseOverlay && !c.current.decision.Schema.Layout.OverlayClose {
		return false
	}

	cur := c.current
	c.lock.Release(popupID)

	if c.freq != nil {
		c.freq.RecordClosed(ctx, cur.key)
	}
	c.emit(domain.EventClose, map[string]any{
		domain.DataCloseMethod: string(method),
		domain.DataTriggerType: string(cur.triggerType),
	})

	if err := c.surface.Unmount(page.ContainerID, popupID); err != nil {
		c.log.WithError(err).WithField("campaign_id", popupID).Warn("Failed to unmount popup")
	}
	c.current = nil
	return true
}

// Click reports a click on a block. A button whose action is "close" also closes
// the popup through the button affordance.
func (c *Controller) Click(ctx context.Context, popupID, blockID string) bool {
	if c.current == nil || c.current.decision.CampaignID != popupID {
		return false
	}

	var block *domain.Block
	for i := range c.current.decision.Schema.Blocks {
		if c.current.decision.Schema.Blocks[i].ID == blockID {
			block = &c.current.decision.Schema.Blocks[i]
			break
		}
	}
	if block == nil {
		return false
	}

	c.emit(domain.EventClick, map[string]any{
		domain.DataBlockID: blockID,
	})

	if block.Action == "close" {
		c.Close(ctx, popupID, domain.CloseButton)
	}
	return true
}

// Reset forgets the visible popup and clears the lock without reporting anything
func (c *Controller) Reset() {
	c.current = nil
	c.lock.Reset()
	c.mu.Lock()
	c.last = nil
	c.mu.Unlock()
}

func (c *Controller) emit(typ domain.EventType, data map[string]any) {
	if c.emitter == nil || c.current == nil {
		return
	}
	cur := c.current
	data[domain.DataDevice] = string(cur.context.DeviceClass)
	data[domain.DataURL] = cur.context.URL
	data[domain.DataVersionID] = cur.decision.CampaignVersionID
	data[domain.DataLang] = cur.lang
	data[domain.DataTimestamp] = c.now().UnixMilli()

	c.emitter.Emit(domain.Event{
		SiteID:  c.siteID,
		PopupID: cur.decision.CampaignID,
		Type:    typ,
		Data:    data,
	})
}

func bindings(req Request, lang string) map[string]any {
	visitor := make(map[string]any, len(req.Context.Attributes))
	for k, v := range req.Context.Attributes {
		visitor[k] = v
	}
	return map[string]any{
		"visitor": visitor,
		"device":  string(req.Context.DeviceClass),
		"url":     req.Context.URL,
		"lang":    lang,
	}
}
