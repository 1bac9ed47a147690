package trigger

import (
	"popup-runtime/internal/domain"
)

// State of a campaign in the trigger engine
type State int

const (
	Idle State = iota
	Armed
	Fired
	Retired
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Fired:
		return "fired"
	case Retired:
		return "retired"
	default:
		return "unknown"
	}
}

// Handle holds every listener of one campaign so they can be cancelled together
type Handle struct {
	engine   *Engine
	decision domain.CampaignDecision
	onFire   FireFunc

	state   State
	cancels []func()
	pending int // listeners that may still fire
	firedBy domain.TriggerType
}

// Decision returns the campaign behind the handle
func (h *Handle) Decision() domain.CampaignDecision {
	return h.decision
}

// CampaignID is shorthand for Decision().CampaignID
func (h *Handle) CampaignID() string {
	return h.decision.CampaignID
}

func (h *Handle) State() State {
	return h.state
}

// FiredBy is the trigger type that fired the campaign, empty if it never fired
func (h *Handle) FiredBy() domain.TriggerType {
	return h.firedBy
}

// Listeners is the number of live cancel funcs held by the handle
func (h *Handle) Listeners() int {
	return len(h.cancels)
}

// Retire tears down every listener without firing. Safe to call more than once.
func (h *Handle) Retire() {
	if h.state == Retired {
		return
	}
	h.teardown()
	h.state = Retired
}

// add registers a cancel func. A handle that is no longer armed cancels it at once.
func (h *Handle) add(cancel func()) {
	if h.state != Armed {
		cancel()
		return
	}
	h.cancels = append(h.cancels, cancel)
}

func (h *Handle) fire(cause domain.TriggerType) {
	if h.state != Armed {
		return
	}
	h.state = Fired
	h.firedBy = cause
	h.teardown()

	h.engine.log.WithFields(map[string]interface{}{
		"campaign_id":  h.decision.CampaignID,
		"trigger_type": string(cause),
	}).Debug("Campaign fired")

	if h.onFire != nil {
		h.onFire(h, cause)
	}
	h.state = Retired
}

// settle is called when a static condition turned out false. Once nothing is left
// that could fire, the handle retires.
func (h *Handle) settle() {
	if h.state != Armed {
		return
	}
	h.pending--
	if h.pending <= 0 {
		h.Retire()
	}
}

func (h *Handle) teardown() {
	cancels := h.cancels
	h.cancels = nil
	for _, cancel := range cancels {
		cancel()
	}
}
