package runtime

import (
	"popup-runtime/internal/display"
	"popup-runtime/internal/domain"
	"popup-runtime/internal/frequency"
	"popup-runtime/internal/targeting"
	"popup-runtime/internal/trigger"
)

// Campaign outcomes reported by Inspect
const (
	OutcomeArmed    = "armed"
	OutcomeShown    = "shown"
	OutcomeDropped  = "dropped"
	OutcomeSkipped  = "skipped"
	OutcomeTargeted = "denied_by_targeting"
	OutcomeCapped   = "denied_by_frequency"
)

// CampaignStatus is what happened to one campaign on this page
type CampaignStatus struct {
	CampaignID string             `json:"campaignId"`
	VersionID  string             `json:"versionId,omitempty"`
	Outcome    string             `json:"outcome"`
	Reason     string             `json:"reason,omitempty"`
	FiredBy    domain.TriggerType `json:"firedBy,omitempty"`
}

// apply gates every campaign in payload order and arms the survivors. Runs on the loop.
func (r *Runtime) apply(payload *domain.DecisionPayload) {
	decisions, skipped := payload.Decisions()
	for id, err := range skipped {
		r.log.WithError(err).WithField("campaign_id", id).Debug("Campaign skipped")
		r.setStatus(CampaignStatus{CampaignID: id, Outcome: OutcomeSkipped, Reason: err.Error()})
	}

	ctx := r.sense()
	for _, d := range decisions {
		status := CampaignStatus{CampaignID: d.CampaignID, VersionID: d.CampaignVersionID}

		if failed, ok := targeting.Explain(d.Schema.TargetingRules, ctx); !ok {
			r.metrics.TargetingDenied(string(failed))
			status.Outcome, status.Reason = OutcomeTargeted, string(failed)
			r.setStatus(status)
			continue
		}

		key := frequency.KeyFor(d.CampaignID, d.CampaignVersionID, d.Schema.Frequency)
		if reason := r.freq.Check(r.ctx, key, d.Schema.Frequency); reason != frequency.ReasonNone {
			r.metrics.FrequencyDenied(string(reason))
			status.Outcome, status.Reason = OutcomeCapped, string(reason)
			r.setStatus(status)
			continue
		}

		status.Outcome = OutcomeArmed
		r.setStatus(status)
		r.engine.Register(d, ctx, r.onFire)
	}

	r.log.WithFields(map[string]interface{}{
		"campaigns": len(decisions),
		"skipped":   len(skipped),
		"armed":     r.engine.Armed(),
	}).Debug("Decision payload applied")
}

// onFire asks the display controller to show a fired campaign. A request that loses
// the race for the lock is dropped.
func (r *Runtime) onFire(h *trigger.Handle, cause domain.TriggerType) {
	st := r.page.State()
	shown := r.display.TryShow(r.ctx, display.Request{
		Decision:     h.Decision(),
		TriggerType:  cause,
		Context:      r.sense(),
		HostLang:     st.Lang,
		LangOverride: r.opts.Lang,
	})

	outcome := OutcomeShown
	if !shown {
		outcome = OutcomeDropped
	}
	r.setStatus(CampaignStatus{
		CampaignID: h.CampaignID(),
		VersionID:  h.Decision().CampaignVersionID,
		Outcome:    outcome,
		FiredBy:    cause,
	})
}

func (r *Runtime) setStatus(s CampaignStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.campaigns {
		if r.campaigns[i].CampaignID == s.CampaignID {
			r.campaigns[i] = s
			return
		}
	}
	r.campaigns = append(r.campaigns, s)
}
