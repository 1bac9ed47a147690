package domain

// RuleType identifies a targeting rule kind
type RuleType string

const (
	RuleDeviceIs         RuleType = "device_is"
	RuleURLContains      RuleType = "url_contains"
	RuleReferrerContains RuleType = "referrer_contains"
	RuleVIPLevelIs       RuleType = "vip_level_is"
	RuleBalanceLT        RuleType = "balance_lt"
	RuleNewVsReturning   RuleType = "new_vs_returning"
	RuleSessionsCount    RuleType = "sessions_count"
)

// Rule is a predicate over the visitor Context. Value keeps whatever JSON type the
// payload carried; the evaluator coerces it per rule kind.
type Rule struct {
	Type  RuleType `json:"type"`
	Value any      `json:"value"`
}

// Visitor attribute keys read by the targeting rules
const (
	AttrVIPLevel  = "vipLevel"
	AttrBalance   = "balance"
	AttrVisitor   = "visitorType" // "new" | "returning"
	AttrSessions  = "sessionsCount"
	AttrPageViews = "pageViews"
)

// Visitor types for new_vs_returning
const (
	VisitorNew       = "new"
	VisitorReturning = "returning"
)
