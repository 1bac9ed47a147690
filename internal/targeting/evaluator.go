// Package targeting decides whether a campaign's rules admit the current visitor.
package targeting

import (
	"math"
	"strconv"
	"strings"

	"popup-runtime/internal/domain"
)

type predicate func(rule domain.Rule, ctx domain.Context) bool

var predicates = map[domain.RuleType]predicate{
	domain.RuleDeviceIs: func(r domain.Rule, ctx domain.Context) bool {
		want, ok := asString(r.Value)
		return ok && want == string(ctx.DeviceClass)
	},
	domain.RuleURLContains: func(r domain.Rule, ctx domain.Context) bool {
		needle, ok := asString(r.Value)
		return ok && strings.Contains(ctx.URL, needle)
	},
	domain.RuleReferrerContains: func(r domain.Rule, ctx domain.Context) bool {
		needle, ok := asString(r.Value)
		return ok && strings.Contains(ctx.Referrer, needle)
	},
	domain.RuleVIPLevelIs: func(r domain.Rule, ctx domain.Context) bool {
		want, ok := asString(r.Value)
		if !ok {
			return false
		}
		have, ok := asString(ctx.Attributes[domain.AttrVIPLevel])
		return ok && have == want
	},
	domain.RuleBalanceLT: func(r domain.Rule, ctx domain.Context) bool {
		limit, ok := asNumber(r.Value)
		if !ok {
			return false
		}
		balance, ok := asNumber(ctx.Attributes[domain.AttrBalance])
		return ok && balance < limit
	},
	domain.RuleNewVsReturning: func(r domain.Rule, ctx domain.Context) bool {
		want, ok := asString(r.Value)
		if !ok {
			return false
		}
		have := domain.VisitorNew
		if ctx.Returning {
			have = domain.VisitorReturning
		}
		return want == have
	},
	domain.RuleSessionsCount: func(r domain.Rule, ctx domain.Context) bool {
		atLeast, ok := asNumber(r.Value)
		return ok && float64(ctx.SessionsCount) >= atLeast
	},
}

// Admits reports whether every rule holds for ctx. An empty rule list admits, and
// rule kinds this runtime does not know admit as well, so a rule added by a newer
// authoring app never blocks campaigns on an older runtime.
func Admits(rules []domain.Rule, ctx domain.Context) bool {
	_, ok := Explain(rules, ctx)
	return ok
}

// Explain is Admits plus the type of the first rule that failed.
func Explain(rules []domain.Rule, ctx domain.Context) (failed domain.RuleType, admitted bool) {
	for _, rule := range rules {
		pred, known := predicates[rule.Type]
		if !known {
			continue
		}
		if !pred(rule, ctx) {
			return rule.Type, false
		}
	}
	return "", true
}

// asString renders scalars canonically so that 3, 3.0 and "3" compare equal.
func asString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case bool:
		return strconv.FormatBool(x), true
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return "", false
		}
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32), true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	default:
		return "", false
	}
}

func asNumber(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
