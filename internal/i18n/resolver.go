// Package i18n picks the language a popup renders in and fills untranslated
// fields from the campaign's base language.
package i18n

import (
	"sort"
	"strings"

	"popup-runtime/internal/domain"

	"golang.org/x/text/language"
)

// Source records which input decided the resolved language
type Source string

const (
	SourceOverride Source = "override"
	SourceHost     Source = "host"
	SourceBase     Source = "base"
)

// Resolution is the deterministic outcome of Resolve. After Localize it also
// reports which fields fell back to the base language.
type Resolution struct {
	Lang           string   `json:"lang"`
	BaseLang       string   `json:"baseLang"`
	Source         Source   `json:"source"`
	UsedFallback   bool     `json:"usedFallback"`
	FallbackFields []string `json:"fallbackFields,omitempty"`

	translations map[string]string
}

// Normalize reduces a BCP 47 tag to its lowercase base language ("ru-RU" -> "ru").
func Normalize(tag string) string {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return ""
	}
	if t, err := language.Parse(strings.ReplaceAll(tag, "_", "-")); err == nil {
		base, _ := t.Base()
		return base.String()
	}
	// Not a valid tag; keep the primary subtag as-is.
	primary := strings.FieldsFunc(tag, func(r rune) bool { return r == '-' || r == '_' })
	if len(primary) == 0 {
		return ""
	}
	return strings.ToLower(primary[0])
}

// Resolve applies the priority explicit override > host-declared language > base language.
// A candidate is only taken when the campaign enables it. A campaign without a base
// language is not localized: its translations are ignored and content renders as authored.
func Resolve(loc *domain.LocalizationConfig, override, hostLang string) Resolution {
	base := ""
	if loc != nil {
		base = Normalize(loc.BaseLang)
	}
	if base == "" {
		return Resolution{Lang: Normalize(hostLang), BaseLang: "", Source: SourceHost}
	}

	res := Resolution{Lang: base, BaseLang: base, Source: SourceBase}

	if o := Normalize(override); o != "" && loc.OverrideAllowed() && enabled(loc, base, o) {
		res.Lang, res.Source = o, SourceOverride
	} else if h := Normalize(hostLang); h != "" && enabled(loc, base, h) {
		res.Lang, res.Source = h, SourceHost
	}

	if res.Lang != base {
		res.translations = lookup(loc.Translations, res.Lang)
	}
	return res
}

// Localize returns fields in the resolved language. A field with no translation keeps
// its base value and marks the resolution as having used the fallback.
func (r *Resolution) Localize(fields map[string]string) map[string]string {
	out := make(map[string]string, len(fields))
	r.FallbackFields = nil
	r.UsedFallback = false

	for key, baseValue := range fields {
		if r.Lang == r.BaseLang || r.BaseLang == "" {
			out[key] = baseValue
			continue
		}
		if translated, ok := r.translations[key]; ok && translated != "" {
			out[key] = translated
			continue
		}
		out[key] = baseValue
		r.FallbackFields = append(r.FallbackFields, key)
	}

	sort.Strings(r.FallbackFields)
	r.UsedFallback = len(r.FallbackFields) > 0
	return out
}

func enabled(loc *domain.LocalizationConfig, base, lang string) bool {
	if lang == base {
		return true
	}
	for _, l := range loc.EnabledLangs {
		if Normalize(l) == lang {
			return true
		}
	}
	return false
}

// lookup tolerates translation maps keyed by regional tags ("pt-BR") as well as base codes.
func lookup(translations map[string]map[string]string, lang string) map[string]string {
	if t, ok := translations[lang]; ok {
		return t
	}
	keys := make([]string, 0, len(translations))
	for k := range translations {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if Normalize(k) == lang {
			return translations[k]
		}
	}
	return nil
}
