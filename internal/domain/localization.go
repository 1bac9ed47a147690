package domain

// LocalizationConfig declares the languages a campaign is authored in
type LocalizationConfig struct {
	BaseLang      string   `json:"baseLang"`
	EnabledLangs  []string `json:"enabledLangs"`
	AllowOverride *bool    `json:"allowOverride,omitempty"`
	// Translations maps language -> field key (see FieldKey) -> text
	Translations map[string]map[string]string `json:"translations"`
}

// OverrideAllowed reports whether an explicit language override is honored. Defaults to true.
func (l *LocalizationConfig) OverrideAllowed() bool {
	return l.AllowOverride == nil || *l.AllowOverride
}
