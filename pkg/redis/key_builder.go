package redis

import "fmt"

// KeyBuilder provides environment-aware Redis key building functionality
type KeyBuilder struct {
	prefix string // Environment prefix (staging/prod)
}

// NewKeyBuilder creates a new key builder with environment-based prefix
func NewKeyBuilder(environment string) *KeyBuilder {
	prefix := "prod"
	if environment == "development" || environment == "staging" {
		prefix = "staging"
	}

	return &KeyBuilder{
		prefix: prefix,
	}
}

// BuildKey constructs a Redis key with the environment prefix
func (kb *KeyBuilder) BuildKey(key string) string {
	return fmt.Sprintf("%s:%s", kb.prefix, key)
}

// GetPrefix returns the current environment prefix
func (kb *KeyBuilder) GetPrefix() string {
	return kb.prefix
}

// Frequency key builders
func (kb *KeyBuilder) KeyFrequencyDurable(visitorID, frequencyKey string) string {
	return kb.BuildKey(fmt.Sprintf(KeyFrequencyDurable, visitorID, frequencyKey))
}

func (kb *KeyBuilder) KeyFrequencySession(sessionID, frequencyKey string) string {
	return kb.BuildKey(fmt.Sprintf(KeyFrequencySession, sessionID, frequencyKey))
}

// Visit key builders
func (kb *KeyBuilder) KeyVisitStats(visitorID string) string {
	return kb.BuildKey(fmt.Sprintf(KeyVisitStats, visitorID))
}

// Boot payload key builders
func (kb *KeyBuilder) KeyBootPayload(siteID string) string {
	return kb.BuildKey(fmt.Sprintf(KeyBootPayload, siteID))
}

// Rate limit key builders
func (kb *KeyBuilder) KeyEventRateLimit(clientHash string) string {
	return kb.BuildKey(fmt.Sprintf(KeyEventRateLimit, clientHash))
}
