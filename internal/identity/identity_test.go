package identity

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(now *time.Time) *Service {
	s := NewService("test-secret", 30*time.Minute)
	s.now = func() time.Time { return *now }
	return s
}

func TestResume_NewVisitor(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	s := newTestService(&now)

	id, err := s.Resume("")
	require.NoError(t, err)
	assert.True(t, id.NewVisitor)
	assert.True(t, id.NewSession)
	assert.NotEmpty(t, id.VisitorID)
	assert.NotEqual(t, id.VisitorID, id.SessionID)
	assert.NotEmpty(t, id.Token)
}

func TestResume_ContinuesSession(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	s := newTestService(&now)

	first, err := s.Resume("")
	require.NoError(t, err)

	now = now.Add(10 * time.Minute)
	second, err := s.Resume(first.Token)
	require.NoError(t, err)
	assert.False(t, second.NewVisitor)
	assert.False(t, second.NewSession)
	assert.Equal(t, first.VisitorID, second.VisitorID)
	assert.Equal(t, first.SessionID, second.SessionID)

	// The refreshed token slides the idle window.
	now = now.Add(25 * time.Minute)
	third, err := s.Resume(second.Token)
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, third.SessionID)
}

func TestResume_RollsSessionAfterIdle(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	s := newTestService(&now)

	first, err := s.Resume("")
	require.NoError(t, err)

	now = now.Add(31 * time.Minute)
	second, err := s.Resume(first.Token)
	require.NoError(t, err)
	assert.False(t, second.NewVisitor)
	assert.True(t, second.NewSession)
	assert.Equal(t, first.VisitorID, second.VisitorID)
	assert.NotEqual(t, first.SessionID, second.SessionID)
}

func TestValidate_RejectsForeignAndBrokenTokens(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	s := newTestService(&now)
	other := NewService("other-secret", 0)
	other.now = s.now

	foreign, err := other.Resume("")
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty", token: ""},
		{name: "garbage", token: "not.a.token"},
		{name: "wrong secret", token: foreign.Token},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Validate(tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)

			id, err := s.Resume(tt.token)
			require.NoError(t, err)
			assert.True(t, id.NewVisitor)
		})
	}
}

func TestValidate_RejectsUnsignedAlgorithm(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	s := newTestService(&now)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		VisitorID:        "v",
		SessionID:        "s",
		RegisteredClaims: jwt.RegisteredClaims{Issuer: issuer},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = s.Validate(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidate_Expired(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	s := newTestService(&now)

	id, err := s.Resume("")
	require.NoError(t, err)

	now = now.Add(tokenLifetime + time.Hour)
	_, err = s.Validate(id.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
