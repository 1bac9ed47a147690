// Package frequency implements per-campaign frequency capping over two persistence
// scopes: a durable one that survives browser sessions and a session-bound one.
//
// Records are read-modify-written without cross-page coordination. Two pages of the
// same visitor that show the same campaign at the same moment can both pass MayShow
// and both record, overshooting a cap by one. That drift is accepted; the scopes are
// treated as eventually consistent rather than locked.
package frequency

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"popup-runtime/internal/domain"
	"popup-runtime/pkg/logger"
)

// Record field names
const (
	fieldShownTotal   = "shown_total"
	fieldShown24h     = "shown_24h"
	fieldLastShownAt  = "last_shown_at"
	fieldLastClosedAt = "last_closed_at"
	fieldDayBucket    = "day_bucket"
	fieldSessionShown = "session_shown"
)

const dayBucketLayout = "2006-01-02"

// DenyReason says which cap blocked a campaign
type DenyReason string

const (
	ReasonNone       DenyReason = ""
	ReasonShowOnce   DenyReason = "show_once"
	ReasonMaxPer24h  DenyReason = "max_per_24h"
	ReasonCooldown   DenyReason = "cooldown_after_close"
	ReasonMaxSession DenyReason = "max_per_session"
)

// Key identifies a frequency record
type Key string

// KeyFor derives the record key. Without PerCampaign the key ignores the version, so
// caps carry across republished versions of the same campaign.
func KeyFor(campaignID, versionID string, cfg domain.FrequencyConfig) Key {
	if cfg.PerCampaign && versionID != "" {
		return Key(campaignID + ":" + versionID)
	}
	return Key(campaignID)
}

// Clock is the time source of the store
type Clock interface {
	Now() time.Time
}

// Store evaluates and records frequency caps
type Store struct {
	durable Scope
	session Scope
	clock   Clock
	loc     *time.Location
	timeout time.Duration
	log     *logger.Logger
}

// Option configures a Store
type Option func(*Store)

// WithLocation sets the timezone that defines calendar-day buckets
func WithLocation(loc *time.Location) Option {
	return func(s *Store) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithTimeout bounds every storage call
func WithTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewStore creates a store. Nil scopes are treated as unavailable storage.
func NewStore(durable, session Scope, clock Clock, log *logger.Logger, opts ...Option) *Store {
	if durable == nil {
		durable = UnavailableScope{}
	}
	if session == nil {
		session = UnavailableScope{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	s := &Store{
		durable: durable,
		session: session,
		clock:   clock,
		loc:     time.UTC,
		timeout: 750 * time.Millisecond,
		log:     log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MayShow reports whether the campaign behind key may be displayed now
func (s *Store) MayShow(ctx context.Context, key Key, cfg domain.FrequencyConfig) bool {
	return s.Check(ctx, key, cfg) == ReasonNone
}

// Check evaluates the caps in order, stopping at the first that denies. A scope that
// cannot be read is skipped, so unavailable storage degrades to admitting.
func (s *Store) Check(ctx context.Context, key Key, cfg domain.FrequencyConfig) DenyReason {
	now := s.clock.Now()

	rec, err := s.load(ctx, key)
	if err != nil {
		s.log.WithError(err).WithField("frequency_key", string(key)).Warn("Durable frequency scope unavailable, admitting")
	} else {
		if cfg.ShowOnce && rec.ShownTotal > 0 {
			return ReasonShowOnce
		}
		if limit, ok := positive(cfg.MaxPer24h); ok && rec.LastShownAt != nil &&
			now.Sub(*rec.LastShownAt) < 24*time.Hour && rec.Shown24h >= limit {
			return ReasonMaxPer24h
		}
		if hours, ok := positive(cfg.CooldownAfterCloseHours); ok && rec.LastClosedAt != nil &&
			now.Sub(*rec.LastClosedAt) < time.Duration(hours)*time.Hour {
			return ReasonCooldown
		}
	}

	if limit, ok := positive(cfg.MaxPerSession); ok {
		count, err := s.sessionCount(ctx, key)
		if err != nil {
			s.log.WithError(err).WithField("frequency_key", string(key)).Warn("Session frequency scope unavailable, admitting")
		} else if count >= limit {
			return ReasonMaxSession
		}
	}

	return ReasonNone
}

// RecordShown bumps the totals, rolls the day bucket and increments the session counter.
// Storage failures are logged and swallowed. When the durable record cannot be read it
// is left untouched, so a failed read never overwrites stored counts.
func (s *Store) RecordShown(ctx context.Context, key Key) {
	if err := s.recordDurableShow(ctx, key); err != nil {
		s.log.WithError(err).WithField("frequency_key", string(key)).Warn("Failed to record show in durable scope")
	}

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if _, err := s.session.Incr(cctx, string(key), fieldSessionShown, 1); err != nil {
		s.log.WithError(err).WithField("frequency_key", string(key)).Warn("Failed to increment session frequency counter")
	}
}

func (s *Store) recordDurableShow(ctx context.Context, key Key) error {
	now := s.clock.Now()

	rec, err := s.load(ctx, key)
	if err != nil {
		return fmt.Errorf("load: %w", err)
	}

	today := now.In(s.loc).Format(dayBucketLayout)
	if rec.LastShownAt == nil || rec.LastShownAt.In(s.loc).Format(dayBucketLayout) != today {
		rec.Shown24h = 1
	} else {
		rec.Shown24h++
	}
	rec.LastDayBucket = today
	rec.ShownTotal++
	rec.LastShownAt = &now

	if err := s.save(ctx, key, encode(rec, true, false)); err != nil {
		return fmt.Errorf("save: %w", err)
	}
	return nil
}

// RecordClosed only stamps the close time
func (s *Store) RecordClosed(ctx context.Context, key Key) {
	now := s.clock.Now()
	rec := domain.FrequencyRecord{LastClosedAt: &now}
	if err := s.save(ctx, key, encode(rec, false, true)); err != nil {
		s.log.WithError(err).WithField("frequency_key", string(key)).Warn("Failed to persist close time")
	}
}

// Snapshot returns the durable record and session count for inspection
func (s *Store) Snapshot(ctx context.Context, key Key) (domain.FrequencyRecord, int, error) {
	rec, err := s.load(ctx, key)
	if err != nil {
		return rec, 0, err
	}
	count, err := s.sessionCount(ctx, key)
	return rec, count, err
}

func (s *Store) load(ctx context.Context, key Key) (domain.FrequencyRecord, error) {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	fields, err := s.durable.Load(cctx, string(key))
	if err != nil {
		return domain.FrequencyRecord{}, err
	}
	return decode(fields), nil
}

func (s *Store) save(ctx context.Context, key Key, fields map[string]string) error {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.durable.Save(cctx, string(key), fields)
}

func (s *Store) sessionCount(ctx context.Context, key Key) (int, error) {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	fields, err := s.session.Load(cctx, string(key))
	if err != nil {
		return 0, err
	}
	n, _ := strconv.Atoi(fields[fieldSessionShown])
	return n, nil
}

// positive treats absent and non-positive caps as unset
func positive(v *int) (int, bool) {
	if v == nil || *v <= 0 {
		return 0, false
	}
	return *v, true
}

func encode(rec domain.FrequencyRecord, shown, closed bool) map[string]string {
	fields := make(map[string]string, 5)
	if shown {
		fields[fieldShownTotal] = strconv.Itoa(rec.ShownTotal)
		fields[fieldShown24h] = strconv.Itoa(rec.Shown24h)
		fields[fieldDayBucket] = rec.LastDayBucket
		if rec.LastShownAt != nil {
			fields[fieldLastShownAt] = strconv.FormatInt(rec.LastShownAt.UnixMilli(), 10)
		}
	}
	if closed && rec.LastClosedAt != nil {
		fields[fieldLastClosedAt] = strconv.FormatInt(rec.LastClosedAt.UnixMilli(), 10)
	}
	return fields
}

// decode is lenient: unparsable fields read as zero values
func decode(fields map[string]string) domain.FrequencyRecord {
	var rec domain.FrequencyRecord
	rec.ShownTotal, _ = strconv.Atoi(fields[fieldShownTotal])
	rec.Shown24h, _ = strconv.Atoi(fields[fieldShown24h])
	rec.LastDayBucket = fields[fieldDayBucket]
	rec.LastShownAt = parseMillis(fields[fieldLastShownAt])
	rec.LastClosedAt = parseMillis(fields[fieldLastClosedAt])
	return rec
}

func parseMillis(s string) *time.Time {
	if s == "" {
		return nil
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	t := time.UnixMilli(ms)
	return &t
}
