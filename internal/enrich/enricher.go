// Package enrich augments raw events with geo, velocity, and device history
// data before scoring.
package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/theomodesto/fraudshield/internal/domain"
	"github.com/theomodesto/fraudshield/internal/geo"
)

// Enricher builds EnrichedEvents from RawEvents. Every enrichment source is
// best-effort: a failed lookup leaves its field nil and the pipeline keeps
// moving.
type Enricher struct {
	geo           domain.GeoProvider
	cache         domain.Cache
	window        time.Duration
	lookupTimeout time.Duration
}

// New creates an enricher. The geo provider may be nil when no database is
// available; geo enrichment is then skipped entirely.
func New(geoProvider domain.GeoProvider, cache domain.Cache, cfg domain.Config) *Enricher {
	window := cfg.Scoring.VelocityWindow
	if window <= 0 {
		window = 24 * time.Hour
	}
	lookupTimeout := cfg.Geo.LookupTimeout
	if lookupTimeout <= 0 {
		lookupTimeout = 500 * time.Millisecond
	}

	return &Enricher{
		geo:           geoProvider,
		cache:         cache,
		window:        window,
		lookupTimeout: lookupTimeout,
	}
}

// Enrich produces the enriched event for one raw event. Velocity counters
// increment as a side effect, so each raw event must be enriched exactly
// once. When the merchant has IP anonymization on, the original address is
// used for lookups and counters but never leaves this function.
func (e *Enricher) Enrich(ctx context.Context, raw *domain.RawEvent, settings *domain.MerchantSettings) *domain.EnrichedEvent {
	ev := &domain.EnrichedEvent{RawEvent: *raw}

	ev.GeoData = e.lookupGeo(ctx, raw.SourceIP)
	ev.VelocityData = e.computeVelocity(ctx, raw)

	if settings != nil && settings.IPAnonymization {
		ev.AnonymizedIP = geo.AnonymizeIP(raw.SourceIP)
		ev.SourceIP = ""
	}

	return ev
}

// lookupGeo resolves geo data within a bounded timeout. Slow or failing
// lookups return nil rather than stalling the evaluation.
func (e *Enricher) lookupGeo(ctx context.Context, ip string) *domain.GeoInfo {
	if e.geo == nil || ip == "" {
		return nil
	}

	lookupCtx, cancel := context.WithTimeout(ctx, e.lookupTimeout)
	defer cancel()

	info, err := e.geo.Lookup(lookupCtx, ip)
	if err != nil {
		slog.Warn("geo lookup failed", "error", err)
		return nil
	}
	return info
}

// computeVelocity increments the session, IP, and device counters and reads
// device history. Counter windows are anchored at the first increment.
func (e *Enricher) computeVelocity(ctx context.Context, raw *domain.RawEvent) *domain.VelocityData {
	v := &domain.VelocityData{}

	sessionKey := fmt.Sprintf("velocity:session:%s:%s", raw.MerchantID, raw.SessionID)
	if n, err := e.cache.IncrementCounter(ctx, sessionKey, e.window); err != nil {
		slog.Warn("session velocity counter failed", "error", err)
	} else {
		v.SessionCount = n
	}

	if raw.SourceIP != "" {
		ipKey := "velocity:ip:" + raw.SourceIP
		if n, err := e.cache.IncrementCounter(ctx, ipKey, e.window); err != nil {
			slog.Warn("ip velocity counter failed", "error", err)
		} else {
			v.IPCount = n
		}
	}

	visitorID := raw.FingerprintData.VisitorID
	if visitorID != "" {
		deviceKey := "velocity:device:" + visitorID
		if n, err := e.cache.IncrementCounter(ctx, deviceKey, e.window); err != nil {
			slog.Warn("device velocity counter failed", "error", err)
		} else {
			v.DeviceCount = n
		}

		v.FirstSeenDevice, v.SecondsSinceLastSeen = e.touchDeviceLastSeen(ctx, visitorID, raw.TimestampMs)
	}

	return v
}

// touchDeviceLastSeen reads the device's previous last-seen timestamp and
// writes the current one. First sight of a device reports firstSeen true and
// zero elapsed seconds.
func (e *Enricher) touchDeviceLastSeen(ctx context.Context, visitorID string, nowMs int64) (firstSeen bool, elapsed int64) {
	key := "device:lastseen:" + visitorID

	prev, err := e.cache.Get(ctx, key)
	if err != nil {
		slog.Warn("device last-seen read failed", "error", err)
	}

	firstSeen = prev == nil
	if prev != nil {
		if prevMs, perr := strconv.ParseInt(string(prev), 10, 64); perr == nil && nowMs >= prevMs {
			elapsed = (nowMs - prevMs) / 1000
		}
	}

	if err := e.cache.Set(ctx, key, []byte(strconv.FormatInt(nowMs, 10)), e.window); err != nil {
		slog.Warn("device last-seen write failed", "error", err)
	}

	return firstSeen, elapsed
}
