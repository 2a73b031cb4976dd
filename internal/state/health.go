package state

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/blueberrycongee/llmroute/pkg/router"
)

// SetCooldown excludes a deployment from selection for d. The marker
// expires on its own. It returns the stored record, or nil when d <= 0.
func (b *Backend) SetCooldown(ctx context.Context, id string, d time.Duration, reason string) *router.Cooldown {
	if d <= 0 {
		return nil
	}
	now := b.now()
	cd := &router.Cooldown{Reason: reason, EnteredAt: now, ExpiresAt: now.Add(d)}
	raw, err := json.Marshal(cd)
	if err != nil {
		b.report(ctx, "set_cooldown", id, err)
		return cd
	}
	b.report(ctx, "set_cooldown", id, b.store.SetEX(ctx, b.key(keyCooldown, id), string(raw), d))
	return cd
}

// ClearCooldown removes a cooldown marker.
func (b *Backend) ClearCooldown(ctx context.Context, id string) {
	b.report(ctx, "clear_cooldown", id, b.store.Del(ctx, b.key(keyCooldown, id)))
}

// IsCooledDown reports whether a deployment is currently in cooldown.
func (b *Backend) IsCooledDown(ctx context.Context, id string) bool {
	return b.GetCooldown(ctx, id) != nil
}

// GetCooldown returns the active cooldown, or nil.
func (b *Backend) GetCooldown(ctx context.Context, id string) *router.Cooldown {
	return b.GetCooldownBatch(ctx, []string{id})[id]
}

// GetCooldownBatch implements router.StateReader. Expired records read as absent.
func (b *Backend) GetCooldownBatch(ctx context.Context, ids []string) map[string]*router.Cooldown {
	keys := b.keys(keyCooldown, ids)
	out := make(map[string]*router.Cooldown, len(ids))

	values, err := b.store.MGet(ctx, keys)
	if err != nil {
		b.report(ctx, "get_cooldown", strings.Join(ids, ","), err)
		return out
	}

	now := b.now()
	for i, id := range ids {
		raw, ok := values[keys[i]]
		if !ok {
			continue
		}
		var cd router.Cooldown
		if err := json.Unmarshal([]byte(raw), &cd); err != nil {
			// the marker's presence is what excludes the deployment
			b.logger.Error("malformed cooldown record", "deployment_id", id, "error", err)
			out[id] = &router.Cooldown{Reason: "unknown"}
			continue
		}
		if !cd.ExpiresAt.IsZero() && !now.Before(cd.ExpiresAt) {
			continue
		}
		out[id] = &cd
	}
	return out
}

func unixMillis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func parseMillis(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// RecordSuccess clears the failure streak, marks the deployment healthy and stamps last_success_at.
func (b *Backend) RecordSuccess(ctx context.Context, id string) {
	err := b.store.HSet(ctx, b.key(keyHealth, id), map[string]string{
		fieldHealthy:       "1",
		fieldFailures:      "0",
		fieldCooldownBound: "0",
		fieldLastSuccessAt: unixMillis(b.now()),
	})
	b.report(ctx, "record_success", id, err)
}

// RecordFailure increments the failure streak and returns its new length.
func (b *Backend) RecordFailure(ctx context.Context, id string, cause error) int {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	if len(msg) > maxErrorLength {
		msg = msg[:maxErrorLength]
	}
	n, err := b.store.HIncrBy(ctx, b.key(keyHealth, id), fieldFailures, 1, map[string]string{
		fieldLastError:   msg,
		fieldLastErrorAt: unixMillis(b.now()),
	})
	b.report(ctx, "record_failure", id, err)
	return int(n)
}

// SetHealth sets the health flag. An unhealthy flag set here stays until a
// success or another SetHealth(true).
func (b *Backend) SetHealth(ctx context.Context, id string, healthy bool) {
	flag := "0"
	if healthy {
		flag = "1"
	}
	err := b.store.HSet(ctx, b.key(keyHealth, id), map[string]string{
		fieldHealthy:       flag,
		fieldCooldownBound: "0",
	})
	b.report(ctx, "set_health", id, err)
}

// MarkUnhealthyForCooldown flags the deployment unhealthy until its current
// cooldown expires.
func (b *Backend) MarkUnhealthyForCooldown(ctx context.Context, id string) {
	err := b.store.HSet(ctx, b.key(keyHealth, id), map[string]string{
		fieldHealthy:       "0",
		fieldCooldownBound: "1",
	})
	b.report(ctx, "set_health", id, err)
}

// GetHealthBatch implements router.StateReader. Deployments without a
// record are healthy.
func (b *Backend) GetHealthBatch(ctx context.Context, ids []string) map[string]router.Health {
	keys := b.keys(keyHealth, ids)
	out := make(map[string]router.Health, len(ids))

	records, err := b.store.HGetAll(ctx, keys)
	if err != nil {
		b.report(ctx, "get_health", strings.Join(ids, ","), err)
	}

	var bound []string
	for i, id := range ids {
		rec, ok := records[keys[i]]
		if !ok {
			out[id] = router.Health{Healthy: true}
			continue
		}
		failures, _ := strconv.Atoi(rec[fieldFailures])
		h := router.Health{
			Healthy:             rec[fieldHealthy] != "0",
			ConsecutiveFailures: failures,
			LastError:           rec[fieldLastError],
			LastErrorAt:         parseMillis(rec[fieldLastErrorAt]),
			LastSuccessAt:       parseMillis(rec[fieldLastSuccessAt]),
		}
		if !h.Healthy && rec[fieldCooldownBound] == "1" {
			bound = append(bound, id)
		}
		out[id] = h
	}

	if len(bound) > 0 {
		active := b.GetCooldownBatch(ctx, bound)
		for _, id := range bound {
			if active[id] == nil {
				h := out[id]
				h.Healthy = true
				out[id] = h
			}
		}
	}
	return out
}
