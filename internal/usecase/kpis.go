package usecase

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"harborguide/internal/domain"
	"harborguide/internal/session"
)

type kpiEntry struct {
	set     domain.KPISet
	expires time.Time
}

// kpiCache memoizes successful KPI responses per backend address. Misses for
// the same address share one in-flight call.
type kpiCache struct {
	mu      sync.Mutex
	entries map[string]kpiEntry
	ttl     time.Duration
	group   singleflight.Group
	now     func() time.Time
}

func newKPICache(ttl time.Duration, now func() time.Time) *kpiCache {
	return &kpiCache{entries: make(map[string]kpiEntry), ttl: ttl, now: now}
}

func (c *kpiCache) lookup(key string) (domain.KPISet, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return domain.KPISet{}, false
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, key)
		return domain.KPISet{}, false
	}
	return e.set, true
}

func (c *kpiCache) store(key string, set domain.KPISet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = kpiEntry{set: set, expires: c.now().Add(c.ttl)}
}

// get returns a cached set or runs fetch once for all concurrent callers.
// Failed fetches are not cached.
func (c *kpiCache) get(key string, fetch func() (domain.KPISet, error)) (domain.KPISet, error) {
	if set, ok := c.lookup(key); ok {
		return cloneKPIs(set), nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		if set, ok := c.lookup(key); ok {
			return set, nil
		}
		set, err := fetch()
		if err != nil {
			return nil, err
		}
		c.store(key, set)
		return set, nil
	})
	if err != nil {
		return domain.KPISet{}, err
	}
	return cloneKPIs(v.(domain.KPISet)), nil
}

func cloneKPIs(s domain.KPISet) domain.KPISet {
	out := domain.KPISet{KPIs: make(map[string]domain.KPI, len(s.KPIs))}
	for k, v := range s.KPIs {
		out.KPIs[k] = v
	}
	if s.TopVessels != nil {
		out.TopVessels = make([]map[string]any, len(s.TopVessels))
		copy(out.TopVessels, s.TopVessels)
	}
	return out
}

// FetchKPIs returns live KPIs when the session's backend is healthy and
// answers, and the static defaults otherwise.
func (r *Resolver) FetchKPIs(ctx context.Context, sess *session.Session) Outcome[domain.KPISet] {
	if !r.healthy(ctx, sess) {
		r.logFallback(sess, "kpis", errBackendDown)
		return Fallback(r.fallback.KPIs(), errBackendDown)
	}

	baseURL := r.BackendURL(sess)
	set, err := r.kpis.get(baseURL, func() (domain.KPISet, error) {
		// Callers share this fetch, so one caller going away must not cancel it.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeouts.KPIs)
		defer cancel()
		return r.backend.KPIs(ctx, baseURL)
	})
	if err != nil {
		cause := classify(err)
		r.logFallback(sess, "kpis", cause)
		return Fallback(r.fallback.KPIs(), cause)
	}
	return Remote(set)
}
