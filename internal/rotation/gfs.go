package rotation

import (
	"fmt"
	"sort"
	"time"

	"github.com/localrivet/datadumper/pkg/manifest"
)

type Rotator struct {
	policy *Policy
	now    func() time.Time
}

func NewRotator(policy *Policy) *Rotator {
	return &Rotator{policy: policy, now: time.Now}
}

// Retention returns the keep-until date and tier recorded in a new
// manifest.
func (r *Rotator) Retention(t time.Time) (time.Time, Tier) {
	tier := TierOf(t)
	return r.policy.KeepUntil(t, tier), tier
}

// bucketKeys returns the day, ISO week and month a dump belongs to.
func bucketKeys(t time.Time) map[Tier]string {
	t = t.UTC()
	year, week := t.ISOWeek()
	return map[Tier]string{
		Daily:   t.Format("2006-01-02"),
		Weekly:  fmt.Sprintf("%d-W%02d", year, week),
		Monthly: t.Format("2006-01"),
	}
}

// Expired returns the dumps the policy no longer retains, newest first.
//
// Each tier keeps the newest dump of its most recent N days, ISO weeks or
// months. Dumps older than MaxAgeDays go regardless of tier, except the
// newest dump overall, which is always kept.
func (r *Rotator) Expired(dumps []*manifest.Manifest) []*manifest.Manifest {
	if len(dumps) == 0 {
		return nil
	}

	sorted := make([]*manifest.Manifest, len(dumps))
	copy(sorted, dumps)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.After(sorted[j].Timestamp)
	})

	limits := map[Tier]int{Daily: r.policy.Daily, Weekly: r.policy.Weekly, Monthly: r.policy.Monthly}
	seen := map[Tier]map[string]bool{Daily: {}, Weekly: {}, Monthly: {}}
	keep := make(map[string]bool, len(sorted))

	for _, m := range sorted {
		for tier, key := range bucketKeys(m.Timestamp) {
			if seen[tier][key] || len(seen[tier]) >= limits[tier] {
				continue
			}
			seen[tier][key] = true
			keep[m.ID] = true
		}
	}

	var cutoff time.Time
	if r.policy.MaxAgeDays > 0 {
		cutoff = r.now().AddDate(0, 0, -r.policy.MaxAgeDays)
	}

	var expired []*manifest.Manifest
	for i, m := range sorted {
		if i == 0 {
			continue
		}
		if !keep[m.ID] || (!cutoff.IsZero() && m.Timestamp.Before(cutoff)) {
			expired = append(expired, m)
		}
	}
	return expired
}
