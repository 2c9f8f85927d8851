// Package matching turns a blood request into the ranked, deduplicated list
// of donors who should be notified.
package matching

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/bloodlink/internal/db"
)

const (
	// EligibilityWindow is the minimum time between donations. A donor at
	// exactly the window boundary is eligible.
	EligibilityWindow = 90 * 24 * time.Hour

	minTokenLength = 10
)

// ValidToken is a structural sanity check on a push token: non-empty, at
// least 10 characters and containing a ':' separator.
func ValidToken(token string) bool {
	return len(token) >= minTokenLength && strings.Contains(token, ":")
}

// Eligible is a donor that passed every filter.
type Eligible struct {
	Donor                 db.Donor
	DaysSinceLastDonation int
}

// HasValidToken reports whether the donor can be reached by push.
func (e Eligible) HasValidToken() bool {
	return ValidToken(e.Donor.PushToken)
}

// Filter applies the identity, availability and donation-recency rules.
type Filter struct {
	Now              time.Time
	RequesterID      string
	RequesterDevices []string
	Logger           *zap.Logger
}

// Apply filters, deduplicates by donor id (first occurrence wins) and ranks
// the result: donors with a valid token first, then longest since last donation.
func (f Filter) Apply(candidates []db.Candidate) []Eligible {
	logger := f.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	devices := make(map[string]struct{}, len(f.RequesterDevices))
	for _, d := range f.RequesterDevices {
		if d != "" {
			devices[d] = struct{}{}
		}
	}

	seen := make(map[string]struct{}, len(candidates))
	out := make([]Eligible, 0, len(candidates))

	for _, c := range candidates {
		if c.Err != nil {
			logger.Warn("skipping malformed donor record",
				zap.String("donor_id", c.Donor.DonorID),
				zap.Error(c.Err),
			)
			continue
		}

		d := c.Donor
		if d.DonorID == "" {
			logger.Warn("skipping donor record without id")
			continue
		}
		if _, dup := seen[d.DonorID]; dup {
			continue
		}
		if d.DonorID == f.RequesterID {
			continue
		}
		if _, own := devices[d.DeviceID]; own && d.DeviceID != "" {
			continue
		}
		if !d.IsAvailable {
			continue
		}

		days, ok := f.recency(d.LastDonationDate)
		if !ok {
			continue
		}

		seen[d.DonorID] = struct{}{}
		out = append(out, Eligible{Donor: d, DaysSinceLastDonation: days})
	}

	slices.SortStableFunc(out, func(a, b Eligible) int {
		av, bv := a.HasValidToken(), b.HasValidToken()
		if av != bv {
			if av {
				return -1
			}
			return 1
		}
		return cmp.Compare(b.DaysSinceLastDonation, a.DaysSinceLastDonation)
	})

	return out
}

// recency returns whole days since the last donation and whether the donor
// is outside the eligibility window. Never donated counts as 0 days, eligible.
func (f Filter) recency(last db.Instant) (int, bool) {
	if !last.IsSet() {
		return 0, true
	}
	since := f.Now.Sub(last.Time())
	if since < EligibilityWindow {
		return 0, false
	}
	return int(since / (24 * time.Hour)), true
}

// IsEligible reports whether a donor whose last donation was at last may donate at now.
func IsEligible(last db.Instant, now time.Time) bool {
	_, ok := Filter{Now: now}.recency(last)
	return ok
}
