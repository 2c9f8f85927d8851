package matching

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lalithlochan/bloodlink/internal/blood"
	"github.com/lalithlochan/bloodlink/internal/db"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

const goodToken = "fcm:abcdefghijkl"

func donor(id string, g blood.Group) db.Donor {
	return db.Donor{
		DonorID:     id,
		BloodGroup:  g,
		District:    "Dhaka",
		PushToken:   goodToken + id,
		DeviceID:    "dev-" + id,
		IsAvailable: true,
		IsActive:    true,
	}
}

func ids(list []Eligible) []string {
	out := make([]string, len(list))
	for i, e := range list {
		out[i] = e.Donor.DonorID
	}
	return out
}

type fakeRegistry struct {
	mu      sync.Mutex
	donors  []db.Candidate
	devices map[string][]string
	queries []db.DonorQuery
	err     error
}

func (r *fakeRegistry) FindDonors(_ context.Context, q db.DonorQuery) ([]db.Candidate, error) {
	r.mu.Lock()
	r.queries = append(r.queries, q)
	r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}

	var out []db.Candidate
	for _, c := range r.donors {
		if c.Donor.District == q.District && c.Donor.IsActive && slices.Contains(q.Groups, c.Donor.BloodGroup) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *fakeRegistry) DeviceIDsForUser(_ context.Context, userID string) ([]string, error) {
	return r.devices[userID], nil
}

func TestValidToken(t *testing.T) {
	assert.True(t, ValidToken("abc:defghij"))
	assert.False(t, ValidToken(""))
	assert.False(t, ValidToken("a:b"))
	assert.False(t, ValidToken("abcdefghijklmnop"))
}

func TestIsEligibleBoundary(t *testing.T) {
	assert.True(t, IsEligible(db.Unset(), now), "never donated")
	assert.True(t, IsEligible(db.At(now.Add(-90*24*time.Hour)), now), "exactly 90 days")
	assert.False(t, IsEligible(db.At(now.Add(-89*24*time.Hour)), now), "89 days")
	assert.False(t, IsEligible(db.At(now.Add(-90*24*time.Hour+time.Second)), now), "one second short")
	assert.True(t, IsEligible(db.At(now.Add(-400*24*time.Hour)), now))
}

func TestFilterSelfExclusion(t *testing.T) {
	requester := donor("u1", blood.ONeg)
	sameDevice := donor("u1-old-account", blood.ONeg)
	sameDevice.DeviceID = "phone-1"
	other := donor("d2", blood.ONeg)

	f := Filter{Now: now, RequesterID: "u1", RequesterDevices: []string{"phone-1"}}
	got := f.Apply([]db.Candidate{{Donor: requester}, {Donor: sameDevice}, {Donor: other}})

	assert.Equal(t, []string{"d2"}, ids(got))
}

func TestFilterSelfExclusionIgnoresOtherFields(t *testing.T) {
	requester := donor("u1", blood.ONeg)
	requester.LastDonationDate = db.Unset()
	requester.IsLoggedIn = true

	got := Filter{Now: now, RequesterID: "u1"}.Apply([]db.Candidate{{Donor: requester}})
	assert.Empty(t, got)
}

func TestFilterAvailabilityAndRecency(t *testing.T) {
	unavailable := donor("d1", blood.APos)
	unavailable.IsAvailable = false

	recent := donor("d2", blood.APos)
	recent.LastDonationDate = db.At(now.Add(-89 * 24 * time.Hour))

	boundary := donor("d3", blood.APos)
	boundary.LastDonationDate = db.At(now.Add(-90 * 24 * time.Hour))

	never := donor("d4", blood.APos)

	got := Filter{Now: now}.Apply([]db.Candidate{
		{Donor: unavailable}, {Donor: recent}, {Donor: boundary}, {Donor: never},
	})

	require.Equal(t, []string{"d3", "d4"}, ids(got))
	assert.Equal(t, 90, got[0].DaysSinceLastDonation)
	assert.Equal(t, 0, got[1].DaysSinceLastDonation)
}

func TestFilterDeduplicates(t *testing.T) {
	d := donor("d1", blood.ONeg)
	got := Filter{Now: now}.Apply([]db.Candidate{{Donor: d}, {Donor: d}})
	assert.Equal(t, []string{"d1"}, ids(got))
}

func TestFilterSkipsMalformed(t *testing.T) {
	bad := db.Candidate{Donor: donor("d1", blood.ONeg), Err: db.ErrMalformedInstant}
	good := db.Candidate{Donor: donor("d2", blood.ONeg)}

	got := Filter{Now: now, Logger: zap.NewNop()}.Apply([]db.Candidate{bad, good})
	assert.Equal(t, []string{"d2"}, ids(got))
}

func TestFilterRanking(t *testing.T) {
	noToken := donor("no-token", blood.OPos)
	noToken.PushToken = ""
	noToken.LastDonationDate = db.At(now.Add(-500 * 24 * time.Hour))

	badToken := donor("bad-token", blood.OPos)
	badToken.PushToken = "short"

	old := donor("old", blood.OPos)
	old.LastDonationDate = db.At(now.Add(-300 * 24 * time.Hour))

	newer := donor("newer", blood.OPos)
	newer.LastDonationDate = db.At(now.Add(-100 * 24 * time.Hour))

	never := donor("never", blood.OPos)

	got := Filter{Now: now}.Apply([]db.Candidate{
		{Donor: noToken}, {Donor: never}, {Donor: newer}, {Donor: badToken}, {Donor: old},
	})

	assert.Equal(t, []string{"old", "newer", "never", "no-token", "bad-token"}, ids(got))
}

func TestFinderEndToEnd(t *testing.T) {
	reg := &fakeRegistry{
		donors: []db.Candidate{
			{Donor: donor("a", blood.APos)},
			{Donor: donor("b", blood.BPos)},
			{Donor: donor("o", blood.ONeg)},
			{Donor: donor("u1", blood.ONeg)},
			{Donor: donor("ab", blood.ABNeg)},
		},
	}

	f := NewFinder(reg, zap.NewNop())
	f.now = func() time.Time { return now }

	got, err := f.Match(context.Background(), Request{BloodGroup: blood.ONeg, District: "Dhaka", RequesterID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"o"}, ids(got))
}

func TestFinderQueriesEachCompatibleGroup(t *testing.T) {
	reg := &fakeRegistry{
		donors: []db.Candidate{
			{Donor: donor("a", blood.APos)},
			{Donor: donor("o", blood.ONeg)},
			{Donor: donor("elsewhere", blood.ONeg)},
		},
	}
	reg.donors[2].Donor.District = "Sylhet"

	f := NewFinder(reg, zap.NewNop())
	f.now = func() time.Time { return now }

	got, err := f.Match(context.Background(), Request{BloodGroup: blood.ABPos, District: "Dhaka"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "o"}, ids(got))
	assert.Len(t, reg.queries, 8)
	for _, q := range reg.queries {
		assert.Len(t, q.Groups, 1)
		assert.Equal(t, "Dhaka", q.District)
	}
}

func TestFinderRegistryError(t *testing.T) {
	reg := &fakeRegistry{err: errors.New("connection refused")}

	_, err := NewFinder(reg, zap.NewNop()).Match(context.Background(), Request{BloodGroup: blood.ONeg, District: "Dhaka"})
	assert.Error(t, err)
}

func TestFinderInvalidGroup(t *testing.T) {
	_, err := NewFinder(&fakeRegistry{}, zap.NewNop()).Match(context.Background(), Request{BloodGroup: "Q", District: "Dhaka"})
	assert.ErrorIs(t, err, blood.ErrInvalidBloodGroup)
}
