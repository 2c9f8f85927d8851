package matching

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lalithlochan/bloodlink/internal/blood"
	"github.com/lalithlochan/bloodlink/internal/db"
)

// DonorRegistry is the read surface matching needs from donor storage.
// FindDonors returns candidates in no particular order; ranking is done here.
type DonorRegistry interface {
	FindDonors(ctx context.Context, q db.DonorQuery) ([]db.Candidate, error)
	DeviceIDsForUser(ctx context.Context, userID string) ([]string, error)
}

// Request is what matching needs to know about a blood request.
type Request struct {
	BloodGroup  blood.Group
	District    string
	RequesterID string
}

// Finder queries the registry once per compatible group and filters the merged result.
type Finder struct {
	registry DonorRegistry
	logger   *zap.Logger
	now      func() time.Time
}

// NewFinder creates a Finder.
func NewFinder(registry DonorRegistry, logger *zap.Logger) *Finder {
	return &Finder{
		registry: registry,
		logger:   logger,
		now:      time.Now,
	}
}

// Match returns the ranked notify-list for req. Group queries run
// concurrently and are merged only after all of them returned; any registry
// error fails the whole match.
func (f *Finder) Match(ctx context.Context, req Request) ([]Eligible, error) {
	groups := blood.CompatibleDonorGroups(req.BloodGroup)
	if len(groups) == 0 {
		return nil, fmt.Errorf("%w: %q", blood.ErrInvalidBloodGroup, req.BloodGroup)
	}

	results := make([][]db.Candidate, len(groups))
	var devices []string

	g, gctx := errgroup.WithContext(ctx)
	for i, group := range groups {
		g.Go(func() error {
			candidates, err := f.registry.FindDonors(gctx, db.DonorQuery{
				Groups:   []blood.Group{group},
				District: req.District,
			})
			if err != nil {
				return fmt.Errorf("find %s donors: %w", group, err)
			}
			results[i] = candidates
			return nil
		})
	}

	if req.RequesterID != "" {
		g.Go(func() error {
			ids, err := f.registry.DeviceIDsForUser(gctx, req.RequesterID)
			if err != nil {
				return fmt.Errorf("resolve requester devices: %w", err)
			}
			devices = ids
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	var merged []db.Candidate
	for _, r := range results {
		merged = append(merged, r...)
	}

	eligible := Filter{
		Now:              f.now(),
		RequesterID:      req.RequesterID,
		RequesterDevices: devices,
		Logger:           f.logger,
	}.Apply(merged)

	f.logger.Info("donors matched",
		zap.String("blood_group", string(req.BloodGroup)),
		zap.String("district", req.District),
		zap.Int("compatible_groups", len(groups)),
		zap.Int("candidates", len(merged)),
		zap.Int("eligible", len(eligible)),
	)

	return eligible, nil
}
