package services

import (
	"context"
	"errors"
	"sort"

	"github.com/solarshop/api/internal/repositories"
)

// DefaultBranchSearchRadius is the distance ceiling applied when none is configured.
const DefaultBranchSearchRadius = 500_000.0

// BranchLocator finds the closest fulfilment branch to a point.
type BranchLocator struct {
	branches repositories.BranchRepository
}

// NewBranchLocator constructs a locator over the branch repository.
func NewBranchLocator(branches repositories.BranchRepository) (*BranchLocator, error) {
	if branches == nil {
		return nil, errors.New("branch locator: branch repository is required")
	}
	return &BranchLocator{branches: branches}, nil
}

// Nearest returns the branch with the smallest great-circle distance to origin that lies within
// maxDistance meters. Equal distances resolve to the lexicographically smallest branch id.
func (l *BranchLocator) Nearest(ctx context.Context, origin GeoPoint, maxDistance float64) (Branch, float64, bool, error) {
	branches, err := l.branches.ListLocated(ctx)
	if err != nil {
		return Branch{}, 0, false, err
	}
	candidates := RankBranches(origin, branches, maxDistance)
	if len(candidates) == 0 {
		return Branch{}, 0, false, nil
	}
	return candidates[0].Branch, candidates[0].Distance, true, nil
}

// BranchDistance pairs a branch with its distance from the search origin.
type BranchDistance struct {
	Branch   Branch
	Distance float64
}

// RankBranches filters branches to those within maxDistance of origin and orders them by
// ascending distance, then by id.
func RankBranches(origin GeoPoint, branches []Branch, maxDistance float64) []BranchDistance {
	ranked := make([]BranchDistance, 0, len(branches))
	for _, branch := range branches {
		distance := origin.DistanceTo(branch.Location)
		if distance > maxDistance {
			continue
		}
		ranked = append(ranked, BranchDistance{Branch: branch, Distance: distance})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Distance != ranked[j].Distance {
			return ranked[i].Distance < ranked[j].Distance
		}
		return ranked[i].Branch.ID < ranked[j].Branch.ID
	})
	return ranked
}
