package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/solarshop/api/internal/domain"
	pfirestore "github.com/solarshop/api/internal/platform/firestore"
	"github.com/solarshop/api/internal/repositories"
)

const branchCollection = "branches"

// BranchRepository reads branch locations from Firestore.
type BranchRepository struct {
	base *pfirestore.Collection[branchDocument]
}

var _ repositories.BranchRepository = (*BranchRepository)(nil)

// NewBranchRepository constructs a Firestore-backed branch repository.
func NewBranchRepository(provider *pfirestore.Provider) (*BranchRepository, error) {
	if provider == nil {
		return nil, errors.New("branch repository requires firestore provider")
	}
	return &BranchRepository{base: pfirestore.NewCollection[branchDocument](provider, branchCollection)}, nil
}

// FindByID loads a single branch.
func (r *BranchRepository) FindByID(ctx context.Context, branchID string) (domain.Branch, error) {
	if r == nil || r.base == nil {
		return domain.Branch{}, errors.New("branch repository not initialised")
	}
	if strings.TrimSpace(branchID) == "" {
		return domain.Branch{}, errors.New("branch id is required")
	}
	doc, err := r.base.Get(ctx, branchID)
	if err != nil {
		return domain.Branch{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// ListLocated returns every branch carrying a well-formed GeoJSON point. Branch counts are
// small, so the distance ranking happens in the service layer.
func (r *BranchRepository) ListLocated(ctx context.Context) ([]domain.Branch, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("branch repository not initialised")
	}
	docs, err := r.base.Find(ctx, nil)
	if err != nil {
		return nil, err
	}
	branches := make([]domain.Branch, 0, len(docs))
	for _, doc := range docs {
		if _, ok := doc.Data.Location.point(); !ok {
			continue
		}
		branches = append(branches, doc.Data.toDomain(doc.ID))
	}
	return branches, nil
}

type branchDocument struct {
	Name         string          `firestore:"name"`
	LocationName string          `firestore:"locationName"`
	Location     geoJSONDocument `firestore:"location"`
	PhoneNumber  string          `firestore:"phoneNumber,omitempty"`
	Email        string          `firestore:"email,omitempty"`
	CreatedAt    time.Time       `firestore:"createdAt"`
	UpdatedAt    time.Time       `firestore:"updatedAt"`
}

func (d branchDocument) toDomain(id string) domain.Branch {
	point, _ := d.Location.point()
	return domain.Branch{
		ID:           id,
		Name:         d.Name,
		LocationName: d.LocationName,
		Location:     point,
		PhoneNumber:  d.PhoneNumber,
		Email:        d.Email,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

// geoJSONDocument stores points as GeoJSON: coordinates are [longitude, latitude].
type geoJSONDocument struct {
	Type        string    `firestore:"type"`
	Coordinates []float64 `firestore:"coordinates"`
}

func (g geoJSONDocument) point() (domain.GeoPoint, bool) {
	if len(g.Coordinates) != 2 || (g.Type != "" && !strings.EqualFold(g.Type, "Point")) {
		return domain.GeoPoint{}, false
	}
	p := domain.GeoPoint{Longitude: g.Coordinates[0], Latitude: g.Coordinates[1]}
	return p, p.Valid()
}

func newGeoJSON(p domain.GeoPoint) geoJSONDocument {
	return geoJSONDocument{Type: "Point", Coordinates: []float64{p.Longitude, p.Latitude}}
}
