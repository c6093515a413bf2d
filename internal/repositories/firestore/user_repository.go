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

const userCollection = "users"

// UserRepository reads client records keyed by Firebase UID.
type UserRepository struct {
	base *pfirestore.Collection[userDocument]
}

var _ repositories.UserRepository = (*UserRepository)(nil)

// NewUserRepository constructs a Firestore-backed user repository.
func NewUserRepository(provider *pfirestore.Provider) (*UserRepository, error) {
	if provider == nil {
		return nil, errors.New("user repository requires firestore provider")
	}
	return &UserRepository{base: pfirestore.NewCollection[userDocument](provider, userCollection)}, nil
}

// FindByID loads the user by UID.
func (r *UserRepository) FindByID(ctx context.Context, userID string) (domain.User, error) {
	if r == nil || r.base == nil {
		return domain.User{}, errors.New("user repository not initialised")
	}
	if strings.TrimSpace(userID) == "" {
		return domain.User{}, errors.New("user id is required")
	}
	doc, err := r.base.Get(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	user := doc.Data.toDomain(doc.ID)
	if user.CreatedAt.IsZero() {
		user.CreatedAt = doc.CreateTime
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = doc.UpdateTime
	}
	return user, nil
}

type userDocument struct {
	FirstName   string           `firestore:"firstName"`
	LastName    string           `firestore:"lastName"`
	Email       string           `firestore:"email"`
	PhoneNumber string           `firestore:"phoneNumber,omitempty"`
	Address     string           `firestore:"address,omitempty"`
	City        string           `firestore:"city,omitempty"`
	Country     string           `firestore:"country,omitempty"`
	Type        string           `firestore:"type"`
	Location    *geoJSONDocument `firestore:"location,omitempty"`
	CreatedAt   time.Time        `firestore:"createdAt"`
	UpdatedAt   time.Time        `firestore:"updatedAt"`
}

func (d userDocument) toDomain(id string) domain.User {
	user := domain.User{
		ID:          id,
		FirstName:   d.FirstName,
		LastName:    d.LastName,
		Email:       d.Email,
		PhoneNumber: d.PhoneNumber,
		Address:     d.Address,
		City:        d.City,
		Country:     d.Country,
		Type:        domain.UserType(d.Type),
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
	if user.Type == "" {
		user.Type = domain.UserTypeClient
	}
	if d.Location != nil {
		if point, ok := d.Location.point(); ok {
			user.Location = &point
		}
	}
	return user
}
