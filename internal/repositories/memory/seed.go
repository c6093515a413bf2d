package memory

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	domain "github.com/solarshop/api/internal/domain"
)

// Seed is the YAML fixture format accepted by LoadSeed.
type Seed struct {
	Products []seedProduct `yaml:"products"`
	Branches []seedBranch  `yaml:"branches"`
	Users    []seedUser    `yaml:"users"`
}

type seedProduct struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	Price        string   `yaml:"price"`
	Stock        int      `yaml:"stock"`
	IsAvailable  *bool    `yaml:"isAvailable"`
	Category     string   `yaml:"category"`
	Wattage      float64  `yaml:"wattage"`
	Voltage      float64  `yaml:"voltage"`
	Manufacturer string   `yaml:"manufacturer"`
	Warranty     string   `yaml:"warranty"`
	Images       []string `yaml:"images"`
}

type seedPoint struct {
	Longitude float64 `yaml:"lng"`
	Latitude  float64 `yaml:"lat"`
}

type seedBranch struct {
	ID           string    `yaml:"id"`
	Name         string    `yaml:"name"`
	LocationName string    `yaml:"locationName"`
	Location     seedPoint `yaml:"location"`
	PhoneNumber  string    `yaml:"phoneNumber"`
	Email        string    `yaml:"email"`
}

type seedUser struct {
	ID          string     `yaml:"id"`
	FirstName   string     `yaml:"firstName"`
	LastName    string     `yaml:"lastName"`
	Email       string     `yaml:"email"`
	PhoneNumber string     `yaml:"phoneNumber"`
	Address     string     `yaml:"address"`
	City        string     `yaml:"city"`
	Country     string     `yaml:"country"`
	Type        string     `yaml:"type"`
	Location    *seedPoint `yaml:"location"`
}

// LoadSeedFile reads a YAML fixture from disk into the store.
func (s *Store) LoadSeedFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("memory seed: open %s: %w", path, err)
	}
	defer f.Close()
	return s.LoadSeed(f)
}

// LoadSeed decodes a YAML fixture and inserts every record. Nothing is inserted when
// any record is invalid.
func (s *Store) LoadSeed(r io.Reader) error {
	var seed Seed
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil && err != io.EOF {
		return fmt.Errorf("memory seed: decode: %w", err)
	}

	now := s.now()
	products := make([]domain.Product, 0, len(seed.Products))
	for i, p := range seed.Products {
		if strings.TrimSpace(p.ID) == "" {
			return fmt.Errorf("memory seed: products[%d]: id is required", i)
		}
		price, err := decimal.NewFromString(strings.TrimSpace(p.Price))
		if err != nil {
			return fmt.Errorf("memory seed: product %s: invalid price %q: %w", p.ID, p.Price, err)
		}
		available := true
		if p.IsAvailable != nil {
			available = *p.IsAvailable
		}
		products = append(products, domain.Product{
			ID:           p.ID,
			Name:         p.Name,
			Description:  p.Description,
			Price:        price,
			Stock:        p.Stock,
			IsAvailable:  available,
			Category:     p.Category,
			Wattage:      p.Wattage,
			Voltage:      p.Voltage,
			Manufacturer: p.Manufacturer,
			Warranty:     p.Warranty,
			Images:       p.Images,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}

	branches := make([]domain.Branch, 0, len(seed.Branches))
	for i, b := range seed.Branches {
		if strings.TrimSpace(b.ID) == "" {
			return fmt.Errorf("memory seed: branches[%d]: id is required", i)
		}
		branches = append(branches, domain.Branch{
			ID:           b.ID,
			Name:         b.Name,
			LocationName: b.LocationName,
			Location:     domain.GeoPoint{Longitude: b.Location.Longitude, Latitude: b.Location.Latitude},
			PhoneNumber:  b.PhoneNumber,
			Email:        b.Email,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}

	users := make([]domain.User, 0, len(seed.Users))
	for i, u := range seed.Users {
		if strings.TrimSpace(u.ID) == "" {
			return fmt.Errorf("memory seed: users[%d]: id is required", i)
		}
		user := domain.User{
			ID:          u.ID,
			FirstName:   u.FirstName,
			LastName:    u.LastName,
			Email:       u.Email,
			PhoneNumber: u.PhoneNumber,
			Address:     u.Address,
			City:        u.City,
			Country:     u.Country,
			Type:        domain.UserTypeClient,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if strings.EqualFold(u.Type, string(domain.UserTypeAdmin)) {
			user.Type = domain.UserTypeAdmin
		}
		if u.Location != nil {
			user.Location = &domain.GeoPoint{Longitude: u.Location.Longitude, Latitude: u.Location.Latitude}
		}
		users = append(users, user)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range products {
		s.products[p.ID] = p
	}
	for _, b := range branches {
		s.branches[b.ID] = b
	}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return nil
}
