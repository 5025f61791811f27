// Package lookup exposes the static lookup tables (products,
// countries, locations, characteristics) through a registry keyed by a
// closed enumeration of kinds. There is no dynamic string-to-handler
// dispatch; an unknown kind is an error.
package lookup

import (
	"fmt"

	"github.com/mpetkov/fuel-registry/internal/models"
)

// Kind identifies one lookup table
type Kind string

// The closed set of lookup kinds
const (
	KindProducts        Kind = "products"
	KindCountries       Kind = "countries"
	KindLocations       Kind = "locations"
	KindCharacteristics Kind = "characteristics"
)

var knownKinds = map[Kind]struct{}{
	KindProducts:        {},
	KindCountries:       {},
	KindLocations:       {},
	KindCharacteristics: {},
}

// ParseKind validates a kind string against the closed set
func ParseKind(s string) (Kind, error) {
	kind := Kind(s)
	if _, ok := knownKinds[kind]; !ok {
		return "", fmt.Errorf("unknown lookup kind: %s", s)
	}
	return kind, nil
}

// Store is the persistence contract shared by all lookup kinds
type Store interface {
	FindByKind(kind string) ([]*models.LookupItem, error)
	Create(item *models.LookupItem) error
	Update(item *models.LookupItem) error
}

// Accessor is the capability set over one lookup kind
type Accessor interface {
	Find() ([]*models.LookupItem, error)
	Create(name, description, code string) (*models.LookupItem, error)
	Update(item *models.LookupItem) error
}

// Registry maps each known kind to its accessor
type Registry struct {
	store Store
}

// NewRegistry creates a registry over the given store
func NewRegistry(store Store) *Registry {
	return &Registry{store: store}
}

// For returns the accessor for a kind, or an error for unknown kinds
func (r *Registry) For(kind Kind) (Accessor, error) {
	if _, ok := knownKinds[kind]; !ok {
		return nil, fmt.Errorf("unknown lookup kind: %s", kind)
	}
	return &kindAccessor{kind: kind, store: r.store}, nil
}

// kindAccessor is the single concrete adapter, bound to one kind
type kindAccessor struct {
	kind  Kind
	store Store
}

func (a *kindAccessor) Find() ([]*models.LookupItem, error) {
	return a.store.FindByKind(string(a.kind))
}

func (a *kindAccessor) Create(name, description, code string) (*models.LookupItem, error) {
	if name == "" {
		return nil, fmt.Errorf("name is required")
	}
	item := &models.LookupItem{
		Kind:        string(a.kind),
		Name:        name,
		Description: description,
		Code:        code,
	}
	if err := a.store.Create(item); err != nil {
		return nil, err
	}
	return item, nil
}

func (a *kindAccessor) Update(item *models.LookupItem) error {
	if item.Name == "" {
		return fmt.Errorf("name is required")
	}
	item.Kind = string(a.kind)
	return a.store.Update(item)
}
