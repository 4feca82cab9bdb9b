package domain

import (
	"encoding/json"
	"fmt"
	"maps"
	"reflect"
)

// EOT is the far-future timestamp marking a relationship that has not expired
// (2031-01-01T00:00:00Z).
const EOT int64 = 1924905600

// Layer of the infrastructure an entity belongs to
type Layer string

const (
	LayerPhysical Layer = "physical"
	LayerVirtual  Layer = "virtual"
	LayerService  Layer = "service"
)

// Category groups entities by the resource they provide
type Category string

const (
	CategoryCompute Category = "compute"
	CategoryStorage Category = "storage"
	CategoryNetwork Category = "network"
)

// Identity attribute keys. These are never overwritten by state attributes.
const (
	KeyName     = "name"
	KeyLayer    = "layer"
	KeyCategory = "category"
	KeyType     = "type"
)

// ReservedKeys are the identity keys protected when identity and state are
// flattened into one attribute map.
var ReservedKeys = []string{KeyName, KeyLayer, KeyCategory, KeyType}

// Attributes is a JSON-compatible attribute bag.
type Attributes map[string]any

// Clone returns a shallow copy. A nil receiver yields an empty map.
func (a Attributes) Clone() Attributes {
	out := make(Attributes, len(a))
	maps.Copy(out, a)
	return out
}

// String returns the value of key when it is a string.
func (a Attributes) String(key string) string {
	if v, ok := a[key].(string); ok {
		return v
	}
	return ""
}

// Equal compares two normalized attribute maps.
func (a Attributes) Equal(other Attributes) bool {
	if len(a) != len(other) {
		return false
	}
	return reflect.DeepEqual(map[string]any(a), map[string]any(other))
}

// NormalizeAttributes round-trips attributes through JSON so that values read
// back from any backend compare equal to freshly supplied ones (numbers become
// float64, slices become []any).
func NormalizeAttributes(a Attributes) (Attributes, error) {
	if a == nil {
		return Attributes{}, nil
	}
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("%w: attributes are not JSON encodable: %v", ErrMalformedInput, err)
	}
	out := Attributes{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	return out, nil
}

// EntityRef is an opaque handle on an identity entity together with a
// snapshot of its identity attributes.
type EntityRef struct {
	ID         string     `json:"id"`
	Layer      Layer      `json:"layer,omitempty"`
	Category   Category   `json:"category,omitempty"`
	Type       string     `json:"type,omitempty"`
	Attributes Attributes `json:"attributes,omitempty"`
	CreatedAt  int64      `json:"created_at"`
}

// NewEntityRef builds an identity from the attribute map supplied to AddNode.
// The id is recorded under the name key.
func NewEntityRef(id string, identity Attributes, ts int64) EntityRef {
	attrs := identity.Clone()
	attrs[KeyName] = id
	return EntityRef{
		ID:         id,
		Layer:      Layer(attrs.String(KeyLayer)),
		Category:   Category(attrs.String(KeyCategory)),
		Type:       attrs.String(KeyType),
		Attributes: attrs,
		CreatedAt:  ts,
	}
}

// State is one immutable snapshot of an entity's mutable attributes.
type State struct {
	ID         string     `json:"id"`
	EntityID   string     `json:"entity_id"`
	Attributes Attributes `json:"attributes"`
}
