package model

import (
	"strings"
	"time"
	"unicode"
)

// EntityKind is the type of canonical entity a raw reference resolves to.
type EntityKind string

const (
	EntityCustomer  EntityKind = "customer"
	EntityAgreement EntityKind = "agreement"
	EntityVehicle   EntityKind = "vehicle"
)

// Valid reports whether k is a known entity kind.
func (k EntityKind) Valid() bool {
	return k == EntityCustomer || k == EntityAgreement || k == EntityVehicle
}

// Prefix is the id prefix given to generated entities of this kind.
func (k EntityKind) Prefix() string {
	switch k {
	case EntityCustomer:
		return "cus"
	case EntityAgreement:
		return "agr"
	case EntityVehicle:
		return "veh"
	}
	return "ent"
}

// MatchType is how a reference was resolved.
type MatchType string

const (
	MatchExact   MatchType = "exact"
	MatchFuzzy   MatchType = "fuzzy"
	MatchCreated MatchType = "created"
)

// Entity is a canonical customer, agreement or vehicle.
type Entity struct {
	ID          int64                  `json:"-"`
	EntityID    string                 `json:"entity_id"`
	Kind        EntityKind             `json:"kind"`
	NaturalKey  string                 `json:"natural_key"`
	DisplayName string                 `json:"display_name"`
	NeedsReview bool                   `json:"needs_review"`
	MetaData    map[string]interface{} `json:"meta_data,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}

// CandidateQuery pages through fuzzy-match candidates: entities of Kind
// whose key length lies within [MinLen, MaxLen], those nearest TargetLen
// first.
type CandidateQuery struct {
	Kind      EntityKind
	TargetLen int
	MinLen    int
	MaxLen    int
	Limit     int
	Offset    int
}

// ResolvedEntity is the outcome of resolving one raw reference.
type ResolvedEntity struct {
	CandidateID string     `json:"candidate_id"`
	Kind        EntityKind `json:"kind"`
	NaturalKey  string     `json:"natural_key"`
	MatchType   MatchType  `json:"match_type"`
	Confidence  float64    `json:"confidence"`
}

// NaturalKey normalises a raw reference into the business key for kind.
// Agreement numbers are upper-cased with spaces removed, plates keep only
// upper-cased letters and digits, and names are lower-cased with inner
// whitespace collapsed.
func NaturalKey(kind EntityKind, raw string) string {
	switch kind {
	case EntityAgreement:
		return strings.ToUpper(strings.Join(strings.Fields(raw), ""))
	case EntityVehicle:
		var b strings.Builder
		for _, r := range strings.ToUpper(raw) {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				b.WriteRune(r)
			}
		}
		return b.String()
	default:
		return strings.ToLower(strings.Join(strings.Fields(raw), " "))
	}
}
