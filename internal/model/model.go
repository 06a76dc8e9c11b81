// Package model defines the core record types stored by the memory system.
package model

import "time"

// EntityType classifies the kind of entity.
type EntityType string

const (
	EntityPerson       EntityType = "person"
	EntityOrganization EntityType = "organization"
	EntityProject      EntityType = "project"
	EntityConcept      EntityType = "concept"
	EntityLocation     EntityType = "location"
)

// ValidEntityTypes is the set of recognized entity types.
var ValidEntityTypes = []EntityType{
	EntityPerson,
	EntityOrganization,
	EntityProject,
	EntityConcept,
	EntityLocation,
}

// IsValid reports whether the entity type is recognized.
func (et EntityType) IsValid() bool {
	for i := range ValidEntityTypes {
		if et == ValidEntityTypes[i] {
			return true
		}
	}
	return false
}

// AttentionTier summarizes how recently an entity has been interacted with.
type AttentionTier string

const (
	TierActive  AttentionTier = "active"
	TierWatch   AttentionTier = "watch"
	TierDormant AttentionTier = "dormant"
)

// ContactVelocity summarizes the trend of interaction frequency.
type ContactVelocity string

const (
	VelocityAccelerating ContactVelocity = "accelerating"
	VelocityStable       ContactVelocity = "stable"
	VelocityDecelerating ContactVelocity = "decelerating"
	VelocityDormant      ContactVelocity = "dormant"
)

// Entity represents a tracked person, organization, project, concept, or location.
// Entities are created on first mention and never hard-deleted; a merge folds
// the loser onto the winner and soft-deletes the loser.
type Entity struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Type            EntityType        `json:"type"`
	Aliases         []string          `json:"aliases,omitempty"`
	Attributes      map[string]string `json:"attributes,omitempty"`
	AttentionTier   AttentionTier     `json:"attention_tier"`
	ContactVelocity ContactVelocity   `json:"contact_velocity"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	LastSeenAt      *time.Time        `json:"last_seen_at,omitempty"`
	DeletedAt       *time.Time        `json:"deleted_at,omitempty"`
	DeleteReason    string            `json:"delete_reason,omitempty"`
	MergedInto      string            `json:"merged_into,omitempty"`
}

// MemoryType classifies what a memory records.
type MemoryType string

const (
	MemoryFact        MemoryType = "fact"
	MemoryPreference  MemoryType = "preference"
	MemoryObservation MemoryType = "observation"
	MemoryCommitment  MemoryType = "commitment"
	MemoryPattern     MemoryType = "pattern"
)

// ValidMemoryTypes is the set of recognized memory types.
var ValidMemoryTypes = []MemoryType{
	MemoryFact,
	MemoryPreference,
	MemoryObservation,
	MemoryCommitment,
	MemoryPattern,
}

// IsValid reports whether the memory type is recognized.
func (mt MemoryType) IsValid() bool {
	for i := range ValidMemoryTypes {
		if mt == ValidMemoryTypes[i] {
			return true
		}
	}
	return false
}

// OriginType records how a memory entered the store.
type OriginType string

const (
	OriginUserStated OriginType = "user_stated"
	OriginExtracted  OriginType = "extracted"
	OriginInferred   OriginType = "inferred"
	OriginCorrected  OriginType = "corrected"
)

// VerificationStatus tracks whether a memory has been confirmed or disputed.
type VerificationStatus string

const (
	VerificationPending     VerificationStatus = "pending"
	VerificationVerified    VerificationStatus = "verified"
	VerificationFlagged     VerificationStatus = "flagged"
	VerificationContradicts VerificationStatus = "contradicts"
)

// Memory is an atomic fact, preference, observation, commitment, or pattern.
// Memories are never physically deleted: invalidation sets InvalidatedAt and a
// reason, and a correction preserves the replaced content in PriorContent.
type Memory struct {
	ID                 string             `json:"id"`
	Content            string             `json:"content"`
	Type               MemoryType         `json:"type"`
	Importance         float64            `json:"importance"`
	Confidence         float64            `json:"confidence"`
	Embedding          []float32          `json:"-"`
	ContentHash        string             `json:"-"`
	EntityIDs          []string           `json:"entity_ids,omitempty"`
	OriginType         OriginType         `json:"origin_type"`
	SourceChannel      string             `json:"source_channel,omitempty"`
	VerificationStatus VerificationStatus `json:"verification_status"`
	PriorContent       string             `json:"prior_content,omitempty"`
	DeadlineAt         *time.Time         `json:"deadline_at,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	LastAccessedAt     *time.Time         `json:"last_accessed_at,omitempty"`
	AccessCount        int                `json:"access_count"`
	MergeCount         int                `json:"merge_count"`
	InvalidatedAt      *time.Time         `json:"invalidated_at,omitempty"`
	InvalidationReason string             `json:"invalidation_reason,omitempty"`
}

// Relationship is a typed edge between two entities with a strength and a
// bi-temporal validity window. A nil InvalidAt means currently true.
// Relationships are never deleted; ending one sets InvalidAt.
type Relationship struct {
	ID         string     `json:"id"`
	FromEntity string     `json:"from_entity"`
	ToEntity   string     `json:"to_entity"`
	Type       string     `json:"type"`
	Directed   bool       `json:"directed"`
	Strength   float64    `json:"strength"`
	ValidAt    time.Time  `json:"valid_at"`
	InvalidAt  *time.Time `json:"invalid_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Active reports whether the relationship holds at time t.
func (r Relationship) Active(t time.Time) bool {
	if r.ValidAt.After(t) {
		return false
	}
	return r.InvalidAt == nil || r.InvalidAt.After(t)
}

// Actor identifies who performed an audited operation.
type Actor string

const (
	ActorUser          Actor = "user"
	ActorConsolidation Actor = "consolidation"
	ActorIngestion     Actor = "ingestion"
)

// Operation names an audited mutation.
type Operation string

const (
	OpRemember    Operation = "remember"
	OpCorrect     Operation = "correct"
	OpInvalidate  Operation = "invalidate"
	OpMerge       Operation = "merge"
	OpDecay       Operation = "decay"
	OpRelate      Operation = "relate"
	OpEntityMerge Operation = "entity_merge"
	OpDedupSweep  Operation = "dedup_sweep"
	OpPattern     Operation = "pattern"
)

// AuditEntry is an immutable record of one mutation. Entries are written in
// the same transaction as the mutation they describe.
type AuditEntry struct {
	ID        string            `json:"id"`
	Actor     Actor             `json:"actor"`
	Operation Operation         `json:"operation"`
	TargetID  string            `json:"target_id"`
	Details   map[string]string `json:"details,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// ClampScore clamps a score into [0, 1].
func ClampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
