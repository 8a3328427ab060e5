package types

import (
	"fmt"
	"strings"
	"time"
)

// Signal represents a single unit of captured customer feedback: a Slack
// message, a document excerpt, a transcript segment, or a scraped post.
//
// Signals are immutable once ingested. The only mutations the pipeline
// performs are setting DuplicateOf during deduplication and attaching
// derived Metadata (extracted entities, quality score). Signals are never
// deleted.
type Signal struct {
	ID                string          `json:"id"`
	Content           string          `json:"content"`
	NormalizedContent string          `json:"normalized_content,omitempty"`
	Source            SignalSource    `json:"source"`
	Channel           string          `json:"channel,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	Metadata          *SignalMetadata `json:"metadata,omitempty"`
	Embedding         []float64       `json:"embedding,omitempty"`

	// DuplicateOf is the ID of the primary signal this one was merged into.
	// Empty for non-duplicates. A duplicate signal never appears in
	// candidate searches or opportunity membership.
	DuplicateOf string `json:"duplicate_of,omitempty"`
}

// Validate checks if the signal has valid field values
func (s *Signal) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("id is required")
	}
	if strings.TrimSpace(s.Content) == "" {
		return fmt.Errorf("content is required")
	}
	if !s.Source.IsValid() {
		return fmt.Errorf("invalid source: %s", s.Source)
	}
	if s.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	if s.DuplicateOf == s.ID && s.ID != "" {
		return fmt.Errorf("signal cannot be a duplicate of itself")
	}
	if s.Metadata != nil {
		if err := s.Metadata.Validate(); err != nil {
			return fmt.Errorf("invalid metadata: %w", err)
		}
	}
	return nil
}

// IsDuplicate reports whether this signal has been merged into another
func (s *Signal) IsDuplicate() bool {
	return s.DuplicateOf != ""
}

// QualityScore returns the normalized quality score from metadata,
// defaulting to 0 when no score has been computed.
func (s *Signal) QualityScore() float64 {
	if s.Metadata == nil || s.Metadata.Quality == nil {
		return 0
	}
	return s.Metadata.Quality.Score
}

// SignalSource identifies the ingestion channel a signal came from
type SignalSource string

const (
	SourceSlack      SignalSource = "slack"
	SourceDocument   SignalSource = "document"
	SourceTranscript SignalSource = "transcript"
	SourceWebScrape  SignalSource = "web_scrape"
	SourceManual     SignalSource = "manual"
)

// IsValid checks if the source value is valid
func (s SignalSource) IsValid() bool {
	switch s {
	case SourceSlack, SourceDocument, SourceTranscript, SourceWebScrape, SourceManual:
		return true
	}
	return false
}

// SignalMetadata is the typed metadata bag attached to a signal.
//
// Known shapes get typed fields; anything upstream sends that we don't
// recognize is preserved verbatim in Extra so re-export round-trips it.
type SignalMetadata struct {
	Quality   *QualityMetrics    `json:"quality,omitempty"`
	Extracted *ExtractedEntities `json:"extracted,omitempty"`
	Extra     map[string]string  `json:"extra,omitempty"`
}

// Validate checks if the metadata has valid field values
func (m *SignalMetadata) Validate() error {
	if m.Quality != nil {
		if m.Quality.Score < 0 || m.Quality.Score > 1 {
			return fmt.Errorf("quality score must be between 0.0 and 1.0 (got %.2f)", m.Quality.Score)
		}
	}
	return nil
}

// QualityMetrics is the normalized quality assessment for a signal.
// Score is a 0-1 composite of the component factors; primary selection
// during deduplication compares these scores.
type QualityMetrics struct {
	Score      float64 `json:"score"`
	Engagement float64 `json:"engagement,omitempty"`
	Length     float64 `json:"length,omitempty"`
	Recency    float64 `json:"recency,omitempty"`
}

// ExtractedEntities holds the raw entity mentions pulled out of a signal
// before resolution to canonical entities.
type ExtractedEntities struct {
	Customers []string `json:"customers,omitempty"`
	Features  []string `json:"features,omitempty"`
	Issues    []string `json:"issues,omitempty"`
	Themes    []string `json:"themes,omitempty"`
}

// IsEmpty reports whether no entities were extracted
func (e *ExtractedEntities) IsEmpty() bool {
	return e == nil ||
		(len(e.Customers) == 0 && len(e.Features) == 0 &&
			len(e.Issues) == 0 && len(e.Themes) == 0)
}

// EntityType classifies canonical entities
type EntityType string

const (
	EntityCustomer EntityType = "customer"
	EntityFeature  EntityType = "feature"
	EntityIssue    EntityType = "issue"
	EntityTheme    EntityType = "theme"
)

// IsValid checks if the entity type value is valid
func (t EntityType) IsValid() bool {
	switch t {
	case EntityCustomer, EntityFeature, EntityIssue, EntityTheme:
		return true
	}
	return false
}

// CanonicalEntity is the deduplicated, authoritative record for one
// real-world customer, feature, issue, or theme. Alias rows point at it.
type CanonicalEntity struct {
	ID            string     `json:"id"`
	EntityType    EntityType `json:"entity_type"`
	CanonicalName string     `json:"canonical_name"`
	CaseSensitive bool       `json:"case_sensitive,omitempty"`
	CreatedBy     string     `json:"created_by,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Validate checks if the entity has valid field values
func (e *CanonicalEntity) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("id is required")
	}
	if strings.TrimSpace(e.CanonicalName) == "" {
		return fmt.Errorf("canonical_name is required")
	}
	if !e.EntityType.IsValid() {
		return fmt.Errorf("invalid entity type: %s", e.EntityType)
	}
	return nil
}

// EntityAlias maps an observed surface form to a canonical entity.
// An alias string resolves to at most one canonical entity at a time.
type EntityAlias struct {
	EntityID  string    `json:"entity_id"`
	AliasText string    `json:"alias_text"`
	Source    string    `json:"source,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SignalEntityLink associates a signal with a resolved canonical entity
type SignalEntityLink struct {
	SignalID   string     `json:"signal_id"`
	EntityType EntityType `json:"entity_type"`
	EntityID   string     `json:"entity_id"`
	Confidence float64    `json:"confidence"`
}

// Validate checks if the link has valid field values
func (l *SignalEntityLink) Validate() error {
	if l.SignalID == "" || l.EntityID == "" {
		return fmt.Errorf("signal_id and entity_id are required")
	}
	if l.Confidence < 0 || l.Confidence > 1 {
		return fmt.Errorf("confidence must be between 0.0 and 1.0 (got %.2f)", l.Confidence)
	}
	if !l.EntityType.IsValid() {
		return fmt.Errorf("invalid entity type: %s", l.EntityType)
	}
	return nil
}

// OpportunityStatus represents the lifecycle state of an opportunity
type OpportunityStatus string

const (
	OpportunityActive   OpportunityStatus = "active"
	OpportunityMerged   OpportunityStatus = "merged"
	OpportunityArchived OpportunityStatus = "archived"
)

// IsValid checks if the status value is valid
func (s OpportunityStatus) IsValid() bool {
	switch s {
	case OpportunityActive, OpportunityMerged, OpportunityArchived:
		return true
	}
	return false
}

// Opportunity is a cluster of related signals representing one candidate
// product initiative. Membership lives in opportunity_signals rows; after
// merge resolution a signal belongs to at most one active opportunity.
type Opportunity struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Status      OpportunityStatus `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`

	// Centroid is the mean of member signal embeddings, maintained so
	// incremental clustering can compare new signals without loading
	// every member. Nil when no member has an embedding.
	Centroid []float64 `json:"centroid,omitempty"`

	// SignalCount is populated on read for reporting; not authoritative.
	SignalCount int `json:"signal_count,omitempty"`
}

// Validate checks if the opportunity has valid field values
func (o *Opportunity) Validate() error {
	if o.ID == "" {
		return fmt.Errorf("id is required")
	}
	if strings.TrimSpace(o.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if !o.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", o.Status)
	}
	return nil
}
