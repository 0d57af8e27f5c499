package models

import (
	"sort"
	"strings"
	"time"
)

type ContentType string

const (
	ContentTypeMuseum      ContentType = "museum"
	ContentTypeExcursion   ContentType = "excursion"
	ContentTypeDestination ContentType = "destination"
)

// Collections in fixed order so multi-collection operations stay deterministic.
var Collections = []string{"museums", "excursions", "destinations"}

func (t ContentType) Valid() bool {
	switch t {
	case ContentTypeMuseum, ContentTypeExcursion, ContentTypeDestination:
		return true
	}
	return false
}

func (t ContentType) Collection() string {
	switch t {
	case ContentTypeMuseum:
		return "museums"
	case ContentTypeExcursion:
		return "excursions"
	case ContentTypeDestination:
		return "destinations"
	}
	return ""
}

type ReliabilityTier string

const (
	TierHigh   ReliabilityTier = "high"
	TierMedium ReliabilityTier = "medium"
	TierLow    ReliabilityTier = "low"
)

// Rank orders tiers for merge precedence; higher wins.
func (t ReliabilityTier) Rank() int {
	switch t {
	case TierHigh:
		return 3
	case TierMedium:
		return 2
	case TierLow:
		return 1
	}
	return 0
}

// RawRecord is what the crawler hands over: untyped fields tagged with the
// source and fetch time. Consumed by ingestion and discarded.
type RawRecord struct {
	SourceID    string         `json:"source_id"`
	ContentType ContentType    `json:"content_type"`
	FetchedAt   time.Time      `json:"fetched_at"`
	Fields      map[string]any `json:"fields"`
}

type SourceDescriptor struct {
	ID          string          `json:"id"`
	Domain      string          `json:"domain"`
	Reliability ReliabilityTier `json:"reliability"`
}

const (
	ScheduleRegular  = "regular"
	ScheduleSeasonal = "seasonal"
)

type Schedule struct {
	Type    string   `json:"type"`
	Days    []string `json:"days,omitempty"`
	Open    string   `json:"open,omitempty"`
	Close   string   `json:"close,omitempty"`
	Seasons []Season `json:"seasons,omitempty"`
}

type Season struct {
	Name  string   `json:"name"`
	Days  []string `json:"days,omitempty"`
	Open  string   `json:"open"`
	Close string   `json:"close"`
}

const (
	PriceFixed = "fixed"
	PriceRange = "range"
	PriceFree  = "free"
)

type Price struct {
	Type     string  `json:"type"`
	Amount   float64 `json:"amount,omitempty"`
	Min      float64 `json:"min,omitempty"`
	Max      float64 `json:"max,omitempty"`
	Currency string  `json:"currency,omitempty"`
}

const (
	DurationFixed = "fixed"
	DurationRange = "range"
)

type Duration struct {
	Type     string  `json:"type"`
	Hours    float64 `json:"hours,omitempty"`
	MinHours float64 `json:"min_hours,omitempty"`
	MaxHours float64 `json:"max_hours,omitempty"`
}

type Location struct {
	Address string  `json:"address,omitempty"`
	City    string  `json:"city,omitempty"`
	Lat     float64 `json:"lat,omitempty"`
	Lon     float64 `json:"lon,omitempty"`
}

func (l Location) Empty() bool {
	return l.Address == "" && l.City == "" && l.Lat == 0 && l.Lon == 0
}

type Metadata struct {
	Category      string   `json:"category,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	Accessibility string   `json:"accessibility,omitempty"`
	Languages     []string `json:"languages,omitempty"`
}

type SourceInfo struct {
	SourceID    string          `json:"source_id"`
	Reliability ReliabilityTier `json:"reliability"`
	LastUpdated time.Time       `json:"last_updated"`
}

// CanonicalEntity is the normalized, schema-validated representation of one
// museum, excursion or destination. Immutable once indexed; re-ingestion
// replaces the whole value.
type CanonicalEntity struct {
	ID           string      `json:"id"`
	Type         ContentType `json:"type"`
	Name         string      `json:"name"`
	Description  string      `json:"description"`
	Location     Location    `json:"location"`
	Schedule     *Schedule   `json:"schedule,omitempty"`
	Duration     *Duration   `json:"duration,omitempty"`
	Price        *Price      `json:"price,omitempty"`
	Metadata     Metadata    `json:"metadata"`
	SourceInfo   SourceInfo  `json:"source_info"`
	Completeness float64     `json:"completeness"`
}

// EmbeddingText builds the text that gets embedded for this entity. The
// phrasing mirrors what the crawlers produced per type so that semantically
// close queries land near the right collection entries.
func (e *CanonicalEntity) EmbeddingText() string {
	var b strings.Builder
	b.WriteString(e.Name)
	b.WriteString(" ")
	b.WriteString(e.Description)

	if e.Metadata.Category != "" {
		b.WriteString(" Category: ")
		b.WriteString(e.Metadata.Category)
	}

	if len(e.Metadata.Tags) > 0 {
		switch e.Type {
		case ContentTypeMuseum:
			b.WriteString(" Collections: ")
		case ContentTypeExcursion:
			b.WriteString(" Services: ")
		default:
			b.WriteString(" Activities: ")
		}
		b.WriteString(strings.Join(e.Metadata.Tags, ", "))
	}

	if len(e.Metadata.Languages) > 0 {
		b.WriteString(" Languages: ")
		b.WriteString(strings.Join(e.Metadata.Languages, ", "))
	}

	if !e.Location.Empty() {
		b.WriteString(" Location: ")
		if e.Location.Address != "" {
			b.WriteString(e.Location.Address)
			b.WriteString(" ")
		}
		b.WriteString(e.Location.City)
	}

	return strings.TrimSpace(b.String())
}

// Clone returns a deep copy, so merged entities never alias published ones.
func (e *CanonicalEntity) Clone() *CanonicalEntity {
	out := *e
	if e.Schedule != nil {
		s := *e.Schedule
		s.Days = append([]string(nil), e.Schedule.Days...)
		s.Seasons = append([]Season(nil), e.Schedule.Seasons...)
		out.Schedule = &s
	}
	if e.Duration != nil {
		d := *e.Duration
		out.Duration = &d
	}
	if e.Price != nil {
		p := *e.Price
		out.Price = &p
	}
	out.Metadata.Tags = append([]string(nil), e.Metadata.Tags...)
	out.Metadata.Languages = append([]string(nil), e.Metadata.Languages...)
	return &out
}

// NormalizeTags sorts and dedupes the tag set in place.
func (m *Metadata) NormalizeTags() {
	if len(m.Tags) == 0 {
		return
	}
	seen := make(map[string]struct{}, len(m.Tags))
	out := m.Tags[:0]
	for _, t := range m.Tags {
		t = strings.TrimSpace(strings.ToLower(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	m.Tags = out
}

type ScoredResult struct {
	EntityID       string           `json:"entity_id"`
	Similarity     float64          `json:"similarity"`
	Confidence     float64          `json:"confidence"`
	Rank           int              `json:"rank"`
	BelowThreshold bool             `json:"below_threshold"`
	Entity         *CanonicalEntity `json:"entity"`
}

type QueryFilters struct {
	ContentType ContentType `json:"content_type,omitempty"`
	Category    string      `json:"category,omitempty"`
}

type QueryResponse struct {
	ID           string         `json:"id"`
	Query        string         `json:"query"`
	Results      []ScoredResult `json:"results"`
	Confidence   float64        `json:"confidence"`
	IndexVersion uint64         `json:"index_version"`
	CacheHit     bool           `json:"cache_hit"`
	LatencyMS    int            `json:"latency_ms"`
}
