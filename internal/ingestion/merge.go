package ingestion

import (
	"sort"

	"github.com/tour-agent/backend/internal/storage/models"
)

// Merge reconciles two canonical entities carrying the same id. Scalar fields
// follow reliability precedence: a higher tier always wins; equal tiers
// resolve by most recent last_updated. The loser still fills any gaps the
// winner left empty. List fields (tags, languages) union instead of
// overwriting. Pure function; inputs are never mutated.
func Merge(existing, incoming *models.CanonicalEntity) *models.CanonicalEntity {
	winner, loser := existing, incoming
	if precedes(incoming, existing) {
		winner, loser = incoming, existing
	}

	out := winner.Clone()

	if out.Name == "" {
		out.Name = loser.Name
	}
	if out.Description == "" {
		out.Description = loser.Description
	}
	if out.Location.Empty() {
		out.Location = loser.Location
	}
	if out.Schedule == nil && loser.Schedule != nil {
		out.Schedule = loser.Clone().Schedule
	}
	if out.Duration == nil && loser.Duration != nil {
		out.Duration = loser.Clone().Duration
	}
	if out.Price == nil && loser.Price != nil {
		out.Price = loser.Clone().Price
	}
	if out.Metadata.Category == "" {
		out.Metadata.Category = loser.Metadata.Category
	}
	if out.Metadata.Accessibility == "" {
		out.Metadata.Accessibility = loser.Metadata.Accessibility
	}

	out.Metadata.Tags = unionSorted(winner.Metadata.Tags, loser.Metadata.Tags)
	out.Metadata.Languages = unionOrdered(winner.Metadata.Languages, loser.Metadata.Languages)

	out.Completeness = completeness(out)

	return out
}

// precedes reports whether a supersedes b for scalar conflicts.
func precedes(a, b *models.CanonicalEntity) bool {
	ra, rb := a.SourceInfo.Reliability.Rank(), b.SourceInfo.Reliability.Rank()
	if ra != rb {
		return ra > rb
	}
	return a.SourceInfo.LastUpdated.After(b.SourceInfo.LastUpdated)
}

func unionSorted(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	sort.Strings(out)
	if len(out) == 0 {
		return nil
	}
	return out
}

// unionOrdered keeps the winner's order and appends the loser's extras.
func unionOrdered(winner, loser []string) []string {
	seen := make(map[string]struct{}, len(winner)+len(loser))
	out := make([]string, 0, len(winner)+len(loser))
	for _, list := range [][]string{winner, loser} {
		for _, s := range list {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// completeness scores how much optional detail an entity carries, in [0,1].
// Core descriptive fields (price, schedule or duration, category) weigh twice
// as much as accessibility, tags and languages.
func completeness(e *models.CanonicalEntity) float64 {
	type field struct {
		present bool
		weight  float64
	}

	fields := []field{
		{e.Price != nil, 2},
		{e.Metadata.Category != "", 2},
		{len(e.Metadata.Tags) > 0, 1},
		{e.Metadata.Accessibility != "", 1},
		{len(e.Metadata.Languages) > 0, 1},
	}

	switch e.Type {
	case models.ContentTypeMuseum:
		fields = append(fields, field{e.Schedule != nil, 2})
	case models.ContentTypeExcursion:
		// duration is required for excursions; schedule and meeting location
		// are the optional extras
		fields = append(fields, field{e.Schedule != nil, 2})
		fields = append(fields, field{!e.Location.Empty(), 1})
	case models.ContentTypeDestination:
		fields = append(fields, field{e.Location.Lat != 0 || e.Location.Lon != 0, 2})
	}

	var total, present float64
	for _, f := range fields {
		total += f.weight
		if f.present {
			present += f.weight
		}
	}
	if total == 0 {
		return 0
	}
	return present / total
}
