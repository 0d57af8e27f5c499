package ingestion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tour-agent/backend/internal/storage/models"
)

func museumEntity(sourceID string, tier models.ReliabilityTier, updated time.Time) *models.CanonicalEntity {
	return &models.CanonicalEntity{
		ID:          "museum_bellas_artes",
		Type:        models.ContentTypeMuseum,
		Name:        "Museo Nacional de Bellas Artes",
		Description: "Cuban fine arts from colonial times to the present.",
		Location:    models.Location{Address: "Trocadero e/ Zulueta y Monserrate", City: "Havana"},
		SourceInfo: models.SourceInfo{
			SourceID:    sourceID,
			Reliability: tier,
			LastUpdated: updated,
		},
	}
}

func TestMerge_HigherTierWinsScalars(t *testing.T) {
	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(48 * time.Hour)

	high := museumEntity("cuba.travel", models.TierHigh, older)
	high.Price = &models.Price{Type: models.PriceFixed, Amount: 5, Currency: "CUP"}

	low := museumEntity("tripadvisor", models.TierLow, newer)
	low.Price = &models.Price{Type: models.PriceFixed, Amount: 8, Currency: "CUP"}

	// a more recent low-tier record must not displace high-tier data
	merged := Merge(high, low)
	require.NotNil(t, merged.Price)
	assert.Equal(t, 5.0, merged.Price.Amount)
	assert.Equal(t, "cuba.travel", merged.SourceInfo.SourceID)
}

func TestMerge_RecencyBreaksTierTies(t *testing.T) {
	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(48 * time.Hour)

	a := museumEntity("cuba.travel", models.TierHigh, older)
	a.Description = "Old description."
	b := museumEntity("visitcubago.com", models.TierHigh, newer)
	b.Description = "New description."

	merged := Merge(a, b)
	assert.Equal(t, "New description.", merged.Description)
	assert.Equal(t, "visitcubago.com", merged.SourceInfo.SourceID)
}

func TestMerge_WinnerGapsFilledFromLoser(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	high := museumEntity("cuba.travel", models.TierHigh, now)

	low := museumEntity("tripadvisor", models.TierLow, now)
	low.Price = &models.Price{Type: models.PriceFree}
	low.Schedule = &models.Schedule{Type: models.ScheduleRegular, Days: []string{"monday"}, Open: "09:00", Close: "17:00"}
	low.Metadata.Accessibility = "wheelchair accessible"

	merged := Merge(high, low)
	require.NotNil(t, merged.Price)
	assert.Equal(t, models.PriceFree, merged.Price.Type)
	require.NotNil(t, merged.Schedule)
	assert.Equal(t, "09:00", merged.Schedule.Open)
	assert.Equal(t, "wheelchair accessible", merged.Metadata.Accessibility)
}

func TestMerge_TagsUnionSorted(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	a := museumEntity("cuba.travel", models.TierHigh, now)
	a.Metadata.Tags = []string{"colonial art", "painting"}
	a.Metadata.Languages = []string{"es", "en"}

	b := museumEntity("tripadvisor", models.TierLow, now)
	b.Metadata.Tags = []string{"painting", "sculpture"}
	b.Metadata.Languages = []string{"en", "fr"}

	merged := Merge(a, b)
	assert.Equal(t, []string{"colonial art", "painting", "sculpture"}, merged.Metadata.Tags)
	assert.Equal(t, []string{"es", "en", "fr"}, merged.Metadata.Languages)
}

func TestMerge_DoesNotMutateInputs(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	a := museumEntity("cuba.travel", models.TierHigh, now)
	a.Metadata.Tags = []string{"painting"}
	b := museumEntity("tripadvisor", models.TierLow, now)
	b.Metadata.Tags = []string{"sculpture"}

	Merge(a, b)

	assert.Equal(t, []string{"painting"}, a.Metadata.Tags)
	assert.Equal(t, []string{"sculpture"}, b.Metadata.Tags)
}

func TestMerge_RecomputesCompleteness(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	sparse := museumEntity("cuba.travel", models.TierHigh, now)
	sparse.Completeness = completeness(sparse)

	rich := museumEntity("tripadvisor", models.TierLow, now)
	rich.Price = &models.Price{Type: models.PriceFixed, Amount: 5}
	rich.Schedule = &models.Schedule{Type: models.ScheduleRegular, Days: []string{"monday"}, Open: "09:00", Close: "17:00"}
	rich.Metadata.Category = "art"

	merged := Merge(sparse, rich)
	assert.Greater(t, merged.Completeness, sparse.Completeness)
}

func TestCompleteness_Bounds(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	empty := museumEntity("cuba.travel", models.TierHigh, now)
	assert.Equal(t, 0.0, completeness(empty))

	full := museumEntity("cuba.travel", models.TierHigh, now)
	full.Price = &models.Price{Type: models.PriceFree}
	full.Schedule = &models.Schedule{Type: models.ScheduleRegular, Days: []string{"monday"}, Open: "09:00", Close: "17:00"}
	full.Metadata.Category = "art"
	full.Metadata.Tags = []string{"painting"}
	full.Metadata.Accessibility = "wheelchair accessible"
	full.Metadata.Languages = []string{"es"}
	assert.Equal(t, 1.0, completeness(full))
}
