package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAttrsIsOrderIndependent(t *testing.T) {
	a := Attrs{"base_points_cost": float64(100), "battlefield_role": "Battleline", "unit_size": float64(5)}
	b := Attrs{"unit_size": float64(5), "base_points_cost": float64(100), "battlefield_role": "Battleline"}

	ha, err := HashAttrs(a)
	require.NoError(t, err)
	hb, err := HashAttrs(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)

	c := Attrs{"base_points_cost": float64(90), "battlefield_role": "Battleline", "unit_size": float64(5)}
	hc, err := HashAttrs(c)
	require.NoError(t, err)
	assert.NotEqual(t, ha, hc)
}

func TestRecordValidateFillsHash(t *testing.T) {
	rec := Record{
		EntityType: EntityUnit,
		SourceID:   "intercessor-squad",
		Name:       "Intercessor Squad",
		Attrs:      Attrs{"base_points_cost": float64(100)},
	}
	require.NoError(t, rec.Validate())
	assert.NotEmpty(t, rec.ContentHash)

	want, err := HashAttrs(rec.Attrs)
	require.NoError(t, err)
	assert.Equal(t, want, rec.ContentHash)
}

func TestRecordValidateRejectsBadRecords(t *testing.T) {
	tests := []struct {
		name string
		rec  Record
	}{
		{"unknown type", Record{EntityType: "vehicle", SourceID: "x", Name: "X"}},
		{"missing source id", Record{EntityType: EntityUnit, Name: "X"}},
		{"missing name", Record{EntityType: EntityUnit, SourceID: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.rec.Validate())
		})
	}
}

func TestStaticExtractorScopeFilter(t *testing.T) {
	extractor := &StaticExtractor{Payload: Payload{
		Records: []Record{
			{EntityType: EntityFaction, SourceID: "SM", Name: "Space Marines"},
			{EntityType: EntityUnit, SourceID: "intercessor", Name: "Intercessors", FactionCode: "SM"},
			{EntityType: EntityUnit, SourceID: "boyz", Name: "Boyz", FactionCode: "ORK"},
		},
	}}

	full, err := extractor.Extract(t.Context(), Scope{})
	require.NoError(t, err)
	assert.Len(t, full.Records, 3)

	scoped, err := extractor.Extract(t.Context(), Scope{FactionCode: "SM"})
	require.NoError(t, err)
	assert.Len(t, scoped.Records, 2)
}
