package database

import (
	"context"
	"testing"

	"github.com/hervehildenbrand/bgp-leakscan/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestChunk(t *testing.T) {
	events := make([]models.LeakEvent, 120)
	batches := chunk(events, batchSize)

	assert.Len(t, batches, 3)
	assert.Len(t, batches[0], 50)
	assert.Len(t, batches[2], 20)
	assert.Empty(t, chunk(nil, batchSize))
}

func TestMaxSeverity(t *testing.T) {
	tests := []struct {
		existing, incoming, expected string
	}{
		{models.SeverityMedium, models.SeverityHigh, models.SeverityHigh},
		{models.SeverityCritical, models.SeverityMedium, models.SeverityCritical},
		{models.SeverityLow, models.SeverityLow, models.SeverityLow},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, maxSeverity(tt.existing, tt.incoming))
	}
}

func TestOpen_InvalidURL(t *testing.T) {
	_, err := Open(context.Background(), "postgres://user@%zz/db")
	assert.Error(t, err)
}

func TestNewLeakWriter_DefaultTable(t *testing.T) {
	w := NewLeakWriter(nil, "")
	assert.Equal(t, "route_leaks", w.table)
	assert.Equal(t, WriterStats{}, w.Stats())
}

func TestExistingLeakQuery(t *testing.T) {
	first := models.LeakEvent{AffectedASN: 64500, LeakDay: 30, LeakDate: "2015-01-31"}
	second := models.LeakEvent{AffectedASN: 64500, LeakDay: 30, LeakDate: "2016-01-31"}

	query, args := existingLeakQuery(`"route_leaks"`, first)
	assert.Contains(t, query, "leak_date = $2")
	assert.NotContains(t, query, "leak_day")
	assert.Equal(t, []interface{}{uint32(64500), "2015-01-31"}, args)

	_, other := existingLeakQuery(`"route_leaks"`, second)
	assert.NotEqual(t, args, other)

	undated := models.LeakEvent{AffectedASN: 64500, LeakDay: 30}
	query, args = existingLeakQuery(`"route_leaks"`, undated)
	assert.Contains(t, query, "leak_day = $2 AND leak_date IS NULL")
	assert.Equal(t, []interface{}{uint32(64500), 30}, args)
}
