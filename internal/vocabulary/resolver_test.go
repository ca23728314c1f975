package vocabulary

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolver_BuiltinTables(t *testing.T) {
	r := NewResolver(nil)

	tests := []struct {
		table Table
		raw   string
		want  string
	}{
		{UnitStatus, "Vacant-Unrented", "vacant"},
		{UnitStatus, "Notice-Rented", "occupied"},
		{UnitStatus, "Not Ready", "not_ready"},
		{UnitStatus, "Vacant - Make Ready", "vacant"},
		{LeaseStatus, "Evict", "eviction"},
		{WorkOrderStatus, "Work Done", "completed"},
		{WorkOrderStatus, "Cancelled", "canceled"},
		{WorkOrderPriority, "Urgent", "high"},
		{PropertyType, "Single-Family", "single_family"},
		{PropertyType, "Multi-Family", "multi_family"},
	}

	for _, tt := range tests {
		t.Run(string(tt.table)+"/"+tt.raw, func(t *testing.T) {
			got, ok := r.Normalize(tt.table, tt.raw)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolver_Unknown(t *testing.T) {
	r := NewResolver(nil)

	_, ok := r.Normalize(LeaseStatus, "Sublet")
	assert.False(t, ok)

	_, ok = r.Normalize(UnitStatus, "   ")
	assert.False(t, ok)

	_, ok = r.Normalize(Table("nope"), "current")
	assert.False(t, ok)

	assert.Equal(t, "unknown", r.NormalizeOr(LeaseStatus, "Sublet", "unknown"))
}

func TestResolver_OverridesTakePrecedence(t *testing.T) {
	cfg := &Config{
		Tables: map[Table]TableConfig{
			WorkOrderStatus: {
				Aliases: map[string]string{"Work Done": "in_progress", "On Hold": "in_progress"},
			},
			UnitStatus: {
				Patterns: []PatternConfig{
					{Pattern: "model_{rest*}", Canonical: "not_ready"},
					{Pattern: "", Canonical: "vacant"},
					{Pattern: "broken_{x}", Canonical: ""},
				},
			},
		},
	}

	r := NewResolver(cfg)

	assert.Equal(t, "in_progress", r.NormalizeOr(WorkOrderStatus, "Work Done", ""))
	assert.Equal(t, "in_progress", r.NormalizeOr(WorkOrderStatus, "on-hold", ""))
	assert.Equal(t, "not_ready", r.NormalizeOr(UnitStatus, "Model Unit A", ""))
	assert.Equal(t, "completed", r.NormalizeOr(WorkOrderStatus, "Completed", ""))
}

func TestResolver_NilSafe(t *testing.T) {
	var r *Resolver

	_, ok := r.Normalize(UnitStatus, "vacant")
	assert.False(t, ok)
	assert.Equal(t, 0, r.AliasCount(UnitStatus))
}

func TestResolver_ConcurrentUse(t *testing.T) {
	r := NewResolver(nil)

	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			got, _ := r.Normalize(UnitStatus, "Vacant-Rented")
			assert.Equal(t, "vacant", got)
		}()
	}

	wg.Wait()
}
