package vocabulary

// Table names one canonical vocabulary.
type Table string

const (
	UnitStatus        Table = "unit_status"
	LeaseStatus       Table = "lease_status"
	WorkOrderStatus   Table = "work_order_status"
	WorkOrderPriority Table = "work_order_priority"
	PropertyType      Table = "property_type"
)

// Tables returns every known table.
func Tables() []Table {
	return []Table{UnitStatus, LeaseStatus, WorkOrderStatus, WorkOrderPriority, PropertyType}
}

// IsValid checks if the table is known.
func (t Table) IsValid() bool {
	_, ok := builtinAliases[t]

	return ok
}

// builtinAliases are keyed by canonicalization.NormalizeKey of the raw report value.
var builtinAliases = map[Table]map[string]string{
	UnitStatus: {
		"occupied":           "occupied",
		"occupied_no_notice": "occupied",
		"notice_rented":      "occupied",
		"notice_unrented":    "occupied",
		"vacant":             "vacant",
		"vacant_rented":      "vacant",
		"vacant_unrented":    "vacant",
		"not_ready":          "not_ready",
		"down":               "not_ready",
		"under_renovation":   "not_ready",
	},
	LeaseStatus: {
		"current":  "current",
		"notice":   "notice",
		"future":   "future",
		"past":     "past",
		"evict":    "eviction",
		"eviction": "eviction",
	},
	WorkOrderStatus: {
		"new":                "open",
		"estimate_requested": "open",
		"estimated":          "open",
		"assigned":           "in_progress",
		"scheduled":          "in_progress",
		"waiting":            "in_progress",
		"work_done":          "completed",
		"ready_to_bill":      "completed",
		"completed":          "completed",
		"completed_no_need":  "completed",
		"canceled":           "canceled",
		"cancelled":          "canceled",
	},
	WorkOrderPriority: {
		"low":       "low",
		"normal":    "normal",
		"medium":    "normal",
		"high":      "high",
		"urgent":    "high",
		"emergency": "emergency",
	},
	PropertyType: {
		"single_family":   "single_family",
		"sfr":             "single_family",
		"multi_family":    "multi_family",
		"multifamily":     "multi_family",
		"apartment":       "multi_family",
		"condo":           "condo",
		"townhouse":       "townhouse",
		"commercial":      "commercial",
		"office":          "commercial",
		"retail":          "commercial",
		"mixed_use":       "mixed_use",
		"self_storage":    "self_storage",
		"hoa":             "association",
		"association":     "association",
		"manufactured":    "manufactured",
		"mobile_home":     "manufactured",
		"student_housing": "multi_family",
	},
}

// builtinPatterns catch report variants the exact tables miss.
var builtinPatterns = map[Table][]PatternConfig{
	UnitStatus: {
		{Pattern: "vacant_{rest*}", Canonical: "vacant"},
		{Pattern: "notice_{rest*}", Canonical: "occupied"},
		{Pattern: "occupied_{rest*}", Canonical: "occupied"},
	},
}
