package model

// TypeCount is one stack's aggregate for a type.
// MinID and MaxID are nil when the type holds no records.
type TypeCount struct {
	Type  MigrationType `json:"type"`
	Count int64         `json:"count"`
	MinID *int64        `json:"min_id,omitempty"`
	MaxID *int64        `json:"max_id,omitempty"`
}

// TypeToMigrate holds the static bounds used to seed range partitioning
// for one type. Computed once per pass from both stacks' counts.
type TypeToMigrate struct {
	Type      MigrationType
	SrcCount  int64
	SrcMinID  *int64
	SrcMaxID  *int64
	DestCount int64
	DestMinID *int64
	DestMaxID *int64
}

// SrcRange returns the source id span, or false if the source is empty.
func (t TypeToMigrate) SrcRange() (IDRange, bool) {
	return spanOf(t.SrcCount, t.SrcMinID, t.SrcMaxID)
}

// DestRange returns the destination id span, or false if the destination is empty.
func (t TypeToMigrate) DestRange() (IDRange, bool) {
	return spanOf(t.DestCount, t.DestMinID, t.DestMaxID)
}

func spanOf(count int64, minID, maxID *int64) (IDRange, bool) {
	if count == 0 || minID == nil || maxID == nil {
		return IDRange{}, false
	}
	return IDRange{MinID: *minID, MaxID: *maxID}, true
}

// BuildTypesToMigrate joins source and destination counts for the given
// types. A type missing from a count list is treated as empty on that side.
func BuildTypesToMigrate(src, dest []TypeCount, types []MigrationType) []TypeToMigrate {
	srcByType := indexCounts(src)
	destByType := indexCounts(dest)

	out := make([]TypeToMigrate, 0, len(types))
	for _, t := range types {
		tm := TypeToMigrate{Type: t}
		if c, ok := srcByType[t]; ok {
			tm.SrcCount, tm.SrcMinID, tm.SrcMaxID = c.Count, c.MinID, c.MaxID
		}
		if c, ok := destByType[t]; ok {
			tm.DestCount, tm.DestMinID, tm.DestMaxID = c.Count, c.MinID, c.MaxID
		}
		out = append(out, tm)
	}
	return out
}

func indexCounts(counts []TypeCount) map[MigrationType]TypeCount {
	m := make(map[MigrationType]TypeCount, len(counts))
	for _, c := range counts {
		m[c.Type] = c
	}
	return m
}

// IntersectTypes returns the destination types also present on the source,
// in destination order.
func IntersectTypes(dest, src []MigrationType) []MigrationType {
	present := make(map[MigrationType]bool, len(src))
	for _, t := range src {
		present[t] = true
	}
	var out []MigrationType
	for _, t := range dest {
		if present[t] {
			out = append(out, t)
		}
	}
	return out
}

// StatusState is a stack's read/write mode.
type StatusState string

const (
	StatusReadWrite StatusState = "READ_WRITE"
	StatusReadOnly  StatusState = "READ_ONLY"
	StatusDown      StatusState = "DOWN"
)

// StackStatus is the status document exposed by a stack.
type StackStatus struct {
	Status  StatusState `json:"status"`
	Message string      `json:"current_message,omitempty"`
}
