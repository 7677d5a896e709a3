package model

import "fmt"

// MigrationType names one logical record type on a stack (e.g. "NODE").
// The order of a stack's primary type list is the dependency order.
type MigrationType string

// Category is the kind of change a delta record represents.
type Category string

const (
	CategoryCreate Category = "create"
	CategoryUpdate Category = "update"
	CategoryDelete Category = "delete"
)

// Categories lists all categories in apply-phase order.
var Categories = []Category{CategoryDelete, CategoryCreate, CategoryUpdate}

// RecordMetadata identifies one record of one type by id and change token.
type RecordMetadata struct {
	ID   int64   `json:"id"`
	Etag *string `json:"etag"`
}

// SameEtag reports whether two records carry the same etag.
// Two nil etags are equal; nil never equals a non-nil etag.
func (r RecordMetadata) SameEtag(o RecordMetadata) bool {
	if r.Etag == nil || o.Etag == nil {
		return r.Etag == nil && o.Etag == nil
	}
	return *r.Etag == *o.Etag
}

// String renders the record as "id@etag" ("id" for a nil etag).
func (r RecordMetadata) String() string {
	if r.Etag == nil {
		return fmt.Sprintf("%d", r.ID)
	}
	return fmt.Sprintf("%d@%s", r.ID, *r.Etag)
}

// Rec builds a RecordMetadata with a non-nil etag.
func Rec(id int64, etag string) RecordMetadata {
	return RecordMetadata{ID: id, Etag: &etag}
}

// RowMetadataResult is one page returned by the metadata API.
type RowMetadataResult struct {
	Records    []RecordMetadata `json:"list"`
	TotalCount int64            `json:"total_count"`
}

// IDRange is an inclusive span of record ids.
type IDRange struct {
	MinID int64 `json:"min_id"`
	MaxID int64 `json:"max_id"`
}

// Size returns the number of ids covered by the range.
func (r IDRange) Size() int64 {
	return r.MaxID - r.MinID + 1
}

// Contains reports whether id lies within the range.
func (r IDRange) Contains(id int64) bool {
	return id >= r.MinID && id <= r.MaxID
}

func (r IDRange) String() string {
	return fmt.Sprintf("[%d,%d]", r.MinID, r.MaxID)
}

// DeltaRanges is the classification of one type's id space.
// Each list is in ascending id order.
type DeltaRanges struct {
	Type      MigrationType `json:"type"`
	InsRanges []IDRange     `json:"ins_ranges"`
	DelRanges []IDRange     `json:"del_ranges"`
	UpdRanges []IDRange     `json:"upd_ranges"`
}

// DeltaCounts accumulates the number of records per category.
type DeltaCounts struct {
	Create int64 `json:"create"`
	Update int64 `json:"update"`
	Delete int64 `json:"delete"`
}

// Add returns the sum of two counts.
func (c DeltaCounts) Add(o DeltaCounts) DeltaCounts {
	return DeltaCounts{
		Create: c.Create + o.Create,
		Update: c.Update + o.Update,
		Delete: c.Delete + o.Delete,
	}
}

// Get returns the count for one category.
func (c DeltaCounts) Get(cat Category) int64 {
	switch cat {
	case CategoryCreate:
		return c.Create
	case CategoryUpdate:
		return c.Update
	case CategoryDelete:
		return c.Delete
	}
	return 0
}

// IsZero reports whether no changes were found.
func (c DeltaCounts) IsZero() bool {
	return c.Create == 0 && c.Update == 0 && c.Delete == 0
}

func (c DeltaCounts) String() string {
	return fmt.Sprintf("create=%d update=%d delete=%d", c.Create, c.Update, c.Delete)
}
