package testutil

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"slices"
	"sync"
	"time"

	"github.com/roach88/stacksync/internal/model"
	"github.com/roach88/stacksync/internal/stack"
)

// Operation names accepted by FailNext and Calls.
const (
	OpRows         = "rows"
	OpRowsRange    = "rows/range"
	OpCounts       = "counts"
	OpPrimaryTypes = "primarytypes"
	OpRangeSum     = "checksum/range"
	OpTypeSum      = "checksum"
	OpApply        = "apply"
	OpGetStatus    = "status/get"
	OpSetStatus    = "status/set"
)

// ErrInjected is the error returned by injected failures.
var ErrInjected = errors.New("injected failure")

// ApplyCall is one recorded ApplyBatch call.
type ApplyCall struct {
	Seq      int64               `yaml:"seq"`
	Type     model.MigrationType `yaml:"type"`
	Category model.Category      `yaml:"category"`
	IDs      []int64             `yaml:"ids,flow"`
	Failed   bool                `yaml:"failed,omitempty"`
}

// MemStack is an in-memory stack.Client.
//
// Records are kept per type as id → etag. A destination MemStack applies
// creates and updates by copying the record from its source.
//
// Range checksums are HMAC-SHA256 keyed by the salt over the record count
// and each record's "id@etag" in id order, so equal content yields equal
// sums and a fresh salt yields fresh sums.
//
// Thread-safety: all methods are safe for concurrent use.
type MemStack struct {
	mu sync.Mutex

	name    string
	types   []model.MigrationType
	records map[model.MigrationType]map[int64]*string
	status  model.StackStatus
	source  *MemStack

	clock      *DeterministicClock
	trace      []ApplyCall
	statusLog  []model.StatusState
	calls      map[string]int
	failNext   map[string]int
	failIDs    map[int64]bool
	applyDelay time.Duration
}

var _ stack.Client = (*MemStack)(nil)

// NewMemStack creates an empty READ_WRITE stack whose primary types are
// types, in dependency order.
func NewMemStack(name string, types ...model.MigrationType) *MemStack {
	return &MemStack{
		name:     name,
		types:    slices.Clone(types),
		records:  make(map[model.MigrationType]map[int64]*string),
		status:   model.StackStatus{Status: model.StatusReadWrite},
		clock:    NewDeterministicClock(),
		calls:    make(map[string]int),
		failNext: make(map[string]int),
		failIDs:  make(map[int64]bool),
	}
}

// Name returns the stack's name.
func (m *MemStack) Name() string {
	return m.name
}

// Types returns the stack's primary types without counting a call.
func (m *MemStack) Types() []model.MigrationType {
	return slices.Clone(m.types)
}

// SetSource makes creates and updates copy records from src.
func (m *MemStack) SetSource(src *MemStack) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.source = src
}

// Put stores a record with the given etag.
func (m *MemStack) Put(t model.MigrationType, id int64, etag string) {
	m.PutRecord(t, model.Rec(id, etag))
}

// PutRecord stores rec, keeping a nil etag nil.
func (m *MemStack) PutRecord(t model.MigrationType, rec model.RecordMetadata) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putLocked(t, rec.ID, rec.Etag)
}

// PutRange stores ids lo..hi, all with the same etag.
func (m *MemStack) PutRange(t model.MigrationType, lo, hi int64, etag string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := lo; id <= hi; id++ {
		e := etag
		m.putLocked(t, id, &e)
	}
}

func (m *MemStack) putLocked(t model.MigrationType, id int64, etag *string) {
	byID, ok := m.records[t]
	if !ok {
		byID = make(map[int64]*string)
		m.records[t] = byID
	}
	if etag != nil {
		e := *etag
		etag = &e
	}
	byID[id] = etag
}

// Remove deletes a record.
func (m *MemStack) Remove(t model.MigrationType, id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records[t], id)
}

// Records returns a type's records in ascending id order.
func (m *MemStack) Records(t model.MigrationType) []model.RecordMetadata {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedLocked(t)
}

func (m *MemStack) sortedLocked(t model.MigrationType) []model.RecordMetadata {
	byID := m.records[t]
	ids := make([]int64, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	out := make([]model.RecordMetadata, len(ids))
	for i, id := range ids {
		out[i] = model.RecordMetadata{ID: id, Etag: byID[id]}
	}
	return out
}

// FailNext makes the next n calls of op fail with ErrInjected.
func (m *MemStack) FailNext(op string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext[op] += n
}

// FailApplyFor makes every apply batch containing one of ids fail.
func (m *MemStack) FailApplyFor(ids ...int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		m.failIDs[id] = true
	}
}

// SetApplyDelay makes each apply call wait d, or until its context ends.
func (m *MemStack) SetApplyDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyDelay = d
}

// Calls returns how many times op was called, failures included.
func (m *MemStack) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Trace returns every apply call in call order.
func (m *MemStack) Trace() []ApplyCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.trace)
}

// ResetTrace clears the apply trace and restarts its numbering.
func (m *MemStack) ResetTrace() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trace = nil
	m.clock.Reset()
}

// StatusLog returns every status set on the stack, in order.
func (m *MemStack) StatusLog() []model.StatusState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.statusLog)
}

// SetStatus sets the status without recording it in the status log.
func (m *MemStack) SetStatus(s model.StatusState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = model.StackStatus{Status: s}
}

// enter counts a call and consumes one injected failure if armed.
// Callers hold m.mu.
func (m *MemStack) enter(op string) error {
	m.calls[op]++
	if m.failNext[op] > 0 {
		m.failNext[op]--
		return fmt.Errorf("%s %s: %w", m.name, op, ErrInjected)
	}
	return nil
}

// GetRowMetadata implements stack.Client.
func (m *MemStack) GetRowMetadata(_ context.Context, t model.MigrationType, limit, offset int64) (model.RowMetadataResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpRows); err != nil {
		return model.RowMetadataResult{}, err
	}

	all := m.sortedLocked(t)
	res := model.RowMetadataResult{TotalCount: int64(len(all)), Records: []model.RecordMetadata{}}
	if offset >= int64(len(all)) {
		return res, nil
	}
	end := min(offset+limit, int64(len(all)))
	res.Records = all[offset:end]
	return res, nil
}

// GetRowMetadataByRange implements stack.Client.
func (m *MemStack) GetRowMetadataByRange(_ context.Context, t model.MigrationType, minID, maxID int64) (model.RowMetadataResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpRowsRange); err != nil {
		return model.RowMetadataResult{}, err
	}

	res := model.RowMetadataResult{Records: []model.RecordMetadata{}}
	for _, rec := range m.sortedLocked(t) {
		if rec.ID >= minID && rec.ID <= maxID {
			res.Records = append(res.Records, rec)
		}
	}
	res.TotalCount = int64(len(res.Records))
	return res, nil
}

// GetTypeCounts implements stack.Client. Primary types come first in
// dependency order, then any other stored type by name.
func (m *MemStack) GetTypeCounts(_ context.Context) ([]model.TypeCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpCounts); err != nil {
		return nil, err
	}

	types := slices.Clone(m.types)
	var extra []model.MigrationType
	for t := range m.records {
		if !slices.Contains(types, t) {
			extra = append(extra, t)
		}
	}
	slices.Sort(extra)
	types = append(types, extra...)

	out := make([]model.TypeCount, 0, len(types))
	for _, t := range types {
		recs := m.sortedLocked(t)
		tc := model.TypeCount{Type: t, Count: int64(len(recs))}
		if len(recs) > 0 {
			lo, hi := recs[0].ID, recs[len(recs)-1].ID
			tc.MinID, tc.MaxID = &lo, &hi
		}
		out = append(out, tc)
	}
	return out, nil
}

// GetPrimaryTypes implements stack.Client.
func (m *MemStack) GetPrimaryTypes(_ context.Context) ([]model.MigrationType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpPrimaryTypes); err != nil {
		return nil, err
	}
	return slices.Clone(m.types), nil
}

// GetChecksumForIDRange implements stack.Client.
func (m *MemStack) GetChecksumForIDRange(_ context.Context, t model.MigrationType, salt string, minID, maxID int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpRangeSum); err != nil {
		return "", err
	}

	var recs []model.RecordMetadata
	for _, rec := range m.sortedLocked(t) {
		if rec.ID >= minID && rec.ID <= maxID {
			recs = append(recs, rec)
		}
	}
	return checksum(hmac.New(sha256.New, []byte(salt)), recs), nil
}

// GetChecksumForType implements stack.Client.
func (m *MemStack) GetChecksumForType(_ context.Context, t model.MigrationType) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpTypeSum); err != nil {
		return "", err
	}
	return checksum(sha256.New(), m.sortedLocked(t)), nil
}

func checksum(h hash.Hash, recs []model.RecordMetadata) string {
	fmt.Fprintf(h, "%d\n", len(recs))
	for _, rec := range recs {
		fmt.Fprintf(h, "%s\n", rec)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ApplyBatch implements stack.Client. Deletes remove ids; creates and
// updates copy the source's record, and ids the source lacks are skipped.
func (m *MemStack) ApplyBatch(ctx context.Context, t model.MigrationType, cat model.Category, ids []int64) (int64, error) {
	m.mu.Lock()
	delay := m.applyDelay
	m.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			m.recordApply(t, cat, ids, true)
			return 0, ctx.Err()
		}
	}

	m.mu.Lock()
	err := m.enter(OpApply)
	if err == nil {
		for _, id := range ids {
			if m.failIDs[id] {
				err = fmt.Errorf("%s apply id %d: %w", m.name, id, ErrInjected)
				break
			}
		}
	}
	if err != nil {
		m.traceLocked(t, cat, ids, true)
		m.mu.Unlock()
		return 0, err
	}
	src := m.source
	m.mu.Unlock()

	var fromSource map[int64]*string
	if cat != model.CategoryDelete && src != nil {
		fromSource = src.lookup(t, ids)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, id := range ids {
		switch cat {
		case model.CategoryDelete:
			if _, ok := m.records[t][id]; ok {
				delete(m.records[t], id)
				n++
			}
		default:
			etag, ok := fromSource[id]
			if !ok {
				continue
			}
			m.putLocked(t, id, etag)
			n++
		}
	}
	m.traceLocked(t, cat, ids, false)
	return n, nil
}

func (m *MemStack) lookup(t model.MigrationType, ids []int64) map[int64]*string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int64]*string, len(ids))
	for _, id := range ids {
		if etag, ok := m.records[t][id]; ok {
			out[id] = etag
		}
	}
	return out
}

func (m *MemStack) recordApply(t model.MigrationType, cat model.Category, ids []int64, failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[OpApply]++
	m.traceLocked(t, cat, ids, failed)
}

func (m *MemStack) traceLocked(t model.MigrationType, cat model.Category, ids []int64, failed bool) {
	m.trace = append(m.trace, ApplyCall{
		Seq:      m.clock.Next(),
		Type:     t,
		Category: cat,
		IDs:      slices.Clone(ids),
		Failed:   failed,
	})
}

// GetStackStatus implements stack.Client.
func (m *MemStack) GetStackStatus(_ context.Context) (model.StackStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpGetStatus); err != nil {
		return model.StackStatus{}, err
	}
	return m.status, nil
}

// SetStackStatus implements stack.Client.
func (m *MemStack) SetStackStatus(_ context.Context, status model.StackStatus) (model.StackStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpSetStatus); err != nil {
		return model.StackStatus{}, err
	}
	m.status = status
	m.statusLog = append(m.statusLog, status.Status)
	return m.status, nil
}
