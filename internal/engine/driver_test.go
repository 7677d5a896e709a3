package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stacksync/internal/model"
	"github.com/roach88/stacksync/internal/testutil"
)

func newTestDriver(t *testing.T, src, dest *testutil.MemStack, opts Options) *Driver {
	t.Helper()
	retrier, _ := newTestRetrier()
	return NewDriver(src, dest, opts,
		WithLogger(quietLogger()),
		WithPassRetrier(retrier),
		WithSaltGenerator(testutil.FixedSalt("")))
}

func TestDriver_Success(t *testing.T) {
	src, dest := newStacks(typeNode)
	src.PutRange(typeNode, 1, 20, "e")
	dest.PutRange(typeNode, 10, 30, "x")

	d := newTestDriver(t, src, dest, testOptions(t))
	assert.Equal(t, StateIdle, d.State())

	res, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateDestinationReadWrite, res.State)
	assert.Equal(t, 1, res.Attempts)
	assert.False(t, res.FinalSync)
	require.NotNil(t, res.Report)
	assert.Equal(t, []model.StatusState{model.StatusReadOnly, model.StatusReadWrite}, dest.StatusLog())
	assert.Equal(t, src.Records(typeNode), dest.Records(typeNode))
	assert.Empty(t, src.StatusLog(), "source status is never changed")
}

func TestDriver_ReadOnlyFailureMovesNoData(t *testing.T) {
	src, dest := newStacks(typeNode)
	src.PutRange(typeNode, 1, 5, "e")
	dest.FailNext(testutil.OpSetStatus, 1)

	res, err := newTestDriver(t, src, dest, testOptions(t)).Run(context.Background())
	require.Error(t, err)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, model.StatusReadOnly, se.Target)
	assert.Equal(t, StateIdle, res.State)
	assert.Empty(t, dest.Trace())
	assert.Zero(t, src.Calls(testutil.OpCounts))
	assert.Empty(t, dest.StatusLog())
}

func TestDriver_RestoresReadWriteAfterFailure(t *testing.T) {
	src, dest := newStacks(typeNode)
	src.PutRange(typeNode, 1, 5, "e")
	dest.FailApplyFor(3)

	res, err := newTestDriver(t, src, dest, testOptions(t)).Run(context.Background())
	require.Error(t, err)

	var ae *ApplyError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, StateDestinationReadWrite, res.State)
	assert.Equal(t, []model.StatusState{model.StatusReadOnly, model.StatusReadWrite}, dest.StatusLog())
}

func TestDriver_RestoreFailureAfterSuccess(t *testing.T) {
	src, dest := newStacks(typeNode)
	src.PutRange(typeNode, 1, 5, "e")
	d := newTestDriver(t, src, dest, testOptions(t))

	d.dest = &restoreFailingStack{MemStack: dest}

	res, err := d.Run(context.Background())
	require.Error(t, err)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, model.StatusReadWrite, se.Target)
	assert.Equal(t, StateMigrating, res.State)
	assert.Equal(t, src.Records(typeNode), dest.Records(typeNode), "data still moved")
}

func TestDriver_RestoreFailureDoesNotMaskBodyError(t *testing.T) {
	src, dest := newStacks(typeNode)
	src.PutRange(typeNode, 1, 5, "e")
	dest.FailApplyFor(1)
	d := newTestDriver(t, src, dest, testOptions(t))
	d.dest = &restoreFailingStack{MemStack: dest}

	_, err := d.Run(context.Background())
	require.Error(t, err)

	var ae *ApplyError
	require.ErrorAs(t, err, &ae)
	var se *StatusError
	assert.False(t, errors.As(err, &se), "restore failure must not replace the body error")
}

func TestDriver_RetriesPass(t *testing.T) {
	src, dest := newStacks(typeNode)
	src.PutRange(typeNode, 1, 5, "e")
	// The first pass exhausts the count retries; the second succeeds.
	src.FailNext(testutil.OpCounts, 3)

	opts := testOptions(t)
	opts.MaxRetries = 2
	res, err := newTestDriver(t, src, dest, opts).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, src.Records(typeNode), dest.Records(typeNode))
	assert.Equal(t, []model.StatusState{model.StatusReadOnly, model.StatusReadWrite}, dest.StatusLog(),
		"status toggles once per run, not per pass")
}

func TestDriver_RetriesExhausted(t *testing.T) {
	src, dest := newStacks(typeNode)
	src.FailNext(testutil.OpCounts, 6)

	opts := testOptions(t)
	opts.MaxRetries = 2
	res, err := newTestDriver(t, src, dest, opts).Run(context.Background())
	require.Error(t, err)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, StateDestinationReadWrite, res.State)
}

func TestDriver_FinalSyncFromSourceStatus(t *testing.T) {
	src, dest := newStacks(typeNode)
	src.PutRange(typeNode, 1, 5, "e")
	src.SetStatus(model.StatusReadOnly)

	res, err := newTestDriver(t, src, dest, testOptions(t)).Run(context.Background())
	require.NoError(t, err)

	assert.True(t, res.FinalSync)
	assert.Equal(t, 1, src.Calls(testutil.OpTypeSum))
	assert.Equal(t, 1, dest.Calls(testutil.OpTypeSum))
}

func TestDriver_FinalSyncChecksumMismatch(t *testing.T) {
	src, dest := newStacks(typeNode)
	src.PutRange(typeNode, 1, 5, "e")

	opts := testOptions(t)
	opts.FinalSync = true
	d := newTestDriver(t, src, dest, opts)
	liar := &checksumLiar{MemStack: dest}
	d.dest = liar
	d.orch.dest = liar

	res, err := d.Run(context.Background())
	require.Error(t, err)
	assert.True(t, IsChecksumMismatch(err))
	assert.True(t, IsFatal(err))
	assert.True(t, res.FinalSync)
	assert.Equal(t, StateDestinationReadWrite, res.State)
}

func TestDriver_ChecksumMismatchIsNotRetried(t *testing.T) {
	src, dest := newStacks(typeNode)
	src.PutRange(typeNode, 1, 5, "e")

	opts := testOptions(t)
	opts.FinalSync = true
	opts.MaxRetries = 3
	d := newTestDriver(t, src, dest, opts)
	liar := &checksumLiar{MemStack: dest}
	d.dest = liar
	d.orch.dest = liar

	res, err := d.Run(context.Background())
	require.Error(t, err)
	assert.True(t, IsChecksumMismatch(err))
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, src.Calls(testutil.OpTypeSum), "one final-sync comparison")
	assert.Equal(t, []model.StatusState{model.StatusReadOnly, model.StatusReadWrite}, dest.StatusLog())
}

func TestDriver_DryRunLeavesDestinationAlone(t *testing.T) {
	src, dest := newStacks(typeNode)
	src.PutRange(typeNode, 1, 5, "e")

	opts := testOptions(t)
	opts.DryRun = true
	res, err := newTestDriver(t, src, dest, opts).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(5), res.Report.Types[0].Delta.Create)
	assert.Empty(t, dest.StatusLog())
	assert.Empty(t, dest.Trace())
}

// restoreFailingStack fails every attempt to set READ_WRITE.
type restoreFailingStack struct {
	*testutil.MemStack
}

func (r *restoreFailingStack) SetStackStatus(ctx context.Context, s model.StackStatus) (model.StackStatus, error) {
	if s.Status == model.StatusReadWrite {
		return model.StackStatus{}, testutil.ErrInjected
	}
	return r.MemStack.SetStackStatus(ctx, s)
}

// checksumLiar reports a constant full-type checksum.
type checksumLiar struct {
	*testutil.MemStack
}

func (c *checksumLiar) GetChecksumForType(context.Context, model.MigrationType) (string, error) {
	return "not-the-same", nil
}
