package pgsink

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Abzwingten/pgloader/internal/errs"
	"github.com/Abzwingten/pgloader/internal/queue"
	"github.com/Abzwingten/pgloader/internal/source"
	"github.com/Abzwingten/pgloader/internal/stats"
)

func identityTransforms(n int) []source.Transform {
	ts := make([]source.Transform, n)
	for i := range ts {
		ts[i] = func(v interface{}) (interface{}, error) { return v, nil }
	}
	return ts
}

func TestFeedRejectsWrongCardinalityWithRowIndex(t *testing.T) {
	desc := &source.Descriptor{
		TargetName: "widgets",
		Columns:    []source.Column{{Name: "a"}, {Name: "b"}},
		Transforms: identityTransforms(2),
	}
	q := queue.New(4)
	require.NoError(t, q.Push(queue.Row{"ok", "row"}, nil))
	require.NoError(t, q.Push(queue.Row{"too", "few", "columns"}, nil))
	q.Close()

	st := stats.NewPGState("widgets")
	var buf bytes.Buffer
	s := &Sink{}

	err := s.feed(context.Background(), desc, q, st, &rejectWriter{}, &buf)
	require.Error(t, err)

	var rowErr *errs.Error
	require.True(t, errors.As(err, &rowErr))
	assert.Equal(t, errs.KindSink, rowErr.Kind)
	assert.Equal(t, 1, rowErr.RowIdx)
	assert.Equal(t, int64(1), st.RowsWrite)
}

func TestCopySurfacesFeedRowIndexUnwrapped(t *testing.T) {
	desc := &source.Descriptor{
		TargetName: "widgets",
		Columns:    []source.Column{{Name: "a"}},
		Transforms: identityTransforms(1),
	}
	q := queue.New(4)
	require.NoError(t, q.Push(queue.Row{"one", "two"}, nil))
	q.Close()

	st := stats.NewPGState("widgets")
	var buf bytes.Buffer
	s := &Sink{}

	writeErr := s.feed(context.Background(), desc, q, st, &rejectWriter{}, &buf)
	require.Error(t, writeErr)

	// Copy's error handling must surface this *errs.Error as-is rather
	// than re-wrapping it, or RowIdx would be lost behind a second,
	// unindexed layer.
	rowErr, ok := writeErr.(*errs.Error)
	require.True(t, ok)
	assert.Equal(t, 0, rowErr.RowIdx)
}
