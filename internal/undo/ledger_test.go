package undo

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/sweetspot/internal/domain"
)

type call struct {
	op  string
	id  int64
	ids []int64
	arg string
}

type fakeInverter struct {
	calls []call
	fail  error
}

func (f *fakeInverter) DeleteRow(_ context.Context, id int64) error {
	f.calls = append(f.calls, call{op: "delete", id: id})
	return f.fail
}

func (f *fakeInverter) RestoreRow(_ context.Context, id int64, fields map[string]string) error {
	f.calls = append(f.calls, call{op: "restore_row", id: id, arg: fields[domain.ColDescription]})
	return f.fail
}

func (f *fakeInverter) ReinsertRow(_ context.Context, rec domain.ProductRecord) error {
	f.calls = append(f.calls, call{op: "reinsert", id: rec.UniqueID, arg: rec.ArticleDescriptionBatch})
	return f.fail
}

func (f *fakeInverter) DeleteRows(_ context.Context, ids []int64) error {
	f.calls = append(f.calls, call{op: "delete_rows", ids: ids})
	return f.fail
}

func (f *fakeInverter) DeleteBySource(_ context.Context, source string) error {
	f.calls = append(f.calls, call{op: "delete_source", arg: source})
	return f.fail
}

func (f *fakeInverter) RestoreBackup(_ context.Context, path string) error {
	f.calls = append(f.calls, call{op: "restore_backup", arg: path})
	return f.fail
}

func TestPopAndApply_Dispatch(t *testing.T) {
	tests := []struct {
		name  string
		entry Entry
		want  []call
	}{
		{
			name:  "add row deletes it",
			entry: Entry{Kind: KindAddRow, RowID: 5},
			want:  []call{{op: "delete", id: 5}},
		},
		{
			name:  "edit restores prior fields",
			entry: Entry{Kind: KindEditRow, RowID: 6, Fields: map[string]string{domain.ColDescription: "old"}},
			want:  []call{{op: "restore_row", id: 6, arg: "old"}},
		},
		{
			name:  "delete reinserts with original id",
			entry: Entry{Kind: KindDeleteRow, RowID: 7, Fields: map[string]string{domain.ColDescription: "gone"}},
			want:  []call{{op: "reinsert", id: 7, arg: "gone"}},
		},
		{
			name:  "document upload deletes the inserted rows",
			entry: Entry{Kind: KindUploadDocument, RowIDs: []int64{3, 4}, Sources: []string{"a.pdf"}},
			want:  []call{{op: "delete_rows", ids: []int64{3, 4}}},
		},
		{
			name:  "batch upload deletes the inserted rows only",
			entry: Entry{Kind: KindUploadBatch, RowIDs: []int64{8, 9, 10}, Sources: []string{"a.pdf", "Image: b.jpg"}},
			want:  []call{{op: "delete_rows", ids: []int64{8, 9, 10}}},
		},
		{
			name:  "upload entry without row ids falls back to provenance",
			entry: Entry{Kind: KindUploadBatch, Sources: []string{"a.pdf", "Image: b.jpg"}},
			want:  []call{{op: "delete_source", arg: "a.pdf"}, {op: "delete_source", arg: "Image: b.jpg"}},
		},
		{
			name:  "clear restores backup",
			entry: Entry{Kind: KindClearStore, BackupPath: "/b/x.db"},
			want:  []call{{op: "restore_backup", arg: "/b/x.db"}},
		},
		{
			name:  "download restores backup",
			entry: Entry{Kind: KindDownloadRemote, BackupPath: "/b/y.db"},
			want:  []call{{op: "restore_backup", arg: "/b/y.db"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewMemory()
			inv := &fakeInverter{}
			require.NoError(t, l.Push(tt.entry))

			got, err := l.PopAndApply(context.Background(), inv)
			require.NoError(t, err)
			assert.Equal(t, tt.entry.Kind, got.Kind)
			assert.Equal(t, tt.want, inv.calls)

			_, ok := l.Peek()
			assert.False(t, ok)
		})
	}
}

func TestPopAndApply_Empty(t *testing.T) {
	_, err := NewMemory().PopAndApply(context.Background(), &fakeInverter{})
	assert.ErrorIs(t, err, ErrNothingToUndo)
}

func TestPopAndApply_RemoteUploadNotInvertible(t *testing.T) {
	l := NewMemory()
	require.NoError(t, l.Push(Entry{Kind: KindUploadRemote}))

	inv := &fakeInverter{}
	_, err := l.PopAndApply(context.Background(), inv)
	assert.ErrorIs(t, err, ErrNotInvertible)
	assert.Empty(t, inv.calls)

	_, ok := l.Peek()
	assert.False(t, ok)
}

func TestPopAndApply_FailureStillClears(t *testing.T) {
	l := NewMemory()
	require.NoError(t, l.Push(Entry{Kind: KindAddRow, RowID: 1}))

	boom := errors.New("disk gone")
	_, err := l.PopAndApply(context.Background(), &fakeInverter{fail: boom})
	assert.ErrorIs(t, err, boom)

	_, err = l.PopAndApply(context.Background(), &fakeInverter{})
	assert.ErrorIs(t, err, ErrNothingToUndo)
}

func TestPush_SingleSlot(t *testing.T) {
	l := NewMemory()
	require.NoError(t, l.Push(Entry{Kind: KindAddRow, RowID: 1}))
	require.NoError(t, l.Push(Entry{Kind: KindAddRow, RowID: 2}))

	inv := &fakeInverter{}
	_, err := l.PopAndApply(context.Background(), inv)
	require.NoError(t, err)
	assert.Equal(t, []call{{op: "delete", id: 2}}, inv.calls)

	_, err = l.PopAndApply(context.Background(), inv)
	assert.ErrorIs(t, err, ErrNothingToUndo)
}

func TestOpen_PersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "undo.json")

	l, err := Open(path, nil)
	require.NoError(t, err)
	_, ok := l.Peek()
	assert.False(t, ok)

	require.NoError(t, l.Push(Entry{Kind: KindEditRow, RowID: 3, Fields: map[string]string{"SKU": "12345"}}))

	reopened, err := Open(path, nil)
	require.NoError(t, err)
	e, ok := reopened.Peek()
	require.True(t, ok)
	assert.Equal(t, KindEditRow, e.Kind)
	assert.Equal(t, "12345", e.Fields["SKU"])

	_, err = reopened.PopAndApply(context.Background(), &fakeInverter{})
	require.NoError(t, err)
	assert.NoFileExists(t, path)

	again, err := Open(path, nil)
	require.NoError(t, err)
	_, ok = again.Peek()
	assert.False(t, ok)
}
