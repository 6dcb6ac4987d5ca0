package state

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/aobridge/internal/dispatch"
	"github.com/mattjoyce/aobridge/internal/protocol"
	"github.com/mattjoyce/aobridge/internal/storage"
)

func openBook(t *testing.T) *Book {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "aobridge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewBook(db)
}

func TestBook_CurrentProcess(t *testing.T) {
	b := openBook(t)
	ctx := context.Background()

	_, err := b.Current(ctx)
	assert.True(t, errors.Is(err, ErrNoCurrentProcess))

	_, err = b.Resolve(ctx, "")
	assert.ErrorIs(t, err, ErrNoCurrentProcess)

	got, err := b.Resolve(ctx, "explicit")
	require.NoError(t, err)
	assert.Equal(t, "explicit", got)

	require.NoError(t, b.Use(ctx, "external-pid"))
	cur, err := b.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "external-pid", cur)

	p, err := b.GetProcess(ctx, "external-pid")
	require.NoError(t, err)
	assert.Empty(t, p.Module)

	_, err = b.GetProcess(ctx, "nope")
	assert.ErrorIs(t, err, ErrProcessNotFound)
}

func TestBook_ObserveSpawnAndMessage(t *testing.T) {
	b := openBook(t)
	ctx := context.Background()

	b.Observe(ctx, dispatch.Record{
		ID: "inv-1",
		Command: protocol.Command{
			Command: protocol.CommandSpawn,
			Source:  "module-tx",
			Tags:    []protocol.Tag{{Name: "Name", Value: "counter"}},
		},
		Result: &protocol.Result{Success: true, ProcessID: "pid-1"},
	})
	b.Observe(ctx, dispatch.Record{
		ID:      "inv-2",
		Command: protocol.Command{Command: protocol.CommandSpawn, Source: "other"},
		Result:  protocol.Failure(protocol.KindOperation, "mu error"),
	})
	b.Observe(ctx, dispatch.Record{
		ID:     "inv-3",
		Digest: "blake3:ff",
		Command: protocol.Command{
			Command:   protocol.CommandMessage,
			ProcessID: "pid-1",
			Message:   "hi",
			Tags:      []protocol.Tag{{Name: "Action", Value: "Eval"}},
		},
		Result: &protocol.Result{Success: true, MessageID: "msg-1"},
	})

	procs, err := b.ListProcesses(ctx)
	require.NoError(t, err)
	require.Len(t, procs, 1)
	assert.Equal(t, "pid-1", procs[0].ID)
	assert.Equal(t, "module-tx", procs[0].Module)
	assert.Equal(t, "counter", procs[0].Name)
	assert.Equal(t, "inv-1", procs[0].InvocationID)

	cur, err := b.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "pid-1", cur)

	msgs, err := b.Messages(ctx, "pid-1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "msg-1", msgs[0].ID)
	assert.Equal(t, "Eval", msgs[0].Action)
	assert.Equal(t, "blake3:ff", msgs[0].Digest)
}

func TestBook_ListKeepsSpawnOrder(t *testing.T) {
	b := openBook(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i, id := range []string{"c", "a", "b"} {
		require.NoError(t, b.AddProcess(ctx, Process{ID: id, CreatedAt: base.Add(time.Duration(i) * time.Minute)}))
	}
	require.NoError(t, b.AddProcess(ctx, Process{ID: "a", Module: "ignored"}))

	procs, err := b.ListProcesses(ctx)
	require.NoError(t, err)
	var ids []string
	for _, p := range procs {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"c", "a", "b"}, ids)
	assert.Empty(t, procs[1].Module)
}

func TestSettings(t *testing.T) {
	b := openBook(t)
	ctx := context.Background()
	s := b.settings

	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrSettingNotFound)

	require.NoError(t, s.Set(ctx, "k", "v1"))
	require.NoError(t, s.Set(ctx, "k", "v2"))
	v, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v2", v)

	assert.Error(t, s.Set(ctx, "", "x"))
}
