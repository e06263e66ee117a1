package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "versebot/pkg/logx"
)

func openDrivers(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	out := map[string]Store{"memory": OpenMemory()}

	fs, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "file", "progress")}, logx.Nop())
	require.NoError(t, err)
	out["file"] = fs

	sq, err := Open(Config{Driver: "sqlite", Path: filepath.Join(dir, "sqlite", "progress.db")}, logx.Nop())
	require.NoError(t, err)
	out["sqlite"] = sq

	t.Cleanup(func() {
		for _, s := range out {
			_ = s.Close()
		}
	})
	return out
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()
	for name, st := range openDrivers(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			_, ok, err := st.Get(ctx, "tg:1")
			require.NoError(t, err)
			assert.False(t, ok, "absent recipient must report ok=false")

			require.NoError(t, st.Upsert(ctx, "tg:1", 0))
			day, ok, err := st.Get(ctx, "tg:1")
			require.NoError(t, err)
			assert.True(t, ok, "day 0 is present, not absent")
			assert.Equal(t, 0, day)

			require.NoError(t, st.Upsert(ctx, "tg:1", 3))
			require.NoError(t, st.Upsert(ctx, "tg:1", 3))
			day, _, err = st.Get(ctx, "tg:1")
			require.NoError(t, err)
			assert.Equal(t, 3, day)

			require.NoError(t, st.Upsert(ctx, "whatsapp:+911234", 1))
			ids, err := st.ListAll(ctx)
			require.NoError(t, err)
			sort.Strings(ids)
			assert.Equal(t, []string{"tg:1", "whatsapp:+911234"}, ids)
		})
	}
}

func TestStoreRejectsInvalidRecords(t *testing.T) {
	ctx := context.Background()
	for name, st := range openDrivers(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, st.Upsert(ctx, "", 1), ErrInvalidRecord)
			assert.ErrorIs(t, st.Upsert(ctx, "tg:1", -1), ErrInvalidRecord)
		})
	}
}

func TestStoreConcurrentUpsertsDifferentIdentities(t *testing.T) {
	ctx := context.Background()
	for name, st := range openDrivers(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			for i := 0; i < 50; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					assert.NoError(t, st.Upsert(ctx, fmt.Sprintf("tg:%d", i), i%7))
				}(i)
			}
			wg.Wait()

			ids, err := st.ListAll(ctx)
			require.NoError(t, err)
			assert.Len(t, ids, 50)
			for i := 0; i < 50; i++ {
				day, ok, err := st.Get(ctx, fmt.Sprintf("tg:%d", i))
				require.NoError(t, err)
				require.True(t, ok)
				assert.Equal(t, i%7, day)
			}
		})
	}
}

func TestStoreClosedReportsStoreError(t *testing.T) {
	ctx := context.Background()
	for name, st := range openDrivers(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			require.NoError(t, st.Close())
			_, _, err := st.Get(ctx, "tg:1")
			assert.ErrorIs(t, err, ErrStore)
			assert.ErrorIs(t, st.Upsert(ctx, "tg:1", 1), ErrStore)
			_, err = st.ListAll(ctx)
			assert.ErrorIs(t, err, ErrStore)
		})
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "progress")

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.Upsert(ctx, "tg:1", 2))
	require.NoError(t, st.Upsert(ctx, "tg:2", 5))
	require.NoError(t, st.Close())

	st, err = Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.Upsert(ctx, "tg:1", 3))

	day, ok, err := st.Get(ctx, "tg:1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, day)
	day, _, _ = st.Get(ctx, "tg:2")
	assert.Equal(t, 5, day)
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "progress.db")

	st, err := Open(Config{Path: path}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.Upsert(ctx, "whatsapp:+15550001", 4))
	require.NoError(t, st.Close())

	st, err = Open(Config{Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	day, ok, err := st.Get(ctx, "whatsapp:+15550001")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 4, day)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "postgres"}, logx.Nop())
	assert.Error(t, err)
}
