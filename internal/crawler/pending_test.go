package crawler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingStore(t *testing.T) {
	s, err := OpenPendingStore("", nil)
	require.NoError(t, err)
	defer s.Close()

	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p1 := Pending{RunID: "run-1", ItemID: "i1", TenantID: "acme", Room: "acme", RootURL: "https://a.example", StartedAt: started}
	p2 := Pending{RunID: "run-2", ItemID: "i2", TenantID: "acme", Room: "acme", RootURL: "https://b.example", StartedAt: started}
	require.NoError(t, s.Put(p1))
	require.NoError(t, s.Put(p2))

	got, err := s.Get("run-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "i1", got.ItemID)
	assert.True(t, started.Equal(got.StartedAt))

	all, err := s.List()
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, s.Delete("run-1"))
	require.NoError(t, s.Delete("missing"))

	got, err = s.Get("run-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	all, err = s.List()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "run-2", all[0].RunID)
}

func TestPendingStoreOnDisk(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenPendingStore(dir, nil)
	require.NoError(t, err)
	require.NoError(t, s.Put(Pending{RunID: "run-1", ItemID: "i1"}))
	require.NoError(t, s.Close())

	s, err = OpenPendingStore(dir, nil)
	require.NoError(t, err)
	defer s.Close()

	all, err := s.List()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "i1", all[0].ItemID)
}
