//go:build integration

package db

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/raphaelgruber/contextbase/internal/models"
)

const testDimension = 4

var testDB *Client

func TestMain(m *testing.M) {
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "surrealdb/surrealdb:v3.0.0-beta.1",
			ExposedPorts: []string{"8000/tcp"},
			Cmd:          []string{"start", "--log", "info", "--user", "root", "--pass", "root"},
			WaitingFor:   wait.ForLog("Started web server").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("start surrealdb container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		log.Fatalf("container host: %v", err)
	}
	if host == "" || host == "null" {
		host = "localhost"
	}
	port, err := container.MappedPort(ctx, "8000")
	if err != nil {
		log.Fatalf("mapped port: %v", err)
	}

	testDB, err = NewClient(ctx, Config{
		URL:       fmt.Sprintf("ws://%s:%s/rpc", host, port.Port()),
		Namespace: "test",
		Database:  "test",
		Username:  "root",
		Password:  "root",
		AuthLevel: "root",
	}, nil)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	if err := testDB.InitSchema(ctx, testDimension); err != nil {
		log.Fatalf("init schema: %v", err)
	}

	code := m.Run()

	_ = testDB.Close(ctx)
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func newItem(t *testing.T, tenant, source string, kind models.Kind) *models.ContentItem {
	t.Helper()
	item, err := testDB.CreateItem(context.Background(), &models.ContentItem{
		ID:       uuid.NewString(),
		TenantID: tenant,
		Source:   source,
		Kind:     kind,
		IsFile:   kind == models.KindFile,
	})
	require.NoError(t, err)
	return item
}

func TestCreateAndGetItem(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, testDB.WipeData(ctx))

	item := newItem(t, "acme", "sales.csv", models.KindFile)
	assert.Equal(t, 0, item.Progress)
	assert.Empty(t, item.Children)

	got, err := testDB.GetItem(ctx, item.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "sales.csv", got.Source)
	assert.Equal(t, models.KindFile, got.Kind)

	missing, err := testDB.GetItem(ctx, "does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestProgressIsMonotonic(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, testDB.WipeData(ctx))
	item := newItem(t, "acme", "doc.pdf", models.KindFile)

	applied, err := testDB.UpdateProgress(ctx, item.ID, 50)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = testDB.UpdateProgress(ctx, item.ID, 30)
	require.NoError(t, err)
	assert.False(t, applied, "decrease must be dropped")

	applied, err = testDB.CompleteItem(ctx, item.ID, "summary", "")
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = testDB.UpdateProgress(ctx, item.ID, 99)
	require.NoError(t, err)
	assert.False(t, applied, "ready is terminal")

	applied, err = testDB.FailItem(ctx, item.ID)
	require.NoError(t, err)
	assert.False(t, applied)

	got, err := testDB.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, "summary", got.Summary)
}

func TestChildrenAndCounts(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, testDB.WipeData(ctx))

	root := newItem(t, "acme", "https://example.com", models.KindWebsiteRoot)
	child, err := testDB.CreateItem(ctx, &models.ContentItem{
		ID: uuid.NewString(), TenantID: "acme", Source: "https://example.com/a",
		Kind: models.KindWebsitePage, ParentID: root.ID,
	})
	require.NoError(t, err)
	require.NoError(t, testDB.AttachChild(ctx, root.ID, child.ID, child.Source))
	newItem(t, "acme", "a.csv", models.KindFile)
	newItem(t, "other", "b.csv", models.KindFile)

	got, err := testDB.GetItem(ctx, root.ID)
	require.NoError(t, err)
	assert.True(t, got.IsParent)
	assert.Equal(t, []string{child.ID}, got.Children)
	assert.Equal(t, []string{"https://example.com/a"}, got.URLs)

	found, err := testDB.FindChild(ctx, root.ID, "https://example.com/a")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, child.ID, found.ID)

	top, err := testDB.ListItems(ctx, "acme")
	require.NoError(t, err)
	assert.Len(t, top, 2, "children are not listed at top level")

	n, err := testDB.CountByKinds(ctx, "acme", []models.Kind{models.KindFile})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, testDB.DetachChild(ctx, root.ID, child.ID, child.Source))
	deleted, err := testDB.DeleteItems(ctx, child.ID, root.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)
}

func TestAttachChildMissingParent(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, testDB.WipeData(ctx))

	err := testDB.AttachChild(ctx, uuid.NewString(), uuid.NewString(), "https://example.com/a")
	assert.ErrorIs(t, err, ErrNotFound)

	top, err := testDB.ListItems(ctx, "acme")
	require.NoError(t, err)
	assert.Empty(t, top, "no parent record is created")
}

func TestChunks(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, testDB.WipeData(ctx))

	entries := []models.VectorEntry{
		{ItemID: "i1", Content: "one", Position: 0, Embedding: []float32{1, 0, 0, 0}, Metadata: map[string]any{"page": 1}},
		{ItemID: "i1", Content: "two", Position: 1, Embedding: []float32{0, 1, 0, 0}},
		{ItemID: "i2", Content: "three", Embedding: []float32{0, 0, 1, 0}},
	}
	require.NoError(t, testDB.PutChunks(ctx, "acme", entries))

	n, err := testDB.CountChunks(ctx, "acme", "i1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, testDB.DeleteChunks(ctx, "acme", []string{"i1"}))
	n, err = testDB.CountChunks(ctx, "acme", "i1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = testDB.CountChunks(ctx, "acme", "i2")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMapArtifact(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, testDB.WipeData(ctx))
	item := newItem(t, "acme", "t.csv", models.KindFile)

	applied, err := testDB.SetMapArtifact(ctx, item.ID, "maps/acme/x.png")
	require.NoError(t, err)
	assert.False(t, applied, "not ready yet")

	_, err = testDB.CompleteItem(ctx, item.ID, "", "ctx")
	require.NoError(t, err)
	applied, err = testDB.SetMapArtifact(ctx, item.ID, "maps/acme/x.png")
	require.NoError(t, err)
	assert.True(t, applied)

	reopened, err := testDB.ReopenItem(ctx, item.ID, 42)
	require.NoError(t, err)
	require.NotNil(t, reopened)
	assert.Equal(t, 0, reopened.Progress)
	assert.False(t, reopened.MapCreated)
	assert.Equal(t, int64(42), reopened.Length)
}
