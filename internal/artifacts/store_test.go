//go:build integration

package artifacts

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startMinio(t *testing.T) string {
	t.Helper()
	t.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "minio/minio:latest",
			ExposedPorts: []string{"9000/tcp"},
			Cmd:          []string{"server", "/data"},
			Env: map[string]string{
				"MINIO_ROOT_USER":     "minioadmin",
				"MINIO_ROOT_PASSWORD": "minioadmin",
			},
			WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	endpoint, err := container.PortEndpoint(ctx, "9000/tcp", "")
	require.NoError(t, err)
	return endpoint
}

func TestStoreRoundTrip(t *testing.T) {
	endpoint := startMinio(t)
	ctx := context.Background()

	s, err := New(ctx,
		WithEndpoint(endpoint),
		WithBucket("maps-test"),
		WithAccessKey("minioadmin"),
		WithSecretKey("minioadmin"),
	)
	require.NoError(t, err)

	ref, err := s.Put(ctx, "maps/acme/item.png", "image/png", []byte("png-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "maps/acme/item.png", ref)

	data, err := s.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), data)

	require.NoError(t, s.Delete(ctx, ref))
	_, err = s.Get(ctx, ref)
	assert.ErrorIs(t, err, ErrNotFound)

	// Reopening an existing bucket is fine.
	_, err = New(ctx, WithEndpoint(endpoint), WithBucket("maps-test"),
		WithAccessKey("minioadmin"), WithSecretKey("minioadmin"))
	require.NoError(t, err)
}
