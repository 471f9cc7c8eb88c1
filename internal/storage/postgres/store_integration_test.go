//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/JakeFAU/channel-monitor/internal/monitor"
)

func setupDatabase(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "collector",
			"POSTGRES_PASSWORD": "collector",
			"POSTGRES_DB":       "collector",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://collector:collector@%s:%s/collector?sslmode=disable", host, port.Port())
	require.NoError(t, Migrate(dsn, Up))
	return dsn
}

func TestStorageRoundTrip(t *testing.T) {
	dsn := setupDatabase(t)
	ctx := context.Background()

	store, err := NewStorage(ctx, Config{DSN: dsn, MaxConns: 4})
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.Ping(ctx))

	published := time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)
	channelID, err := store.Insert(ctx, monitor.TableChannel,
		monitor.ChannelRecord{ExternalID: "UCint", Title: "Int", PublishedAt: published}.Row())
	require.NoError(t, err)
	require.Positive(t, channelID)

	_, err = store.Insert(ctx, monitor.TableChannel, monitor.ChannelRecord{ExternalID: "UCint"}.Row())
	require.Error(t, err, "yt_id must stay unique")

	videoID, err := store.Insert(ctx, monitor.TableVideo, monitor.VideoRecord{
		ExternalID: "vidint", ChannelInternalID: channelID, LengthSeconds: 253, PublishedAt: published,
	}.Row())
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Second)
	_, err = store.Insert(ctx, monitor.TableCollectVideo,
		monitor.VideoSnapshot{RunID: 1, VideoInternalID: videoID, ViewCount: 5, CollectedAt: now}.Record().Columns,
		monitor.VideoSnapshot{RunID: 2, VideoInternalID: videoID, ViewCount: 9, CollectedAt: now}.Record().Columns,
	)
	require.NoError(t, err)

	rows, err := store.Select(ctx, monitor.TableCollectVideo, []string{"view_count"},
		monitor.Where{Column: "video_id", Value: videoID})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	found, err := store.Select(ctx, monitor.TableChannel, []string{"channel_id"},
		monitor.Where{Column: "yt_id", Value: "UCint"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	got, err := monitor.Int64(found[0]["channel_id"])
	require.NoError(t, err)
	require.Equal(t, channelID, got)

	require.NoError(t, Migrate(dsn, Down))
}
