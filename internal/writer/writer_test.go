package writer

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/channel-monitor/internal/monitor"
	queue "github.com/JakeFAU/channel-monitor/internal/queue/memory"
	storage "github.com/JakeFAU/channel-monitor/internal/storage/memory"
)

type mockStorage struct {
	mock.Mock
}

func (m *mockStorage) Select(ctx context.Context, table string, columns []string, where ...monitor.Where) ([]monitor.Row, error) {
	args := m.Called(ctx, table, columns, where)
	rows, _ := args.Get(0).([]monitor.Row)
	return rows, args.Error(1)
}

func (m *mockStorage) Insert(ctx context.Context, table string, rows ...monitor.Row) (int64, error) {
	args := m.Called(ctx, table, rows)
	return args.Get(0).(int64), args.Error(1)
}

var collectedAt = time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

func channelRec(id int64) monitor.PersistenceRecord {
	return monitor.ChannelSnapshot{RunID: 1, ChannelInternalID: id, SubscriberCount: id * 10, CollectedAt: collectedAt}.Record()
}

func videoRec(id int64) monitor.PersistenceRecord {
	return monitor.VideoSnapshot{RunID: 1, VideoInternalID: id, ViewCount: id, CollectedAt: collectedAt}.Record()
}

func closedQueue(t *testing.T, recs ...monitor.PersistenceRecord) *queue.Queue[monitor.PersistenceRecord] {
	t.Helper()
	q := queue.NewQueue[monitor.PersistenceRecord](len(recs) + 1)
	for _, rec := range recs {
		require.NoError(t, q.Enqueue(context.Background(), rec))
	}
	q.Close()
	return q
}

func rowsLen(n int) any {
	return mock.MatchedBy(func(rows []monitor.Row) bool { return len(rows) == n })
}

func TestFlushGroupsByTable(t *testing.T) {
	t.Parallel()

	store := &mockStorage{}
	store.On("Insert", mock.Anything, monitor.TableCollectChannel, rowsLen(2)).Return(int64(0), nil).Once()
	store.On("Insert", mock.Anything, monitor.TableCollectVideo, rowsLen(1)).Return(int64(0), nil).Once()

	q := closedQueue(t, channelRec(1), videoRec(1), channelRec(2))
	stats := New(q, store, Config{BufferLimit: 10}, nil).Run(context.Background())

	require.Equal(t, Stats{Flushes: 1, Written: 3}, stats)
	store.AssertExpectations(t)
}

func TestBufferLimitTriggersFlush(t *testing.T) {
	t.Parallel()

	store := storage.NewStore()
	q := closedQueue(t, videoRec(1), videoRec(2), videoRec(3), videoRec(4), videoRec(5))

	stats := New(q, store, Config{BufferLimit: 2}, nil).Run(context.Background())
	require.Equal(t, 3, stats.Flushes)
	require.Equal(t, 5, stats.Written)
	require.Len(t, store.Rows(monitor.TableCollectVideo), 5)
}

func TestGroupRetriedUntilSuccess(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	store := &mockStorage{}
	store.On("Insert", mock.Anything, monitor.TableCollectVideo, rowsLen(2)).Return(int64(0), errors.New("deadlock")).Twice()
	store.On("Insert", mock.Anything, monitor.TableCollectVideo, rowsLen(2)).Return(int64(0), nil).Once()

	q := closedQueue(t, videoRec(1), videoRec(2))
	stats := New(q, store, Config{}, zap.New(core)).Run(context.Background())

	require.Equal(t, 2, stats.Written)
	require.Zero(t, stats.Dropped)
	require.Equal(t, 2, logs.FilterMessage("batch insert failed").Len())
	require.Zero(t, logs.FilterLevelExact(zapcore.ErrorLevel).Len())
	store.AssertNumberOfCalls(t, "Insert", 3)
}

func TestExhaustedGroupIsDroppedAndLoggedOnce(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	store := &mockStorage{}
	store.On("Insert", mock.Anything, monitor.TableCollectChannel, mock.Anything).Return(int64(0), errors.New("down"))
	store.On("Insert", mock.Anything, monitor.TableCollectVideo, rowsLen(1)).Return(int64(0), nil).Once()

	q := closedQueue(t, channelRec(1), videoRec(9))
	stats := New(q, store, Config{BufferLimit: 1}, zap.New(core)).Run(context.Background())

	require.Equal(t, Stats{Flushes: 2, Written: 1, Dropped: 1}, stats)
	require.Equal(t, 1, logs.FilterMessage("batch insert exhausted retries; dropping records").Len())
	store.AssertNumberOfCalls(t, "Insert", 4)
	store.AssertExpectations(t)
}

func TestExhaustedGroupDoesNotBlockOtherTables(t *testing.T) {
	t.Parallel()

	store := &mockStorage{}
	store.On("Insert", mock.Anything, monitor.TableCollectChannel, mock.Anything).Return(int64(0), errors.New("down"))
	store.On("Insert", mock.Anything, monitor.TableCollectVideo, rowsLen(2)).Return(int64(0), nil).Once()

	q := closedQueue(t, videoRec(1), channelRec(1), videoRec(2))
	stats := New(q, store, Config{BufferLimit: 10}, nil).Run(context.Background())
	require.Equal(t, Stats{Flushes: 1, Written: 2, Dropped: 1}, stats)
	store.AssertExpectations(t)
}

func TestIdleTimeoutFlushesAndStops(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.WarnLevel)
	store := storage.NewStore()
	q := queue.NewQueue[monitor.PersistenceRecord](4)
	require.NoError(t, q.Enqueue(context.Background(), channelRec(3)))

	stats := New(q, store, Config{BufferLimit: 10, IdleTimeout: 20 * time.Millisecond}, zap.New(core)).
		Run(context.Background())

	require.Equal(t, 1, stats.Written)
	require.Len(t, store.Rows(monitor.TableCollectChannel), 1)
	require.Equal(t, 1, logs.FilterMessage("write queue idle; flushing and stopping").Len())
}

func TestCancellationFlushesBufferedRecords(t *testing.T) {
	t.Parallel()

	store := storage.NewStore()
	q := queue.NewQueue[monitor.PersistenceRecord](4)
	require.NoError(t, q.Enqueue(context.Background(), videoRec(1)))
	require.NoError(t, q.Enqueue(context.Background(), videoRec(2)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Stats, 1)
	go func() {
		done <- New(q, store, Config{BufferLimit: 10, IdleTimeout: time.Minute}, nil).Run(ctx)
	}()
	require.Eventually(t, func() bool { return q.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case stats := <-done:
		require.Equal(t, 2, stats.Written)
	case <-time.After(time.Second):
		t.Fatal("writer did not stop after cancellation")
	}
	require.Len(t, store.Rows(monitor.TableCollectVideo), 2)
}

func TestStatsAccumulateAcrossRuns(t *testing.T) {
	t.Parallel()

	store := storage.NewStore()
	w := New(closedQueue(t, videoRec(1)), store, Config{}, nil)
	w.Run(context.Background())
	w.source = closedQueue(t, videoRec(2), videoRec(3))
	stats := w.Run(context.Background())
	require.Equal(t, 3, stats.Written)
	require.Equal(t, stats, w.Stats())
}

func TestDeadLetterReceivesExhaustedGroup(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "dead.jsonl")
	store := &mockStorage{}
	store.On("Insert", mock.Anything, monitor.TableCollectVideo, mock.Anything).Return(int64(0), errors.New("down"))

	q := closedQueue(t, videoRec(4), videoRec(5))
	stats := New(q, store, Config{DeadLetter: NewDeadLetter(path)}, nil).Run(context.Background())
	require.Equal(t, 2, stats.DeadLettered)

	recs, err := ReadDeadLetter(path)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, monitor.TableCollectVideo, recs[0].Table)
	require.Equal(t, int64(4), recs[0].Columns["video_id"])
	require.Equal(t, int64(4), recs[0].Columns["view_count"])
	require.True(t, collectedAt.Equal(recs[1].Columns["collected_at"].(time.Time)))
}
