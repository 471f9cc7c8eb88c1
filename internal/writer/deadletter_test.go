package writer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/channel-monitor/internal/monitor"
)

func TestDeadLetterAppends(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "dead.jsonl")
	dl := NewDeadLetter(path)
	require.NoError(t, dl.Write([]monitor.PersistenceRecord{channelRec(1)}))
	require.NoError(t, dl.Write([]monitor.PersistenceRecord{channelRec(2), videoRec(3)}))

	recs, err := ReadDeadLetter(path)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	require.Equal(t, int64(20), recs[1].Columns["subscriber_count"])
	require.Equal(t, monitor.TableCollectVideo, recs[2].Table)
}

func TestReadDeadLetterErrors(t *testing.T) {
	t.Parallel()

	_, err := ReadDeadLetter(filepath.Join(t.TempDir(), "missing.jsonl"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"table":"collect_video","columns":{"collected_at":"yesterday"}}`+"\n"), 0o600))
	_, err = ReadDeadLetter(path)
	require.Error(t, err)
}
