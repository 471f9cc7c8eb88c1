package targets

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadPicksChannelIDColumn(t *testing.T) {
	t.Parallel()

	in := "\ufeffname,channel_id,cluster\nA,UCaaa,1\nB, UCbbb ,2\nC,,3\n"
	ids, err := Read(strings.NewReader(in))
	require.NoError(t, err)
	require.Equal(t, []string{"UCaaa", "UCbbb"}, ids)
}

func TestReadRequiresHeader(t *testing.T) {
	t.Parallel()

	_, err := Read(strings.NewReader("name,id\nA,UCaaa\n"))
	require.ErrorContains(t, err, "channel_id")

	ids, err := Read(strings.NewReader(""))
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "channels.csv")
	require.NoError(t, os.WriteFile(path, []byte("channel_id\nUC1\nUC2\n"), 0o600))
	ids, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, []string{"UC1", "UC2"}, ids)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.csv"))
	require.Error(t, err)
}

func TestMergeDeduplicates(t *testing.T) {
	t.Parallel()

	got := Merge([]string{"UC1", " UC2", ""}, []string{"UC2", "UC3"}, nil)
	require.Equal(t, []string{"UC1", "UC2", "UC3"}, got)
}
