package sandbox

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestResolvePathRejectsEscape(t *testing.T) {
	sb, err := NewSandbox(t.TempDir())
	require.NoError(t, err)

	_, err = sb.ResolvePath("../outside")
	require.Error(t, err)
	var sErr *Error
	require.ErrorAs(t, err, &sErr)
	require.Equal(t, ErrorPathValidation, sErr.Category)
}

func TestResolvePathRejectsAbsoluteAndNulByte(t *testing.T) {
	sb, err := NewSandbox(t.TempDir())
	require.NoError(t, err)

	_, err = sb.ResolvePath("/etc/passwd")
	require.Error(t, err)

	_, err = sb.ResolvePath("foo\x00/../../etc/passwd")
	require.Error(t, err)
}

func TestWriteFileRegistersID(t *testing.T) {
	sb, err := NewSandbox(t.TempDir())
	require.NoError(t, err)

	id, err := sb.WriteFile("a/b.txt", []byte("hello"))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	fi, ok := sb.Lookup(id)
	require.True(t, ok)
	require.Equal(t, "a/b.txt", fi.RelativePath)
	require.EqualValues(t, 5, fi.Size)

	data, err := sb.ReadFile("a/b.txt")
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
}

func TestAtomicWriteReaderRoundTrip(t *testing.T) {
	sb, err := NewSandbox(t.TempDir())
	require.NoError(t, err)

	_, err = sb.AtomicWriteReader("out.jsonl", strings.NewReader("{}\n{}\n"))
	require.NoError(t, err)

	data, err := sb.ReadFile("out.jsonl")
	require.NoError(t, err)
	require.Equal(t, "{}\n{}\n", string(data))
}

func TestRunCleanupRemovesStaleFiles(t *testing.T) {
	sb, err := NewSandbox(t.TempDir())
	require.NoError(t, err)

	_, err = sb.WriteFile("stale/old.txt", []byte("x"))
	require.NoError(t, err)

	policy := CleanupPolicy{Enabled: true, MaxAge: -time.Second, CheckInterval: time.Minute}
	removed, err := sb.RunCleanup(policy, ".", nil)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	exists, err := sb.Exists("stale/old.txt")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestRemoveAllRejectsBaseDir(t *testing.T) {
	sb, err := NewSandbox(t.TempDir())
	require.NoError(t, err)

	err = sb.RemoveAll(".")
	require.Error(t, err)
}
