package offload

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
)

func TestGzipFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.csv")
	content := []byte("## BEGIN METADATA ##\n# CAPTURE_ID x\n## END METADATA ##\n1,G,20000\n")
	require.NoError(t, ioutil.WriteFile(path, content, 0o644))

	gz, err := GzipFile(path)
	require.NoError(t, err)
	require.Equal(t, path+".gz", gz)
	require.NoFileExists(t, path)

	f, err := os.Open(gz)
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	require.Equal(t, "capture.csv", zr.Name)
	b, err := ioutil.ReadAll(zr)
	require.NoError(t, err)
	require.Equal(t, content, b)
}

func TestGzipFileMissing(t *testing.T) {
	dir := t.TempDir()
	_, err := GzipFile(filepath.Join(dir, "nope.csv"))
	require.Error(t, err)
	require.NoFileExists(t, filepath.Join(dir, "nope.csv.gz"))
}
