package badger

import (
	"io/ioutil"
	"os"
	"testing"

	"github.com/dgraph-io/badger/v2"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) (*badger.DB, func()) {
	dir, err := ioutil.TempDir("", "badger")
	require.NoError(t, err)

	opt := badger.DefaultOptions(dir)
	opt.Logger = nil

	db, err := badger.Open(opt)
	require.NoError(t, err)

	return db, func() {
		if db != nil {
			db.Close()
		}
		os.RemoveAll(dir)
	}
}

func TestPutEntriesOrdered(t *testing.T) {
	bdb, clean := openStore(t)
	defer clean()

	j := &Journal{DB: bdb}

	require.NoError(t, j.Put(300, []byte("C")))
	require.NoError(t, j.Put(1, []byte("A")))
	require.NoError(t, j.Put(2, []byte("B")))

	res, err := j.Entries()
	require.NoError(t, err)
	require.Len(t, res, 3)
	require.Equal(t, uint64(1), res[0].Seq)
	require.Equal(t, []byte("A"), res[0].Value)
	require.Equal(t, uint64(2), res[1].Seq)
	require.Equal(t, uint64(300), res[2].Seq)
	require.Equal(t, []byte("C"), res[2].Value)
}

func TestDelete(t *testing.T) {
	bdb, clean := openStore(t)
	defer clean()

	j := &Journal{DB: bdb}
	require.NoError(t, j.Put(1, []byte("A")))
	require.NoError(t, j.Delete(1))
	// deleting twice is fine
	require.NoError(t, j.Delete(1))

	res, err := j.Entries()
	require.NoError(t, err)
	require.Len(t, res, 0)
}

func TestMoveInTx(t *testing.T) {
	bdb, clean := openStore(t)
	defer clean()

	j := &Journal{DB: bdb}
	require.NoError(t, j.Put(1, []byte("A")))
	require.NoError(t, j.Put(2, []byte("B")))

	// requeue A at the tail
	tx := j.Begin()
	require.NoError(t, j.DeleteTx(tx, 1))
	require.NoError(t, j.PutTx(tx, 3, []byte("A")))
	require.NoError(t, tx.Commit())

	res, err := j.Entries()
	require.NoError(t, err)
	require.Len(t, res, 2)
	require.Equal(t, []byte("B"), res[0].Value)
	require.Equal(t, []byte("A"), res[1].Value)
	require.Equal(t, uint64(3), res[1].Seq)
}
