package badger

import (
	"errors"

	"github.com/dgraph-io/badger/v2"

	"github.com/akhenakh/nodeacq/storage"
)

type Journal struct {
	*badger.DB
}

// PutTx stores v as the task at seq
func (j *Journal) PutTx(txi storage.Tx, seq uint64, v []byte) error {
	tx, ok := txi.(*badger.Txn)
	if !ok {
		return errors.New("invalid tx passed")
	}

	e := badger.NewEntry(storage.TaskKey(seq), v)
	return tx.SetEntry(e)
}

// Put stores v as the task at seq
func (j *Journal) Put(seq uint64, v []byte) error {
	txn := j.NewTransaction(true)
	defer txn.Discard()

	if err := j.PutTx(txn, seq, v); err != nil {
		return err
	}

	return txn.Commit()
}

// DeleteTx removes the task at seq, a missing task is not an error
func (j *Journal) DeleteTx(txi storage.Tx, seq uint64) error {
	tx, ok := txi.(*badger.Txn)
	if !ok {
		return errors.New("invalid tx passed")
	}

	return tx.Delete(storage.TaskKey(seq))
}

// Delete removes the task at seq
func (j *Journal) Delete(seq uint64) error {
	txn := j.NewTransaction(true)
	defer txn.Discard()

	if err := j.DeleteTx(txn, seq); err != nil {
		return err
	}

	return txn.Commit()
}

// Entries returns all pending tasks in seq order
func (j *Journal) Entries() ([]storage.Entry, error) {
	var res []storage.Entry
	err := j.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := storage.TaskPrefix()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			seq, err := storage.ReadTaskKey(item.KeyCopy(nil))
			if err != nil {
				return err
			}

			valc, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			res = append(res, storage.Entry{Seq: seq, Value: valc})
		}
		return nil
	})

	return res, err
}

func (j *Journal) Begin() storage.Tx {
	txn := j.NewTransaction(true)
	return txn
}
