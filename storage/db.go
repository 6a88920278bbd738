package storage

import (
	"encoding/binary"
	"errors"
)

const Prefix = "NQ"

// Journal persists the pending upload tasks so they survive a restart.
// Entries are ordered by their sequence number.
type Journal interface {
	Put(seq uint64, v []byte) error
	PutTx(tx Tx, seq uint64, v []byte) error
	Delete(seq uint64) error
	DeleteTx(tx Tx, seq uint64) error
	Entries() ([]Entry, error)
	Begin() Tx
}

type Tx interface {
	Discard()
	Commit() error
}

type Entry struct {
	Seq   uint64
	Value []byte
}

// TaskKey returns the key of the task at seq
func TaskKey(seq uint64) []byte {
	// a key Prefix+"T"+seq
	tk := make([]byte, len(Prefix)+1+8)
	copy(tk, Prefix+"T")
	copy(tk[len(Prefix)+1:], itob(seq))
	return tk
}

// TaskPrefix returns the prefix shared by all task keys
func TaskPrefix() []byte {
	return []byte(Prefix + "T")
}

// ReadTaskKey returns the seq of a task key
func ReadTaskKey(tk []byte) (uint64, error) {
	if len(tk) != len(Prefix)+1+8 {
		return 0, errors.New("invalid task key length")
	}
	return binary.BigEndian.Uint64(tk[len(Prefix)+1:]), nil
}
