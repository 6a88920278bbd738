package offload

import (
	"encoding/json"
	"path"
	"path/filepath"
)

// Task is a finished capture file waiting to be uploaded.
type Task struct {
	Bucket     string `json:"bucket"`
	LocalPath  string `json:"local_path"`
	RemotePath string `json:"remote_path"`

	// journal sequence, 0 when not journaled
	seq uint64
}

// NewTask returns a task uploading localPath to {nodeID}/{basename} in bucket.
func NewTask(bucket, nodeID, localPath string) Task {
	return Task{
		Bucket:     bucket,
		LocalPath:  localPath,
		RemotePath: RemoteKey(nodeID, filepath.Base(localPath)),
	}
}

// RemoteKey is the object key used for a capture file of nodeID.
func RemoteKey(nodeID, filename string) string {
	if nodeID == "" {
		nodeID = "UNKNOWN"
	}
	return path.Join(nodeID, filename)
}

func (t Task) marshal() ([]byte, error) {
	return json.Marshal(t)
}

func unmarshalTask(seq uint64, b []byte) (Task, error) {
	var t Task
	if err := json.Unmarshal(b, &t); err != nil {
		return t, err
	}
	t.seq = seq
	return t, nil
}
