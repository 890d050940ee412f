package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mwzzzh/devreg/pkg/config"
	"github.com/mwzzzh/devreg/pkg/util"
)

// backupFile is one append-only shard file with rotation.
type backupFile struct {
	f     *os.File
	lines int
	seq   int
}

// BackupWriter appends provisioned devices to local files, one line of JSON
// per device, sharded by the task id so concurrent runs spread writes over
// several files. Backup is belt-and-braces next to the DB: a failure here is
// logged, never fatal.
type BackupWriter struct {
	cfg config.Backup

	mu    sync.Mutex
	files map[int]*backupFile
}

// NewBackupWriter creates the backup directory and the writer.
func NewBackupWriter(cfg config.Backup) (*BackupWriter, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating backup dir: %w", err)
	}
	return &BackupWriter{cfg: cfg, files: make(map[int]*backupFile)}, nil
}

// Append writes one serialized device. shardKey picks the file; negative
// keys fold onto file 0.
func (w *BackupWriter) Append(shardKey int, line []byte) error {
	idx := 0
	if w.cfg.Shards > 1 && shardKey >= 0 {
		idx = shardKey % w.cfg.Shards
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	bf, err := w.fileFor(idx)
	if err != nil {
		return err
	}
	if _, err := bf.f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("appending to backup file: %w", err)
	}
	if w.cfg.Fsync {
		if err := bf.f.Sync(); err != nil {
			return fmt.Errorf("fsync backup file: %w", err)
		}
	}
	bf.lines++
	if w.cfg.PerFileMax > 0 && bf.lines >= w.cfg.PerFileMax {
		bf.f.Close()
		bf.f = nil
		bf.lines = 0
		bf.seq++
	}
	return nil
}

func (w *BackupWriter) fileFor(idx int) (*backupFile, error) {
	bf := w.files[idx]
	if bf == nil {
		bf = &backupFile{}
		w.files[idx] = bf
	}
	if bf.f == nil {
		name := fmt.Sprintf("%s_%d.txt", w.cfg.FilePrefix, idx)
		if bf.seq > 0 {
			name = fmt.Sprintf("%s_%d_part%d.txt", w.cfg.FilePrefix, idx, bf.seq)
		}
		f, err := os.OpenFile(filepath.Join(w.cfg.Dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("opening backup file %s: %w", name, err)
		}
		bf.f = f
	}
	return bf, nil
}

// Close flushes and closes every open backup file.
func (w *BackupWriter) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for idx, bf := range w.files {
		if bf.f == nil {
			continue
		}
		if err := bf.f.Close(); err != nil {
			util.WithField("file", idx).Warnf("closing backup file: %v", err)
		}
		bf.f = nil
	}
}
