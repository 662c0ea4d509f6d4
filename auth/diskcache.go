// Copyright 2023-2025 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Tjstretchalot/arango-crud/internal"
	"github.com/google/uuid"
	"pkt.systems/pslog"
)

// lockLogMaxLines is the size at which the winner of the lock compacts the
// append-only log back down to a single record.
const lockLogMaxLines = 10000

// DiskCache shares a JWT between every process and goroutine pointed at
// the same pair of files: a store file holding the current token,
// overwritten atomically, and an append-only lock log used as a poor man's
// mutex for deciding who refreshes it.
//
// The mutual-exclusion guarantee is only as strong as the filesystem's
// atomic-append and ordered-visibility guarantees. On filesystems that
// violate those, such as some network-attached storage, the lock degrades
// to best effort and two acquirers can both believe they won. Losing that
// race costs one redundant token mint, nothing more.
type DiskCache struct {
	storeFile string
	lockFile  string
	lockTime  time.Duration
	clock     internal.Clock
	logger    pslog.Base
}

var (
	_ Cache     = (*DiskCache)(nil)
	_ LockTimer = (*DiskCache)(nil)
)

// NewDiskCache creates a DiskCache over the given files. lockTime is how
// long an appended lock record holds the lock before it is considered
// abandoned and may be stolen; it must be longer than the time a refresh
// can take, so in practice comfortably above the request timeout.
func NewDiskCache(storeFile, lockFile string, lockTime time.Duration, opts ...Option) (*DiskCache, error) {
	if storeFile == "" {
		return nil, errors.New("auth: disk cache requires a store file path")
	}
	if lockFile == "" {
		return nil, errors.New("auth: disk cache requires a lock file path")
	}
	if storeFile == lockFile {
		return nil, errors.New("auth: disk cache store and lock files must differ")
	}
	if lockTime <= 0 {
		return nil, fmt.Errorf("auth: disk cache lock time must be positive, got %v", lockTime)
	}
	resolved := newOptions(opts)
	return &DiskCache{
		storeFile: storeFile,
		lockFile:  lockFile,
		lockTime:  lockTime,
		clock:     internal.NewRealClock(),
		logger:    resolved.logger,
	}, nil
}

// LockTime returns how long an acquired lock is honored before it is
// considered abandoned.
func (c *DiskCache) LockTime() time.Duration {
	return c.lockTime
}

// Fetch reads the store file. A missing file, unreadable file, or corrupt
// content (for example a writer mid-replace) all count as a miss.
func (c *DiskCache) Fetch() *Token {
	data, err := os.ReadFile(c.storeFile)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.logger.Warn("jwt store file unreadable, treating as empty",
				"path", c.storeFile, "error", err)
		}
		return nil
	}
	var token Token
	if err := json.Unmarshal(data, &token); err != nil {
		c.logger.Warn("jwt store file corrupt, treating as empty",
			"path", c.storeFile, "error", err)
		return nil
	}
	if token.Value == "" {
		return nil
	}
	return &token
}

// lockRecord is one line of the lock log.
type lockRecord struct {
	ID string  `json:"id"`
	TS float64 `json:"ts"`
}

func (r lockRecord) time() time.Time {
	return timeFromUnixSeconds(r.TS)
}

// TryAcquireLock appends a record to the lock log and reports whether this
// caller won the lock. A record younger than the lock time holds the lock,
// so the attempt fails without appending; an older one is abandoned and
// may be stolen. After appending, we win only if our record is the first
// new line past the point we read up to before appending; anything else
// there means a contender beat us.
func (c *DiskCache) TryAcquireLock() bool {
	lines, err := c.readLockLog()
	if err != nil {
		c.logger.Warn("jwt lock log unreadable", "path", c.lockFile, "error", err)
		return false
	}
	offset := len(lines)
	if offset > 0 {
		last, ok := c.parseLockRecord(lines[offset-1])
		if !ok {
			// An unparseable record violates the atomic-append
			// assumption. Assume the lock is held.
			return false
		}
		if c.clock.Since(last.time()) < c.lockTime {
			return false
		}
	}

	record := lockRecord{ID: uuid.NewString(), TS: unixSeconds(c.clock.Now())}
	line, err := json.Marshal(record)
	if err != nil {
		return false
	}
	line = append(line, '\n')
	if err := appendToFile(c.lockFile, line); err != nil {
		c.logger.Warn("could not append jwt lock record", "path", c.lockFile, "error", err)
		return false
	}

	after, err := c.readLockLog()
	if err != nil || len(after) <= offset {
		return false
	}
	first, ok := c.parseLockRecord(after[offset])
	if !ok || first.ID != record.ID {
		return false
	}

	if len(after) > lockLogMaxLines {
		// Compact the log to just our record so it cannot grow without
		// bound, then confirm nobody landed ahead of us in the interim.
		if err := os.WriteFile(c.lockFile, line, 0o644); err != nil {
			c.logger.Warn("could not compact jwt lock log", "path", c.lockFile, "error", err)
			return false
		}
		again, err := c.readLockLog()
		if err != nil || len(again) == 0 {
			return false
		}
		compacted, ok := c.parseLockRecord(again[0])
		if !ok || compacted.ID != record.ID {
			return false
		}
	}
	return true
}

// TrySet replaces the store file with the new token. The replacement is
// atomic (write to a temp file, then rename), so readers observe either
// the old token or the new one, never a partial write. A false return
// degrades the caller to memory-only caching; it is never fatal.
func (c *DiskCache) TrySet(token Token) bool {
	data, err := json.Marshal(token)
	if err != nil {
		return false
	}
	dir := filepath.Dir(c.storeFile)
	tmp, err := os.CreateTemp(dir, filepath.Base(c.storeFile)+".tmp-*")
	if err != nil {
		c.logger.Warn("could not create jwt store temp file", "dir", dir, "error", err)
		return false
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		c.logger.Warn("could not write jwt store temp file", "path", tmp.Name(), "error", err)
		return false
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		c.logger.Warn("could not close jwt store temp file", "path", tmp.Name(), "error", err)
		return false
	}
	if err := os.Rename(tmp.Name(), c.storeFile); err != nil {
		os.Remove(tmp.Name())
		c.logger.Warn("could not replace jwt store file", "path", c.storeFile, "error", err)
		return false
	}
	return true
}

// readLockLog returns the complete lines of the lock log. A missing file
// is an empty log. A trailing chunk without a newline belongs to a writer
// mid-append and is returned as a line; it will fail to parse, which
// callers treat as the lock being held.
func (c *DiskCache) readLockLog() ([]string, error) {
	data, err := os.ReadFile(c.lockFile)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	lines := strings.Split(string(data), "\n")
	if last := len(lines) - 1; lines[last] == "" {
		lines = lines[:last]
	}
	return lines, nil
}

func (c *DiskCache) parseLockRecord(line string) (lockRecord, bool) {
	var record lockRecord
	if err := json.Unmarshal([]byte(line), &record); err != nil || record.ID == "" {
		c.logger.Warn("unparseable jwt lock record", "path", c.lockFile, "line", line)
		return lockRecord{}, false
	}
	return record, true
}

// appendToFile appends data with a single write call, relying on the
// filesystem's atomic small-file append for records to land unsplit.
func appendToFile(path string, data []byte) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
