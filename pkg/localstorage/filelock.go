// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package localstorage

import (
	"fmt"
	"os"
	"syscall"
	"time"
)

// fileLock is a directory-scoped advisory lock backed by a dedicated
// lock file, the Go rendering of the original's FileLock usage for the
// handful of artifact files multiple lines or nodes may race to write
// (the reduce-node target and, when BatchSize > 1, a shared
// flow_artifacts block file). There is no suitable third-party
// file-locking dependency anywhere in the retrieval pack to ground this
// on, so it is built directly on syscall.Flock, the same
// dependency-light posture the base code takes elsewhere for thin
// syscall wrappers.
type fileLock struct {
	f *os.File
}

// acquireFileLock blocks (with bounded retries) until it holds an
// exclusive lock on a file at lockPath, creating the file if absent.
func acquireFileLock(lockPath string) (*fileLock, error) {
	var f *os.File
	var err error

	const maxAttempts = 50
	backoff := 10 * time.Millisecond
	for attempt := 0; attempt < maxAttempts; attempt++ {
		f, err = os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
		if err != nil {
			return nil, fmt.Errorf("localstorage: opening lock file %s: %w", lockPath, err)
		}

		flockErr := syscall.Flock(int(f.Fd()), syscall.LOCK_EX)
		if flockErr == nil {
			return &fileLock{f: f}, nil
		}
		f.Close()

		if attempt == maxAttempts-1 {
			return nil, fmt.Errorf("localstorage: locking %s: %w", lockPath, flockErr)
		}
		time.Sleep(backoff)
	}
	return nil, fmt.Errorf("localstorage: locking %s: exhausted retries", lockPath)
}

// release unlocks and closes the lock file.
func (l *fileLock) release() {
	syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	l.f.Close()
}
