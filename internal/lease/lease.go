/*
 * This file is part of the zvault-agent project
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

// Package lease provides the process-local, exclusive operation lease that
// serializes the backup and cleanup loops so they never interleave.
package lease

import (
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Lease is an exclusive, FIFO-unspecified mutual exclusion primitive. Its
// zero value is ready to use.
type Lease struct {
	mu  sync.Mutex
	log *logrus.Entry
}

// New returns a Lease that logs acquire/release events through log. log
// may be nil.
func New(log *logrus.Entry) *Lease {
	return &Lease{log: log}
}

// Holder is an acquired lease; call Release when the critical section ends.
type Holder struct {
	id    string
	owner string
	lease *Lease
}

// Acquire blocks until the lease is free, then returns a Holder identifying
// this acquisition for log correlation. owner is the calling loop's name
// (e.g. "backup", "cleanup").
func (l *Lease) Acquire(owner string) *Holder {
	l.mu.Lock()
	h := &Holder{id: uuid.NewString(), owner: owner, lease: l}
	if l.log != nil {
		l.log.WithFields(logrus.Fields{"lease_id": h.id, "owner": owner}).Debug("lease acquired")
	}
	return h
}

// Release frees the lease.
func (h *Holder) Release() {
	if h.lease.log != nil {
		h.lease.log.WithFields(logrus.Fields{"lease_id": h.id, "owner": h.owner}).Debug("lease released")
	}
	h.lease.mu.Unlock()
}
