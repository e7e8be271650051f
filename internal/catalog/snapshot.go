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

// Package catalog holds the in-memory snapshot data model: Snapshot, Volume
// and Catalog, plus the pure operations (key derivation, kind
// classification) that do not require talking to the volume manager.
package catalog

import (
	"strings"
	"time"
)

// Separator between a volume path and its snapshot suffix, e.g.
// "pool/dataset@auto-backup-2025-01-01T00:00:00Z".
const Separator = "@"

// Suffix markers that distinguish full and incremental backups. Order
// matters for classification: the incremental marker contains the full
// marker as a substring, so it must be tested first.
const (
	SuffixFull        = "auto-backup-"
	SuffixIncremental = "auto-backup-incremental-"
)

// TimestampFormat is the ISO-8601 UTC, seconds-precision layout used in
// every generated snapshot suffix.
const TimestampFormat = "2006-01-02T15:04:05Z"

// Kind classifies a Snapshot as full or incremental.
type Kind int

const (
	Full Kind = iota
	Incremental
)

func (k Kind) String() string {
	if k == Incremental {
		return "incremental"
	}
	return "full"
}

// Snapshot is one named, timestamped point-in-time image of a Volume.
// Identity is Name; Creation is authoritative and comes from the volume
// manager's own record, never parsed out of Name.
type Snapshot struct {
	Name     string
	Creation time.Time
}

// Kind classifies the snapshot by substring match on its suffix marker.
func (s Snapshot) Kind() Kind {
	if strings.Contains(s.Name, SuffixIncremental) {
		return Incremental
	}
	return Full
}

// Key is the remote object key: the snapshot name with its pool/dataset
// prefix stripped down to the last '/'-segment.
func (s Snapshot) Key() string {
	if i := strings.LastIndexByte(s.Name, '/'); i >= 0 {
		return s.Name[i+1:]
	}
	return s.Name
}

// SuffixName builds a fully qualified snapshot name for volume at the given
// kind and timestamp, e.g. "pool/vol@auto-backup-2025-01-01T00:00:00Z".
func SuffixName(volume string, kind Kind, at time.Time) string {
	marker := SuffixFull
	if kind == Incremental {
		marker = SuffixIncremental
	}
	return volume + Separator + marker + at.UTC().Format(TimestampFormat)
}
