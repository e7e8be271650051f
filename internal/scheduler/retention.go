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

package scheduler

import (
	"time"

	"github.com/chrisdsa/zvault-agent/internal/catalog"
	"github.com/gobwas/glob"
)

// RetentionPlan is the result of applying the retention algorithm to one
// volume's snapshot sequence: the sequence to keep and the snapshots to
// destroy.
type RetentionPlan struct {
	Retained []catalog.Snapshot
	Destroy  []catalog.Snapshot
}

// PlanRetention applies the chain-aware retention algorithm to a single
// newest-first snapshot sequence.
//
// Step 1: find the index of the (keepMin+1)-th full snapshot, counting
// from newest (zero-indexed). Fewer than keepMin+1 fulls means retain
// everything.
// Step 2: from that index, find the first entry older than cutoff.
// Step 3: walk back from there to the last full snapshot in range, so any
// retained incremental always has its full-snapshot anchor retained too.
// If no earlier full exists but the cutoff entry itself is a full, it is
// retained as well rather than stranding the incrementals ahead of it.
// Step 4: truncate to that point; excluded snapshots are pulled back out
// of the to-destroy set.
func PlanRetention(snapshots []catalog.Snapshot, keepMin int, cutoff time.Time, excludes []glob.Glob) RetentionPlan {
	start, ok := nthFullIndex(snapshots, keepMin)
	if !ok {
		return RetentionPlan{Retained: snapshots}
	}

	t := len(snapshots)
	for i := start; i < len(snapshots); i++ {
		if snapshots[i].Creation.Before(cutoff) {
			t = i
			break
		}
	}

	cutoffIdx := t
	found := false
	for i := t - 1; i >= 0; i-- {
		if snapshots[i].Kind() == catalog.Full {
			cutoffIdx = i + 1
			found = true
			break
		}
	}
	// No full snapshot precedes the cutoff: every entry in S[0..t) is an
	// incremental with its anchor still at or after t. If S[t] itself is
	// the full those incrementals depend on, it must be retained too, or
	// they would be stranded.
	if !found && t < len(snapshots) && snapshots[t].Kind() == catalog.Full {
		cutoffIdx = t + 1
	}

	dropped := snapshots[cutoffIdx:]
	retained := append([]catalog.Snapshot(nil), snapshots[:cutoffIdx]...)

	var destroy []catalog.Snapshot
	for _, s := range dropped {
		if matchesAny(excludes, s.Name) {
			retained = append(retained, s)
			continue
		}
		destroy = append(destroy, s)
	}

	return RetentionPlan{Retained: retained, Destroy: destroy}
}

// nthFullIndex returns the index of the (n+1)-th full snapshot (zero
// indexed, counting from newest), or false if fewer than n+1 exist.
func nthFullIndex(snapshots []catalog.Snapshot, n int) (int, bool) {
	count := 0
	for i, s := range snapshots {
		if s.Kind() == catalog.Full {
			if count == n {
				return i, true
			}
			count++
		}
	}
	return 0, false
}

func matchesAny(globs []glob.Glob, name string) bool {
	for _, g := range globs {
		if g.Match(name) {
			return true
		}
	}
	return false
}

// CompileGlobs compiles glob patterns, propagating the first compile error.
func CompileGlobs(patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}
