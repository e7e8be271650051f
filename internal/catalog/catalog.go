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

package catalog

import (
	"context"
	"sort"

	"github.com/gobwas/glob"
)

// VolumeManager is the capability-level interface the catalog needs from
// the local volume manager. internal/zfs.Manager implements it against the
// real zfs CLI; tests substitute a fake.
type VolumeManager interface {
	ListVolumes(ctx context.Context) ([]string, error)
	ListSnapshots(ctx context.Context) ([]Snapshot, error)
}

// Catalog is an in-memory index from volume path to its snapshots, ordered
// newest-first. Build and Refresh rebuild every volume's sequence at once;
// SetSnapshots replaces a single volume's sequence.
type Catalog struct {
	volumes map[string][]Snapshot
}

// Build enumerates every volume and every snapshot exactly once, then
// buckets snapshots under their owning volume by name-prefix match,
// sorting each bucket newest-first. Volumes with no snapshots appear as
// empty (non-nil) sequences.
func Build(ctx context.Context, vm VolumeManager) (*Catalog, error) {
	volumes, err := vm.ListVolumes(ctx)
	if err != nil {
		return nil, err
	}
	snapshots, err := vm.ListSnapshots(ctx)
	if err != nil {
		return nil, err
	}

	c := &Catalog{volumes: make(map[string][]Snapshot, len(volumes))}
	for _, v := range volumes {
		c.volumes[v] = bucketFor(v, snapshots)
	}
	return c, nil
}

func bucketFor(volume string, snapshots []Snapshot) []Snapshot {
	prefix := volume + Separator
	bucket := make([]Snapshot, 0)
	for _, s := range snapshots {
		if len(s.Name) > len(prefix) && s.Name[:len(prefix)] == prefix {
			bucket = append(bucket, s)
		}
	}
	sort.Slice(bucket, func(i, j int) bool {
		return bucket[i].Creation.After(bucket[j].Creation)
	})
	return bucket
}

// Filter returns a new Catalog retaining only volumes whose path matches at
// least one of the given glob patterns.
func (c *Catalog) Filter(patterns []string) (*Catalog, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, err
		}
		globs = append(globs, g)
	}

	out := &Catalog{volumes: make(map[string][]Snapshot)}
	for volume, snaps := range c.volumes {
		for _, g := range globs {
			if g.Match(volume) {
				out.volumes[volume] = snaps
				break
			}
		}
	}
	return out, nil
}

// Refresh re-enumerates snapshots from the volume manager and rebuilds each
// volume's sequence in place, preserving the set of volume keys the
// catalog currently holds.
func (c *Catalog) Refresh(ctx context.Context, vm VolumeManager) error {
	snapshots, err := vm.ListSnapshots(ctx)
	if err != nil {
		return err
	}
	for volume := range c.volumes {
		c.volumes[volume] = bucketFor(volume, snapshots)
	}
	return nil
}

// Volumes returns the set of volume paths currently in the catalog.
func (c *Catalog) Volumes() []string {
	out := make([]string, 0, len(c.volumes))
	for v := range c.volumes {
		out = append(out, v)
	}
	return out
}

// Snapshots returns the newest-first snapshot sequence for volume, or nil
// if volume is not in the catalog.
func (c *Catalog) Snapshots(volume string) []Snapshot {
	return c.volumes[volume]
}

// SetSnapshots replaces the sequence for volume. Used by the retention
// engine to apply a truncation without forcing a full rebuild.
func (c *Catalog) SetSnapshots(volume string, snaps []Snapshot) {
	c.volumes[volume] = snaps
}

// Len reports how many volumes are indexed.
func (c *Catalog) Len() int {
	return len(c.volumes)
}

// AllSnapshots returns every snapshot across every volume, in unspecified
// order. Used by the reconciler to compute the full local key set.
func (c *Catalog) AllSnapshots() []Snapshot {
	out := make([]Snapshot, 0)
	for _, snaps := range c.volumes {
		out = append(out, snaps...)
	}
	return out
}
