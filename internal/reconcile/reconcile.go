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

// Package reconcile brings the remote object set into agreement with the
// local snapshot catalog: Phase A pushes missing snapshots (oldest-first,
// so incremental predecessors land before their dependents), Phase B
// deletes remote objects that no longer have a local counterpart.
package reconcile

import (
	"context"
	"fmt"
	"io"

	"github.com/chrisdsa/zvault-agent/internal/catalog"
	"github.com/sirupsen/logrus"
)

// Streamer is the subset of the VolumeManager capability the reconciler
// needs to produce the byte stream for an upload.
type Streamer interface {
	StreamFull(ctx context.Context, name string) (io.ReadCloser, error)
	StreamIncremental(ctx context.Context, from, to string) (io.ReadCloser, error)
}

// Store is the subset of the ObjectStore capability the reconciler needs.
type Store interface {
	List(ctx context.Context) ([]string, error)
	UploadStream(ctx context.Context, r io.Reader, key string) error
	Delete(ctx context.Context, key string) error
}

// ErrNotEnoughSnapshots is returned when an incremental snapshot has no
// predecessor to send a delta against.
type ErrNotEnoughSnapshots struct{ Volume, Name string }

func (e *ErrNotEnoughSnapshots) Error() string {
	return fmt.Sprintf("reconcile: volume %s: no predecessor for incremental snapshot %s", e.Volume, e.Name)
}

// ErrKindMismatch is returned when a snapshot's classification does not
// match the upload mode about to be used for it — a programming error.
type ErrKindMismatch struct{ Name string }

func (e *ErrKindMismatch) Error() string {
	return fmt.Sprintf("reconcile: kind mismatch for snapshot %s", e.Name)
}

// Reconciler diffs a Catalog against a Store and applies the diff.
type Reconciler struct {
	Streamer Streamer
	Store    Store
	Log      *logrus.Entry
}

// New builds a Reconciler. log may be nil, in which case a disabled
// logger is used.
func New(streamer Streamer, store Store, log *logrus.Entry) *Reconciler {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = logrus.NewEntry(l)
	}
	return &Reconciler{Streamer: streamer, Store: store, Log: log}
}

// Reconcile runs Phase A (push missing) followed by Phase B (delete
// orphans). Any single upload or delete failure aborts the run; partial
// progress is expected and is resolved by the next invocation's fresh diff.
func (r *Reconciler) Reconcile(ctx context.Context, cat *catalog.Catalog) error {
	if err := r.pushMissing(ctx, cat); err != nil {
		return err
	}
	return r.deleteOrphans(ctx, cat)
}

// pushMissing implements Phase A. Within each volume, snapshots are walked
// from oldest to newest among those missing remotely, so that an
// incremental's predecessor — if also missing — is always pushed first.
func (r *Reconciler) pushMissing(ctx context.Context, cat *catalog.Catalog) error {
	remote, err := r.Store.List(ctx)
	if err != nil {
		return err
	}
	present := make(map[string]bool, len(remote))
	for _, k := range remote {
		present[k] = true
	}

	for _, volume := range cat.Volumes() {
		snaps := cat.Snapshots(volume)
		// snaps is newest-first; walk from the tail (oldest) to the head.
		for i := len(snaps) - 1; i >= 0; i-- {
			snap := snaps[i]
			key := snap.Key()
			if present[key] {
				continue
			}

			if err := r.push(ctx, volume, snaps, i); err != nil {
				return err
			}
			present[key] = true
		}
	}
	return nil
}

func (r *Reconciler) push(ctx context.Context, volume string, snaps []catalog.Snapshot, i int) error {
	snap := snaps[i]
	key := snap.Key()

	switch snap.Kind() {
	case catalog.Full:
		r.Log.WithField("key", key).Info("uploading full snapshot")
		stream, err := r.Streamer.StreamFull(ctx, snap.Name)
		if err != nil {
			return err
		}
		defer stream.Close()
		return r.Store.UploadStream(ctx, stream, key)

	case catalog.Incremental:
		if i+1 >= len(snaps) {
			return &ErrNotEnoughSnapshots{Volume: volume, Name: snap.Name}
		}
		predecessor := snaps[i+1]

		r.Log.WithField("key", key).Info("uploading incremental snapshot")
		stream, err := r.Streamer.StreamIncremental(ctx, predecessor.Name, snap.Name)
		if err != nil {
			return err
		}
		defer stream.Close()
		return r.Store.UploadStream(ctx, stream, key)

	default:
		return &ErrKindMismatch{Name: snap.Name}
	}
}

// deleteOrphans implements Phase B: it recomputes the remote listing and
// removes any key that no local snapshot, across all volumes, derives.
func (r *Reconciler) deleteOrphans(ctx context.Context, cat *catalog.Catalog) error {
	remote, err := r.Store.List(ctx)
	if err != nil {
		return err
	}

	local := make(map[string]bool)
	for _, s := range cat.AllSnapshots() {
		local[s.Key()] = true
	}

	for _, key := range remote {
		if local[key] {
			continue
		}
		r.Log.WithField("key", key).Info("deleting orphaned remote object")
		if err := r.Store.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}
