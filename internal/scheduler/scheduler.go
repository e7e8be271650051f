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

// Package scheduler drives the two cron-triggered loops — backup and
// cleanup — that share an exclusive operation lease, and hosts the
// chain-aware retention algorithm they both rely on.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chrisdsa/zvault-agent/internal/catalog"
	"github.com/chrisdsa/zvault-agent/internal/lease"
	"github.com/chrisdsa/zvault-agent/internal/reconcile"
	"github.com/gobwas/glob"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// VolumeManager is the capability set the scheduler needs beyond what the
// catalog and reconciler already require: taking and destroying snapshots.
type VolumeManager interface {
	catalog.VolumeManager
	CreateSnapshot(ctx context.Context, name string) error
	DestroySnapshot(ctx context.Context, name string) error
}

// ErrSnapshotFailures aggregates per-volume snapshot creation or
// destruction failures from a single batch.
type ErrSnapshotFailures struct{ Errs []error }

func (e *ErrSnapshotFailures) Error() string {
	var b strings.Builder
	b.WriteString("snapshot failures:")
	for _, err := range e.Errs {
		b.WriteString("\n- " + err.Error())
	}
	return b.String()
}

func (e *ErrSnapshotFailures) Unwrap() []error { return e.Errs }

// BackupConfig configures the backup loop.
type BackupConfig struct {
	Full        cron.Schedule
	Incremental cron.Schedule
	Volumes     []string
}

// CleanupConfig configures the cleanup loop.
type CleanupConfig struct {
	Schedule     cron.Schedule
	KeepMin      int
	KeepDuration time.Duration
	Exclude      []string
}

// Scheduler owns the backup and cleanup loops.
type Scheduler struct {
	VolumeManager VolumeManager
	Reconciler    *reconcile.Reconciler
	Lease         *lease.Lease
	Clock         func() time.Time

	Backup  BackupConfig
	Cleanup CleanupConfig

	Log *logrus.Entry
}

func (s *Scheduler) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now().UTC()
}

func (s *Scheduler) log() *logrus.Entry {
	if s.Log != nil {
		return s.Log
	}
	l := logrus.New()
	return logrus.NewEntry(l)
}

// RunBackupLoop merges the full and incremental cron schedules into a
// single loop: whichever fires next wins, ties going to full. It runs
// until ctx is cancelled.
func (s *Scheduler) RunBackupLoop(ctx context.Context) error {
	log := s.log().WithField("loop", "backup")
	for {
		now := s.now()
		fullNext := s.Backup.Full.Next(now)
		incNext := s.Backup.Incremental.Next(now)

		kind := catalog.Full
		next := fullNext
		if incNext.Before(fullNext) {
			kind = catalog.Incremental
			next = incNext
		}

		if err := sleepUntil(ctx, next); err != nil {
			return nil // shutdown signal
		}

		h := s.Lease.Acquire("backup")
		if err := s.runBackupTick(ctx, kind, log); err != nil {
			log.WithError(err).Warn("backup tick failed")
		}
		h.Release()

		select {
		case <-ctx.Done():
			return nil
		default:
		}
	}
}

func (s *Scheduler) runBackupTick(ctx context.Context, kind catalog.Kind, log *logrus.Entry) error {
	cat, err := catalog.Build(ctx, s.VolumeManager)
	if err != nil {
		return fmt.Errorf("build catalog: %w", err)
	}
	cat, err = cat.Filter(s.Backup.Volumes)
	if err != nil {
		return fmt.Errorf("filter catalog: %w", err)
	}

	if kind == catalog.Incremental {
		if err := s.bootstrapEmptyVolumes(ctx, cat, log); err != nil {
			return fmt.Errorf("bootstrap: %w", err)
		}
	}

	if err := s.createSnapshots(ctx, cat, kind); err != nil {
		return fmt.Errorf("create snapshots: %w", err)
	}

	if err := cat.Refresh(ctx, s.VolumeManager); err != nil {
		return fmt.Errorf("refresh catalog: %w", err)
	}

	if err := s.Reconciler.Reconcile(ctx, cat); err != nil {
		log.WithError(err).Warn("reconcile failed")
	}
	return nil
}

// bootstrapEmptyVolumes creates a full snapshot on every filtered volume
// that currently has zero snapshots, since an incremental backup requires
// a predecessor. The tick still proceeds to create the incremental
// afterward on every volume (including the bootstrapped ones).
func (s *Scheduler) bootstrapEmptyVolumes(ctx context.Context, cat *catalog.Catalog, log *logrus.Entry) error {
	ts := s.now()
	var errs []error
	for _, volume := range cat.Volumes() {
		if len(cat.Snapshots(volume)) > 0 {
			continue
		}
		name := catalog.SuffixName(volume, catalog.Full, ts)
		log.WithField("volume", volume).Info("bootstrapping full snapshot before incremental")
		if err := s.VolumeManager.CreateSnapshot(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return &ErrSnapshotFailures{Errs: errs}
	}
	return cat.Refresh(ctx, s.VolumeManager)
}

// createSnapshots takes one snapshot per filtered volume, all sharing the
// same batch timestamp, with the suffix matching kind.
func (s *Scheduler) createSnapshots(ctx context.Context, cat *catalog.Catalog, kind catalog.Kind) error {
	ts := s.now()
	var errs []error
	for _, volume := range cat.Volumes() {
		name := catalog.SuffixName(volume, kind, ts)
		if err := s.VolumeManager.CreateSnapshot(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("volume %s: %w", volume, err))
		}
	}
	if len(errs) > 0 {
		return &ErrSnapshotFailures{Errs: errs}
	}
	return nil
}

// RunCleanupLoop sleeps until the cleanup cron fires, applies retention
// per volume, and propagates the resulting local deletions through the
// reconciler. It runs until ctx is cancelled.
func (s *Scheduler) RunCleanupLoop(ctx context.Context) error {
	log := s.log().WithField("loop", "cleanup")
	excludes, err := CompileGlobs(s.Cleanup.Exclude)
	if err != nil {
		return fmt.Errorf("compile exclude globs: %w", err)
	}

	for {
		now := s.now()
		next := s.Cleanup.Schedule.Next(now)

		if err := sleepUntil(ctx, next); err != nil {
			return nil
		}

		h := s.Lease.Acquire("cleanup")
		if err := s.runCleanupTick(ctx, excludes, log); err != nil {
			log.WithError(err).Warn("cleanup tick failed")
		}
		h.Release()

		select {
		case <-ctx.Done():
			return nil
		default:
		}
	}
}

func (s *Scheduler) runCleanupTick(ctx context.Context, excludes []glob.Glob, log *logrus.Entry) error {
	cat, err := catalog.Build(ctx, s.VolumeManager)
	if err != nil {
		return fmt.Errorf("build catalog: %w", err)
	}
	cat, err = cat.Filter(s.Backup.Volumes)
	if err != nil {
		return fmt.Errorf("filter catalog: %w", err)
	}
	if err := cat.Refresh(ctx, s.VolumeManager); err != nil {
		return fmt.Errorf("refresh catalog: %w", err)
	}

	cutoff := s.now().Add(-s.Cleanup.KeepDuration)

	var errs []error
	for _, volume := range cat.Volumes() {
		plan := PlanRetention(cat.Snapshots(volume), s.Cleanup.KeepMin, cutoff, excludes)
		for _, snap := range plan.Destroy {
			log.WithField("volume", volume).WithField("snapshot", snap.Name).Info("destroying expired snapshot")
			if err := s.VolumeManager.DestroySnapshot(ctx, snap.Name); err != nil {
				errs = append(errs, fmt.Errorf("volume %s: %w", volume, err))
				continue
			}
		}
		cat.SetSnapshots(volume, plan.Retained)
	}
	if len(errs) > 0 {
		log.WithError(&ErrSnapshotFailures{Errs: errs}).Warn("some snapshots failed to destroy")
	}

	return s.Reconciler.Reconcile(ctx, cat)
}

// sleepUntil blocks until instant or ctx cancellation, whichever comes
// first. It returns an error only on cancellation so callers can treat
// that as "stop the loop".
func sleepUntil(ctx context.Context, instant time.Time) error {
	d := time.Until(instant)
	if d <= 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
