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

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/chrisdsa/zvault-agent/internal/catalog"
	"github.com/chrisdsa/zvault-agent/internal/config"
	"github.com/chrisdsa/zvault-agent/internal/lease"
	"github.com/chrisdsa/zvault-agent/internal/logging"
	"github.com/chrisdsa/zvault-agent/internal/objectstore"
	"github.com/chrisdsa/zvault-agent/internal/reconcile"
	"github.com/chrisdsa/zvault-agent/internal/scheduler"
	"github.com/chrisdsa/zvault-agent/internal/zfs"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

var (
	configPath string
	logLevel   string
	singleShot string
	zfsBin     string
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "zvault-agent",
		Short:   "Replicates copy-on-write volume snapshots to S3-compatible storage",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "/etc/zvault-agent/config.yaml", "path to the YAML configuration file")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	cmd.PersistentFlags().StringVar(&singleShot, "single-shot", "", "run one backup tick (full|incremental) and exit, instead of running as a daemon")
	cmd.PersistentFlags().StringVar(&zfsBin, "zfs-bin", "zfs", "path to the zfs binary")

	return cmd
}

func run(ctx context.Context) error {
	if err := logging.SetLevel(logLevel); err != nil {
		return fmt.Errorf("log-level: %w", err)
	}
	log := logging.For("main")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	cfg, err := config.Parse(data)
	if err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	store, err := objectstore.New(objectstore.Config{
		URL:       cfg.S3.URL,
		Region:    cfg.S3.Region,
		Bucket:    cfg.S3.Bucket,
		AccessKey: os.Getenv("ZVAULT_S3_ACCESS_KEY_ID"),
		SecretKey: os.Getenv("ZVAULT_S3_SECRET_ACCESS_KEY"),
	})
	if err != nil {
		return fmt.Errorf("connect to object store: %w", err)
	}

	vm := zfs.NewManager(zfsBin)
	recon := reconcile.New(vm, store, logging.For("reconcile"))

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if singleShot != "" {
		return runSingleShot(ctx, vm, recon, cfg, singleShot, log)
	}
	return runDaemon(ctx, vm, recon, cfg, log)
}

func runSingleShot(ctx context.Context, vm *zfs.Manager, recon *reconcile.Reconciler, cfg *config.Config, kind string, log *logrus.Entry) error {
	var k catalog.Kind
	switch kind {
	case "full":
		k = catalog.Full
	case "incremental":
		k = catalog.Incremental
	default:
		return fmt.Errorf("single-shot: unknown kind %q, want full or incremental", kind)
	}

	s, err := newScheduler(vm, recon, cfg, log)
	if err != nil {
		return err
	}

	h := s.Lease.Acquire("single-shot")
	defer h.Release()

	cat, err := catalog.Build(ctx, vm)
	if err != nil {
		return fmt.Errorf("build catalog: %w", err)
	}
	cat, err = cat.Filter(cfg.Backup.Volumes)
	if err != nil {
		return fmt.Errorf("filter catalog: %w", err)
	}

	if k == catalog.Incremental {
		for _, volume := range cat.Volumes() {
			if len(cat.Snapshots(volume)) == 0 {
				name := catalog.SuffixName(volume, catalog.Full, time.Now().UTC())
				if err := vm.CreateSnapshot(ctx, name); err != nil {
					return fmt.Errorf("bootstrap volume %s: %w", volume, err)
				}
			}
		}
		if err := cat.Refresh(ctx, vm); err != nil {
			return fmt.Errorf("refresh catalog: %w", err)
		}
	}

	ts := time.Now().UTC()
	for _, volume := range cat.Volumes() {
		name := catalog.SuffixName(volume, k, ts)
		if err := vm.CreateSnapshot(ctx, name); err != nil {
			return fmt.Errorf("create snapshot on volume %s: %w", volume, err)
		}
	}
	if err := cat.Refresh(ctx, vm); err != nil {
		return fmt.Errorf("refresh catalog: %w", err)
	}

	return recon.Reconcile(ctx, cat)
}

func runDaemon(ctx context.Context, vm *zfs.Manager, recon *reconcile.Reconciler, cfg *config.Config, log *logrus.Entry) error {
	s, err := newScheduler(vm, recon, cfg, log)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := s.RunBackupLoop(ctx); err != nil {
			log.WithError(err).Error("backup loop exited")
		}
	}()
	go func() {
		defer wg.Done()
		if err := s.RunCleanupLoop(ctx); err != nil {
			log.WithError(err).Error("cleanup loop exited")
		}
	}()

	wg.Wait()
	return nil
}

func newScheduler(vm *zfs.Manager, recon *reconcile.Reconciler, cfg *config.Config, log *logrus.Entry) (*scheduler.Scheduler, error) {
	fullSched, err := cfg.BackupSchedule()
	if err != nil {
		return nil, err
	}
	incSched, err := cfg.IncrementalSchedule()
	if err != nil {
		return nil, err
	}
	cleanupSched, err := cfg.CleanupSchedule()
	if err != nil {
		return nil, err
	}
	keepDuration, err := config.ParseKeepDuration(cfg.Cleanup.KeepDuration)
	if err != nil {
		return nil, err
	}

	return &scheduler.Scheduler{
		VolumeManager: vm,
		Reconciler:    recon,
		Lease:         lease.New(logging.For("lease")),
		Log:           logging.For("scheduler"),
		Backup: scheduler.BackupConfig{
			Full:        fullSched,
			Incremental: incSched,
			Volumes:     cfg.Backup.Volumes,
		},
		Cleanup: scheduler.CleanupConfig{
			Schedule:     cleanupSched,
			KeepMin:      cfg.Cleanup.KeepMin,
			KeepDuration: keepDuration,
			Exclude:      cfg.Cleanup.Exclude,
		},
	}, nil
}
