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

package config

import (
	"errors"
	"testing"
)

const validDoc = `
backup:
  schedule: "0 0 2 * * * *"
  incremental: "0 0 * * * * *"
  volumes:
    - "tank/vms/*"
cleanup:
  schedule: "0 30 3 * * * *"
  keep_min: 3
  keep_duration: "90d"
  exclude:
    - "*important*"
s3:
  bucket: "backups"
  url: "https://s3.example.com"
  region: "us-east-1"
`

func TestParseValidConfig(t *testing.T) {
	cfg, err := Parse([]byte(validDoc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.S3.Bucket != "backups" {
		t.Errorf("S3.Bucket = %q, want backups", cfg.S3.Bucket)
	}
	if cfg.Cleanup.KeepMin != 3 {
		t.Errorf("Cleanup.KeepMin = %d, want 3", cfg.Cleanup.KeepMin)
	}
	if _, err := cfg.BackupSchedule(); err != nil {
		t.Errorf("BackupSchedule: %v", err)
	}
	if _, err := cfg.IncrementalSchedule(); err != nil {
		t.Errorf("IncrementalSchedule: %v", err)
	}
	if _, err := cfg.CleanupSchedule(); err != nil {
		t.Errorf("CleanupSchedule: %v", err)
	}
}

func TestParseMissingBucket(t *testing.T) {
	doc := `
backup:
  schedule: "0 0 2 * * * *"
  incremental: "0 0 * * * * *"
cleanup:
  schedule: "0 30 3 * * * *"
  keep_min: 0
  keep_duration: "90d"
`
	_, err := Parse([]byte(doc))
	if err == nil {
		t.Fatal("expected error for missing s3.bucket")
	}
	var invalid *ErrInvalid
	if !errors.As(err, &invalid) {
		t.Fatalf("error = %v, want *ErrInvalid", err)
	}
	if invalid.Field != "s3.bucket" {
		t.Errorf("Field = %q, want s3.bucket", invalid.Field)
	}
}

func TestParseInvalidCron(t *testing.T) {
	doc := `
backup:
  schedule: "not a cron"
  incremental: "0 0 * * * * *"
cleanup:
  schedule: "0 30 3 * * * *"
  keep_min: 0
  keep_duration: "90d"
s3:
  bucket: "backups"
`
	_, err := Parse([]byte(doc))
	if err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}

func TestParseCronDropsTrailingYearField(t *testing.T) {
	sched, err := parseCron("0 30 3 * * * 2030")
	if err != nil {
		t.Fatalf("parseCron: %v", err)
	}
	if sched == nil {
		t.Fatal("parseCron returned nil schedule")
	}
}

func TestParseCronDescriptor(t *testing.T) {
	if _, err := parseCron("@daily"); err != nil {
		t.Errorf("parseCron(@daily): %v", err)
	}
}
