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

// Package config loads and validates the agent's YAML configuration file.
// Configuration parsing is an external collaborator to the snapshot
// lifecycle engine; this package exists only to get a runnable binary off
// the ground.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps any configuration validation failure: malformed cron,
// malformed duration, malformed YAML, or a missing required field.
type ErrInvalid struct {
	Field string
	Err   error
}

func (e *ErrInvalid) Error() string {
	return fmt.Sprintf("config: invalid %s: %v", e.Field, e.Err)
}

func (e *ErrInvalid) Unwrap() error { return e.Err }

// cronParser parses the 6-field sec/min/hour/dom/month/dow format with a
// mandatory leading seconds field, plus "@"-descriptors. parseCron drops
// the trailing "year" field of the 7-field format before calling it
// (robfig/cron has no native year field; the year token is accepted but
// not evaluated, matching the common crontab convention of a trailing,
// rarely-used year column).
var cronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// BackupPolicy is the backup.* configuration section.
type BackupPolicy struct {
	Schedule    string   `yaml:"schedule"`
	Incremental string   `yaml:"incremental"`
	Volumes     []string `yaml:"volumes"`
}

// CleanupPolicy is the cleanup.* configuration section.
type CleanupPolicy struct {
	Schedule     string   `yaml:"schedule"`
	KeepMin      int      `yaml:"keep_min"`
	KeepDuration string   `yaml:"keep_duration"`
	Exclude      []string `yaml:"exclude"`
}

// S3Config is the s3.* configuration section. Credentials are supplied via
// environment variables, never in the file.
type S3Config struct {
	Bucket string `yaml:"bucket"`
	URL    string `yaml:"url"`
	Region string `yaml:"region"`
}

// Config is the full configuration surface the agent accepts.
type Config struct {
	Backup  BackupPolicy  `yaml:"backup"`
	Cleanup CleanupPolicy `yaml:"cleanup"`
	S3      S3Config      `yaml:"s3"`
}

// Parse decodes and validates a YAML configuration document. All cron
// expressions and the cleanup duration are parsed eagerly so configuration
// errors are fatal at startup, before scheduling begins.
func Parse(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, &ErrInvalid{Field: "yaml", Err: err}
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) validate() error {
	if _, err := c.BackupSchedule(); err != nil {
		return &ErrInvalid{Field: "backup.schedule", Err: err}
	}
	if _, err := c.IncrementalSchedule(); err != nil {
		return &ErrInvalid{Field: "backup.incremental", Err: err}
	}
	if _, err := c.CleanupSchedule(); err != nil {
		return &ErrInvalid{Field: "cleanup.schedule", Err: err}
	}
	if _, err := ParseKeepDuration(c.Cleanup.KeepDuration); err != nil {
		return &ErrInvalid{Field: "cleanup.keep_duration", Err: err}
	}
	if c.S3.Bucket == "" {
		return &ErrInvalid{Field: "s3.bucket", Err: fmt.Errorf("must not be empty")}
	}
	return nil
}

// BackupSchedule parses backup.schedule.
func (c *Config) BackupSchedule() (cron.Schedule, error) {
	return parseCron(c.Backup.Schedule)
}

// IncrementalSchedule parses backup.incremental.
func (c *Config) IncrementalSchedule() (cron.Schedule, error) {
	return parseCron(c.Backup.Incremental)
}

// CleanupSchedule parses cleanup.schedule.
func (c *Config) CleanupSchedule() (cron.Schedule, error) {
	return parseCron(c.Cleanup.Schedule)
}

// parseCron accepts the 7-field "sec min hour dom month dow year" format.
// robfig/cron has no native year field, so a trailing 7th field is dropped
// before handing the expression to the parser; the year column is
// accepted syntactically but never evaluated. Descriptors such as
// "@daily" are passed to the parser unchanged.
func parseCron(expr string) (cron.Schedule, error) {
	trimmed := strings.TrimSpace(expr)
	if strings.HasPrefix(trimmed, "@") {
		return cronParser.Parse(trimmed)
	}
	fields := strings.Fields(trimmed)
	if len(fields) == 7 {
		fields = fields[:6]
	}
	return cronParser.Parse(strings.Join(fields, " "))
}

// KeepDurationFrom returns the retention cutoff instant: now minus the
// configured keep_duration.
func (c *Config) KeepDurationFrom(now time.Time) (time.Time, error) {
	d, err := ParseKeepDuration(c.Cleanup.KeepDuration)
	if err != nil {
		return time.Time{}, err
	}
	return now.Add(-d), nil
}
