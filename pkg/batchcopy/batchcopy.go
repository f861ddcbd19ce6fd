// Copyright (c) 2025 The gfsbak Authors
//
// This file is part of gfsbak.
//
// gfsbak is licensed under the GNU Affero General Public License v3.0 (AGPL-3.0).
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

// Package batchcopy abstracts the bulk-copy executor consuming manifests.
// The orchestrator submits a manifest reference and a destination prefix and
// treats the job as fire-and-forget; progress is polled separately.
package batchcopy

import (
	"context"
	"errors"
)

// ErrJobNotFound is returned when describing an unknown job.
var ErrJobNotFound = errors.New("copy job not found")

// JobStatus is the lifecycle state of a copy job.
type JobStatus string

const (
	StatusActive   JobStatus = "Active"
	StatusComplete JobStatus = "Complete"
	StatusFailed   JobStatus = "Failed"
)

// JobReport describes a copy job's progress.
type JobReport struct {
	Status    JobStatus
	Total     int64
	Succeeded int64
	Failed    int64
}

// BatchCopier is the external bulk-copy service contract.
type BatchCopier interface {
	// Submit hands a persisted manifest and destination prefix to the copy
	// engine and returns a job id.
	Submit(ctx context.Context, manifestRef, destinationPrefix, sourceRole string) (string, error)

	// Describe reports a submitted job's status and per-object counts.
	Describe(ctx context.Context, jobID string) (*JobReport, error)
}
