// Copyright (c) 2025 The gfsbak Authors
//
// This file is part of gfsbak.
//
// gfsbak is licensed under the GNU Affero General Public License v3.0 (AGPL-3.0).
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package aggregator

import (
	"sync"
	"time"

	"github.com/gfsbak/gfsbak/pkg/common"
	"github.com/gfsbak/gfsbak/pkg/manifest"
	"github.com/gfsbak/gfsbak/pkg/retention"
)

// windowKey identifies one (source container, window) pair.
type windowKey struct {
	container string
	label     string
}

// window accumulates the deduplicated events of one (container, bucket)
// pair. Within a window the latest event per object key wins; delete events
// still produce manifest entries so deletions are mirrored forward.
type window struct {
	criticality common.Criticality
	start       time.Time
	end         time.Time

	order  []string
	latest map[string]*common.ChangeEvent
}

func newWindow(criticality common.Criticality, freq retention.Frequency, bucket int64) *window {
	return &window{
		criticality: criticality,
		start:       freq.WindowStart(bucket),
		end:         freq.WindowEnd(bucket),
		latest:      make(map[string]*common.ChangeEvent),
	}
}

// add applies last-write-wins dedup by object key. A duplicate delivery of
// the same key+version collapses to one entry; an older event never displaces
// a newer one.
func (w *window) add(event *common.ChangeEvent) {
	current, exists := w.latest[event.ObjectKey]
	if !exists {
		w.order = append(w.order, event.ObjectKey)
		w.latest[event.ObjectKey] = event
		return
	}
	if event.EventTime.Before(current.EventTime) {
		return
	}
	w.latest[event.ObjectKey] = event
}

// merge folds this window's events into a previously persisted entry list
// for the same window. Existing entries keep their position (updated in
// place when superseded); new keys append in event arrival order, so the
// result is stable for a given input sequence.
func (w *window) merge(existing []manifest.Entry) []manifest.Entry {
	position := make(map[string]int, len(existing))
	merged := make([]manifest.Entry, len(existing))
	copy(merged, existing)
	for i, e := range existing {
		position[e.Key] = i
	}

	for _, key := range w.order {
		event := w.latest[key]
		entry := manifest.Entry{
			Bucket:  event.SourceContainer,
			Key:     event.ObjectKey,
			Version: event.ObjectVersion,
		}
		if i, exists := position[key]; exists {
			merged[i] = entry
			continue
		}
		position[key] = len(merged)
		merged = append(merged, entry)
	}
	return merged
}

// windowLeases enforces at most one in-flight flush per (container, window).
type windowLeases struct {
	mu    sync.Mutex
	locks map[windowKey]*sync.Mutex
}

func newWindowLeases() *windowLeases {
	return &windowLeases{locks: make(map[windowKey]*sync.Mutex)}
}

// acquire blocks until the lease for key is free, then returns the release
// function.
func (l *windowLeases) acquire(key windowKey) func() {
	l.mu.Lock()
	lock, exists := l.locks[key]
	if !exists {
		lock = &sync.Mutex{}
		l.locks[key] = lock
	}
	l.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
