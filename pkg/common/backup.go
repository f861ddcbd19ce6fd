// Copyright (c) 2025 The gfsbak Authors
//
// This file is part of gfsbak.
//
// gfsbak is licensed under the GNU Affero General Public License v3.0 (AGPL-3.0).
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package common

import (
	"encoding/json"
	"fmt"
	"time"
)

// Criticality is the backup tier of a source container. It controls backup
// frequency and retention length.
type Criticality string

const (
	// CriticalityCritico is the highest tier: 12h incremental windows.
	CriticalityCritico Criticality = "Critico"

	// CriticalityMenosCritico is the middle tier: 24h incremental windows.
	// Sources without an explicit criticality attribute default here.
	CriticalityMenosCritico Criticality = "MenosCritico"

	// CriticalityNoCritico is the lowest tier: scheduled fulls only,
	// no event-driven incrementals.
	CriticalityNoCritico Criticality = "NoCritico"
)

// DefaultCriticality is applied when a source carries no criticality
// attribute. Sources are never silently dropped for a missing attribute.
const DefaultCriticality = CriticalityMenosCritico

// ParseCriticality validates a criticality string.
func ParseCriticality(s string) (Criticality, error) {
	switch Criticality(s) {
	case CriticalityCritico, CriticalityMenosCritico, CriticalityNoCritico:
		return Criticality(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCriticality, s)
}

// Valid reports whether c is one of the three known tiers.
func (c Criticality) Valid() bool {
	_, err := ParseCriticality(string(c))
	return err == nil
}

// BackupType distinguishes event-driven incremental backups from scheduled
// full sweeps.
type BackupType string

const (
	BackupTypeIncremental BackupType = "incremental"
	BackupTypeFull        BackupType = "full"
)

// ParseBackupType validates a backup type string.
func ParseBackupType(s string) (BackupType, error) {
	switch BackupType(s) {
	case BackupTypeIncremental, BackupTypeFull:
		return BackupType(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownBackupType, s)
}

// Generation is the GFS generation a backup belongs to.
type Generation string

const (
	// GenerationSon holds short-lived incrementals.
	GenerationSon Generation = "son"

	// GenerationFather holds medium-lived regular fulls.
	GenerationFather Generation = "father"

	// GenerationGrandfather holds long-lived audit fulls.
	GenerationGrandfather Generation = "grandfather"
)

// ParseGeneration validates a generation string.
func ParseGeneration(s string) (Generation, error) {
	switch Generation(s) {
	case GenerationSon, GenerationFather, GenerationGrandfather:
		return Generation(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownGeneration, s)
}

// DefaultGeneration returns the generation used when a trigger omits one:
// incrementals land in son, fulls in father.
func DefaultGeneration(t BackupType) Generation {
	if t == BackupTypeFull {
		return GenerationFather
	}
	return GenerationSon
}

// EventType is the kind of object change carried by a ChangeEvent.
type EventType string

const (
	EventCreated EventType = "created"
	EventRemoved EventType = "removed"
)

// ChangeEvent is a single object-change notification produced by the storage
// layer. Delivery is at-least-once; consumers deduplicate by key+version.
type ChangeEvent struct {
	SourceContainer string    `json:"source_container"`
	ObjectKey       string    `json:"object_key"`
	ObjectVersion   string    `json:"object_version,omitempty"`
	Size            int64     `json:"size,omitempty"`
	EventTime       time.Time `json:"event_time"`
	EventType       EventType `json:"event_type"`
}

// Validate checks that the event is well formed. Malformed events are poison
// messages and are dead-lettered by the transport after bounded retries.
func (e *ChangeEvent) Validate() error {
	if e.SourceContainer == "" {
		return &ValidationError{Field: "source_container", Message: "cannot be empty"}
	}
	if err := ValidateKey(e.ObjectKey); err != nil {
		return err
	}
	if e.EventTime.IsZero() {
		return &ValidationError{Field: "event_time", Message: "cannot be zero"}
	}
	switch e.EventType {
	case EventCreated, EventRemoved:
	default:
		return &ValidationError{Field: "event_type", Message: fmt.Sprintf("unknown event type %q", e.EventType)}
	}
	return nil
}

// TriggerInput is the JSON object a scheduled trigger delivers to one
// orchestration run.
type TriggerInput struct {
	BackupType  BackupType  `json:"backup_type"`
	Criticality Criticality `json:"criticality"`
	Generation  Generation  `json:"generation,omitempty"`
}

// ParseTriggerInput decodes and validates a trigger payload. A missing
// generation defaults per DefaultGeneration.
func ParseTriggerInput(data []byte) (*TriggerInput, error) {
	var in TriggerInput
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("failed to decode trigger input: %w", err)
	}
	if _, err := ParseBackupType(string(in.BackupType)); err != nil {
		return nil, err
	}
	if _, err := ParseCriticality(string(in.Criticality)); err != nil {
		return nil, err
	}
	if in.Generation == "" {
		in.Generation = DefaultGeneration(in.BackupType)
	} else if _, err := ParseGeneration(string(in.Generation)); err != nil {
		return nil, err
	}
	return &in, nil
}
