// Copyright (c) 2025 The gfsbak Authors
//
// This file is part of gfsbak.
//
// gfsbak is licensed under the GNU Affero General Public License v3.0 (AGPL-3.0).
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package audit

import (
	"context"
	"io"

	"github.com/gfsbak/gfsbak/pkg/common"
)

type contextKey string

// loggerKey is the context key carrying the active audit logger.
const loggerKey contextKey = "audit_logger"

// WithLogger attaches an audit logger to the context.
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext retrieves the audit logger from the context, returning a no-op
// logger when none is attached.
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(loggerKey).(Logger); ok {
		return logger
	}
	return NewNoOpLogger()
}

// AuditedStorage wraps a storage backend and records every mutation in the
// audit trail. Reads pass through unrecorded.
type AuditedStorage struct {
	common.Storage
	logger Logger
}

// NewAuditedStorage wraps store so writes and deletes are audited.
func NewAuditedStorage(store common.Storage, logger Logger) *AuditedStorage {
	if logger == nil {
		logger = NewNoOpLogger()
	}
	return &AuditedStorage{Storage: store, logger: logger}
}

// Put writes an object and audits the outcome.
func (s *AuditedStorage) Put(key string, data io.Reader) error {
	err := s.Storage.Put(key, data)
	s.logMutation(context.Background(), EventObjectWritten, "put_object", key, err)
	return err
}

// PutWithContext writes an object and audits the outcome.
func (s *AuditedStorage) PutWithContext(ctx context.Context, key string, data io.Reader) error {
	err := s.Storage.PutWithContext(ctx, key, data)
	s.logMutation(ctx, EventObjectWritten, "put_object", key, err)
	return err
}

// Delete removes an object and audits the outcome.
func (s *AuditedStorage) Delete(key string) error {
	err := s.Storage.Delete(key)
	s.logMutation(context.Background(), EventObjectDeleted, "delete_object", key, err)
	return err
}

// DeleteWithContext removes an object and audits the outcome.
func (s *AuditedStorage) DeleteWithContext(ctx context.Context, key string) error {
	err := s.Storage.DeleteWithContext(ctx, key)
	s.logMutation(ctx, EventObjectDeleted, "delete_object", key, err)
	return err
}

func (s *AuditedStorage) logMutation(ctx context.Context, eventType EventType, action, key string, err error) {
	event := &Event{
		EventType: eventType,
		Action:    action,
		Result:    ResultSuccess,
		Key:       key,
	}
	if err != nil {
		event.Result = ResultFailure
		event.ErrorMessage = err.Error()
	}
	_ = s.logger.LogEvent(ctx, event)
}
