// Package audit writes reversible before/after records of admin mutations.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/okian/visibility/internal/adapters/repository"
	"github.com/okian/visibility/internal/domain/model"
	"github.com/okian/visibility/pkg/logger"
	"github.com/okian/visibility/pkg/metrics"
)

// Recorder appends audit entries to an AuditLog.
type Recorder struct {
	log   repository.AuditLog
	clock clock.Clock
	l     logger.Logger
}

// NewRecorder creates a Recorder. A nil clock or logger falls back to the
// wall clock and a no-op logger.
func NewRecorder(log repository.AuditLog, c clock.Clock, l logger.Logger) *Recorder {
	if c == nil {
		c = clock.New()
	}
	if l == nil {
		l = logger.Nop()
	}
	return &Recorder{log: log, clock: c, l: l}
}

// Record appends one entry. A nil before (or typed nil pointer) means the
// entity did not exist.
func (r *Recorder) Record(ctx context.Context, action, entityType, entityID, adminID string, before, after any) error {
	entry, err := NewEntry(r.clock.Now(), action, entityType, entityID, adminID, before, after)
	if err != nil {
		return err
	}
	if err := r.log.Append(ctx, entry); err != nil {
		r.l.Error(ctx, "failed to append audit entry",
			logger.String("action", action),
			logger.String("entity_id", entityID),
			logger.Error(err),
		)
		return fmt.Errorf("%w: %w", ErrAppend, err)
	}
	metrics.RecordAuditEntry(action)
	r.l.Info(ctx, "admin change recorded",
		logger.String("action", action),
		logger.String("entity_type", entityType),
		logger.String("entity_id", entityID),
		logger.String("admin_id", adminID),
	)
	return nil
}

// NewEntry builds a reversible entry with JSON snapshots.
func NewEntry(now time.Time, action, entityType, entityID, adminID string, before, after any) (model.AuditLogEntry, error) {
	e := model.AuditLogEntry{
		ID:         uuid.NewString(),
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		AdminID:    adminID,
		Reversible: true,
		CreatedAt:  now.UTC(),
	}
	var err error
	if !isNil(before) {
		if e.Before, err = json.Marshal(before); err != nil {
			return e, fmt.Errorf("encode audit before: %w", err)
		}
	}
	if !isNil(after) {
		if e.After, err = json.Marshal(after); err != nil {
			return e, fmt.Errorf("encode audit after: %w", err)
		}
	}
	return e, nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}
