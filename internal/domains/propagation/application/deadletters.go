package application

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Apurer/go-catalog-pipeline/internal/domains/propagation/domain"
	"github.com/Apurer/go-catalog-pipeline/internal/domains/propagation/ports"
)

var deadLetterNamespace = uuid.MustParse("6f1c2a52-3f5e-4d0b-9a53-8f0c3f2f6e11")

// DeadLetterHandler records quarantined events and their failure history.
type DeadLetterHandler struct {
	store  ports.DeadLetterStore
	now    func() time.Time
	logger *slog.Logger
}

// NewDeadLetterHandler wires the handler over store.
func NewDeadLetterHandler(store ports.DeadLetterStore, logger *slog.Logger) *DeadLetterHandler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &DeadLetterHandler{store: store, now: time.Now, logger: logger}
}

// WithClock overrides the time source for deterministic testing.
func (h *DeadLetterHandler) WithClock(now func() time.Time) {
	if now != nil {
		h.now = now
	}
}

// DeadLetterID is stable per (group, event) so a redelivered poison event
// overwrites its earlier quarantine entry.
func DeadLetterID(group, eventID string) string {
	return uuid.NewSHA1(deadLetterNamespace, []byte(group+"/"+eventID)).String()
}

// Quarantine durably stores the record with its failures.
func (h *DeadLetterHandler) Quarantine(ctx context.Context, group string, record domain.LogRecord, failures []domain.FailureRecord) (domain.DeadLetter, error) {
	letter := domain.DeadLetter{
		ID:            DeadLetterID(group, record.Event.ID),
		Group:         group,
		Record:        record,
		Failures:      failures,
		QuarantinedAt: h.now().UTC(),
	}
	if existing, err := h.store.Get(ctx, letter.ID); err == nil && existing != nil {
		letter.Failures = append(append([]domain.FailureRecord(nil), existing.Failures...), failures...)
		letter.QuarantinedAt = existing.QuarantinedAt
	}
	if err := h.store.Put(ctx, letter); err != nil {
		return letter, err
	}
	h.logger.WarnContext(ctx, "event dead-lettered",
		slog.String("group", group),
		slog.String("dead_letter.id", letter.ID),
		slog.String("event.id", record.Event.ID),
		slog.Int("partition", int(record.Partition)),
		slog.Int64("offset", int64(record.Offset)),
		slog.String("reason", letter.LastReason()))
	return letter, nil
}

// Resolve marks a replayed dead letter as applied.
func (h *DeadLetterHandler) Resolve(ctx context.Context, letter domain.DeadLetter) error {
	now := h.now().UTC()
	letter.ReplayedAt = &now
	return h.store.Put(ctx, letter)
}

// Get loads one dead letter.
func (h *DeadLetterHandler) Get(ctx context.Context, id string) (*domain.DeadLetter, error) {
	return h.store.Get(ctx, id)
}

// List lists dead letters of group (all when empty).
func (h *DeadLetterHandler) List(ctx context.Context, group string) ([]domain.DeadLetter, error) {
	return h.store.List(ctx, group)
}
