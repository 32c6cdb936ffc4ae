package pricing

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/coverloop/api/internal/model"
	"github.com/coverloop/api/internal/repository"
)

// Ledger writes one UsageEvent per billable call.
type Ledger struct {
	usage *repository.UsageRepository
	log   *log.Logger
	now   func() time.Time
}

func NewLedger(usage *repository.UsageRepository, logger *log.Logger) *Ledger {
	return &Ledger{usage: usage, log: logger, now: time.Now}
}

// Entry describes a billable call.
type Entry struct {
	UserID        string
	GenerationID  string
	ActionType    string
	Model         string
	CostUSD       float64
	TokensIn      int
	TokensOut     int
	Duration      time.Duration
	TriggerSource model.TriggerType
	Err           error
}

// Record appends the entry to the ledger. A ledger write failure is logged
// and never fails the caller.
func (l *Ledger) Record(ctx context.Context, e Entry) *model.UsageEvent {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	event := &model.UsageEvent{
		ID:            id.String(),
		UserID:        e.UserID,
		ActionType:    e.ActionType,
		Model:         e.Model,
		CostUSD:       e.CostUSD,
		TokensIn:      e.TokensIn,
		TokensOut:     e.TokensOut,
		DurationMs:    e.Duration.Milliseconds(),
		TriggerSource: string(e.TriggerSource),
		Status:        model.UsageStatusSuccess,
		CreatedAt:     l.now(),
	}
	if e.GenerationID != "" {
		gen := e.GenerationID
		event.GenerationID = &gen
	}
	if e.Err != nil {
		event.Status = model.UsageStatusFailed
		event.ErrorMessage = e.Err.Error()
	}

	if err := l.usage.Create(ctx, event); err != nil {
		l.log.Error("failed to record usage event", "action", e.ActionType, "generation", e.GenerationID, "err", err)
	}
	return event
}

// ForGeneration returns the generation's recorded events, oldest first.
func (l *Ledger) ForGeneration(ctx context.Context, generationID string) ([]*model.UsageEvent, error) {
	return l.usage.ListByGeneration(ctx, generationID)
}
