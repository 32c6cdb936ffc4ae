package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/coverloop/api/internal/client"
	"github.com/coverloop/api/internal/model"
	"github.com/coverloop/api/internal/pricing"
	"github.com/coverloop/api/internal/repository"
)

var ErrTooManySubjects = errors.New("too many preview subjects")

// PreviewService renders a style against sample subjects in one batch.
type PreviewService struct {
	store        *repository.Store
	images       client.ImageGenerator
	prices       *pricing.Table
	ledger       *pricing.Ledger
	defaultModel string
	maxSubjects  int
	log          *log.Logger
}

func NewPreviewService(store *repository.Store, images client.ImageGenerator, prices *pricing.Table, ledger *pricing.Ledger, defaultModel string, maxSubjects int, logger *log.Logger) *PreviewService {
	if maxSubjects <= 0 {
		maxSubjects = 4
	}
	return &PreviewService{
		store:        store,
		images:       images,
		prices:       prices,
		ledger:       ledger,
		defaultModel: defaultModel,
		maxSubjects:  maxSubjects,
		log:          logger,
	}
}

// Preview generates one image per subject concurrently. A failed subject is
// reported in its item and does not affect the others.
func (s *PreviewService) Preview(ctx context.Context, userID, styleID string, subjects []string) (*model.PreviewResult, error) {
	if len(subjects) > s.maxSubjects {
		return nil, ErrTooManySubjects
	}
	style, err := s.store.Styles.GetByID(ctx, styleID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrStyleNotFound
		}
		return nil, fmt.Errorf("load style: %w", err)
	}

	modelName := style.Model(s.defaultModel)
	prompts := make([]string, len(subjects))
	for i, subject := range subjects {
		prompts[i] = style.Prompt(subject)
	}

	batch := s.images.GenerateBatch(ctx, modelName, prompts)

	result := &model.PreviewResult{StyleID: style.ID, Model: modelName, Items: make([]model.PreviewItem, len(subjects))}
	var failed int
	for i, res := range batch {
		item := model.PreviewItem{Subject: subjects[i], Prompt: prompts[i]}
		entry := pricing.Entry{
			UserID:        userID,
			ActionType:    model.ActionPreviewImage,
			Model:         modelName,
			TriggerSource: model.TriggerManual,
			Err:           res.Err,
		}
		if res.Err != nil {
			item.Error = res.Err.Error()
			failed++
		} else {
			item.ImageURL = res.Result.ImageURL
			entry.CostUSD = s.prices.ImageCost(modelName)
			entry.Duration = res.Result.Duration
		}
		s.ledger.Record(ctx, entry)
		result.Items[i] = item
	}

	s.log.Info("style preview done", "style", style.ID, "subjects", len(subjects), "failed", failed)
	return result, nil
}
