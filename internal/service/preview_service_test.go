package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coverloop/api/internal/client"
	"github.com/coverloop/api/internal/config"
	"github.com/coverloop/api/internal/logging"
	"github.com/coverloop/api/internal/model"
	"github.com/coverloop/api/internal/pricing"
	"github.com/coverloop/api/internal/repository"
	"github.com/coverloop/api/internal/testutil"
)

type batchImages struct {
	failOn string
	model  string
}

func (b *batchImages) Generate(ctx context.Context, modelName, prompt string) (*client.GenerationResult, error) {
	return nil, nil
}

func (b *batchImages) GenerateBatch(ctx context.Context, modelName string, prompts []string) []client.BatchResult {
	b.model = modelName
	out := make([]client.BatchResult, len(prompts))
	for i, p := range prompts {
		out[i].Prompt = p
		if p == b.failOn {
			out[i].Err = client.ErrPredictionFailed
			continue
		}
		out[i].Result = &client.GenerationResult{ImageURL: "https://cdn.example/" + p, Duration: time.Second}
	}
	return out
}

func (b *batchImages) Download(ctx context.Context, url string) ([]byte, error) {
	return nil, nil
}

func TestPreview_IsolatesFailures(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := repository.NewStore(db)
	logger := logging.Discard()
	style := testutil.TestStyle(t, db)

	images := &batchImages{failOn: "linocut print of a fox"}
	prices := pricing.NewTable(&config.PricingConfig{DefaultImagePrice: 0.01}, logger)
	svc := NewPreviewService(store, images, prices, pricing.NewLedger(store.Usage, logger), "default/model", 4, logger)

	res, err := svc.Preview(context.Background(), "u1", style.ID, []string{"owl", "fox", "moon"})
	require.NoError(t, err)
	assert.Equal(t, "default/model", res.Model)
	assert.Equal(t, "default/model", images.model)
	require.Len(t, res.Items, 3)

	assert.Equal(t, "https://cdn.example/linocut print of a owl", res.Items[0].ImageURL)
	assert.Empty(t, res.Items[0].Error)
	assert.Empty(t, res.Items[1].ImageURL)
	assert.Contains(t, res.Items[1].Error, "prediction failed")
	assert.Equal(t, "moon", res.Items[2].Subject)
	assert.NotEmpty(t, res.Items[2].ImageURL)

	var events []model.UsageEvent
	require.NoError(t, db.Where("action_type = ?", model.ActionPreviewImage).Order("created_at, id").Find(&events).Error)
	require.Len(t, events, 3)
	var total float64
	failed := 0
	for _, e := range events {
		total += e.CostUSD
		if e.Status == model.UsageStatusFailed {
			failed++
		}
	}
	assert.Equal(t, 1, failed)
	assert.InDelta(t, 0.02, total, 1e-9)
}

func TestPreview_Limits(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := repository.NewStore(db)
	logger := logging.Discard()
	prices := pricing.NewTable(&config.PricingConfig{}, logger)
	svc := NewPreviewService(store, &batchImages{}, prices, pricing.NewLedger(store.Usage, logger), "m", 2, logger)

	_, err := svc.Preview(context.Background(), "u1", "style", []string{"a", "b", "c"})
	assert.ErrorIs(t, err, ErrTooManySubjects)

	_, err = svc.Preview(context.Background(), "u1", "missing", []string{"a"})
	assert.ErrorIs(t, err, ErrStyleNotFound)
}
