// Package pricing turns token counts and image calls into USD costs and
// keeps the usage ledger.
package pricing

import (
	"encoding/json"

	"github.com/charmbracelet/log"

	"github.com/coverloop/api/internal/config"
	"github.com/coverloop/api/internal/model"
)

// Table prices LLM and image calls.
type Table struct {
	llm          map[string]config.LLMRate
	image        map[string]float64
	defaultImage float64
	log          *log.Logger
}

func NewTable(cfg *config.PricingConfig, logger *log.Logger) *Table {
	return &Table{
		llm:          cfg.LLM,
		image:        cfg.Image,
		defaultImage: cfg.DefaultImagePrice,
		log:          logger,
	}
}

// LLMCost prices a chat completion. Unknown models cost 0 and are logged so
// gaps in the table show up.
func (t *Table) LLMCost(modelName string, tokensIn, tokensOut int) float64 {
	rate, ok := t.llm[modelName]
	if !ok {
		t.log.Warn("no LLM pricing for model, recording zero cost", "model", modelName)
		return 0
	}
	return float64(tokensIn)*rate.InputPerMillion/1e6 + float64(tokensOut)*rate.OutputPerMillion/1e6
}

// ImageCost prices one image prediction, falling back to the default price.
func (t *Table) ImageCost(modelName string) float64 {
	if price, ok := t.image[modelName]; ok {
		return price
	}
	return t.defaultImage
}

// Breakdown converts ledger rows into cost items in the given order and
// returns their total.
func Breakdown(events []*model.UsageEvent) ([]model.CostItem, float64) {
	items := make([]model.CostItem, 0, len(events))
	var total float64
	for _, e := range events {
		item := model.CostItem{Step: e.ActionType, Model: e.Model, CostUSD: e.CostUSD}
		if tokens := e.TokensIn + e.TokensOut; tokens > 0 {
			item.Tokens = &tokens
		}
		items = append(items, item)
		total += e.CostUSD
	}
	return items, total
}

// ParseCostBreakdown decodes a stored breakdown. Malformed data is logged
// and reads as no breakdown.
func ParseCostBreakdown(raw []byte, logger *log.Logger) []model.CostItem {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var items []model.CostItem
	if err := json.Unmarshal(raw, &items); err != nil {
		if logger != nil {
			logger.Warn("malformed cost breakdown", "err", err)
		}
		return nil
	}
	return items
}
