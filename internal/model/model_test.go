package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineProgress_DecodesPayloadsByStepKey(t *testing.T) {
	p := NewPipelineProgress()
	p.Record(&FetchTracksPayload{TrackCount: 2, TrackNames: []string{"a", "b"}})
	p.Record(&SelectThemePayload{Winner: "owl", Candidates: []Candidate{{Rank: 1, Object: "owl", Score: 9, TrackCount: 3}}})

	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"currentStep": "generate_image",
		"steps": {
			"fetch_tracks": {"trackCount": 2, "trackNames": ["a", "b"]},
			"select_theme": {"winner": "owl", "candidates": [{"rank": 1, "object": "owl", "score": 9, "trackCount": 3}]}
		}
	}`, string(data))

	var decoded PipelineProgress
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, StepGenerateImage, decoded.CurrentStep)

	payload, ok := decoded.Payload(StepSelectTheme)
	require.True(t, ok)
	theme, ok := payload.(*SelectThemePayload)
	require.True(t, ok)
	assert.Equal(t, "owl", theme.Winner)
}

func TestPipelineProgress_RejectsUnknownStep(t *testing.T) {
	var p PipelineProgress
	err := json.Unmarshal([]byte(`{"currentStep":"upload","steps":{"paint":{}}}`), &p)
	assert.Error(t, err)
}

func TestPipelineProgress_LastStepStaysCurrent(t *testing.T) {
	p := NewPipelineProgress()
	p.Record(&UploadPayload{R2Key: "covers/p/g.jpg"})
	assert.Equal(t, StepUpload, p.CurrentStep)
}

func TestPlaylist_ProgressMalformedIsNil(t *testing.T) {
	p := &Playlist{ProgressData: []byte(`{"currentStep":`)}
	assert.Nil(t, p.Progress())

	p.ProgressData = nil
	assert.Nil(t, p.Progress())
}

func TestPlaylist_IneligibleReason(t *testing.T) {
	tests := []struct {
		name     string
		playlist Playlist
		want     string
	}{
		{"owned solo", Playlist{UserID: "u1", ContributorCount: 1}, ""},
		{"zero contributors", Playlist{UserID: "u1"}, ""},
		{"other owner", Playlist{UserID: "u2", ContributorCount: 1}, SkipNotOwner},
		{"collaborative", Playlist{UserID: "u1", ContributorCount: 3}, SkipCollaborative},
		{"collaborative flag but solo", Playlist{UserID: "u1", IsCollaborative: true, ContributorCount: 1}, ""},
		{"many contributors without flag", Playlist{UserID: "u1", IsCollaborative: false, ContributorCount: 2}, SkipCollaborative},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.playlist.IneligibleReason("u1"))
		})
	}
}

func TestTierWeight(t *testing.T) {
	assert.Equal(t, 3, TierHigh.Weight())
	assert.Equal(t, 2, TierMedium.Weight())
	assert.Equal(t, 1, TierLow.Weight())
	assert.Equal(t, 1, Tier("unsure").Weight())
}

func TestStylePrompt(t *testing.T) {
	s := Style{PromptTemplate: "linocut print of a {object}, two colors"}
	assert.Equal(t, "linocut print of a fox, two colors", s.Prompt("fox"))

	s.PromptTemplate = "soft watercolor"
	assert.Equal(t, "soft watercolor, fox", s.Prompt("fox"))

	assert.Equal(t, "fallback/model", s.Model("fallback/model"))
	m := "owner/custom"
	s.ImageModel = &m
	assert.Equal(t, "owner/custom", s.Model("fallback/model"))
}
