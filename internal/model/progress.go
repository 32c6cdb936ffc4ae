package model

import (
	"encoding/json"
	"fmt"
)

// Step names a pipeline stage.
type Step string

const (
	StepFetchTracks   Step = "fetch_tracks"
	StepFetchLyrics   Step = "fetch_lyrics"
	StepExtractThemes Step = "extract_themes"
	StepSelectTheme   Step = "select_theme"
	StepGenerateImage Step = "generate_image"
	StepUpload        Step = "upload"
)

// Steps lists the pipeline stages in execution order.
var Steps = []Step{
	StepFetchTracks,
	StepFetchLyrics,
	StepExtractThemes,
	StepSelectTheme,
	StepGenerateImage,
	StepUpload,
}

// Next returns the step following s, or "" after the last one.
func (s Step) Next() Step {
	for i, step := range Steps {
		if step == s && i+1 < len(Steps) {
			return Steps[i+1]
		}
	}
	return ""
}

// StepPayload is the telemetry a step leaves behind. Each step has exactly
// one payload type.
type StepPayload interface {
	Step() Step
}

// FetchTracksPayload reports every track of the playlist. AnalyzedCount is
// how many of them the later steps see.
type FetchTracksPayload struct {
	TrackCount    int      `json:"trackCount"`
	AnalyzedCount int      `json:"analyzedCount,omitempty"`
	TrackNames    []string `json:"trackNames"`
}

type FetchLyricsPayload struct {
	Found int `json:"found"`
	Total int `json:"total"`
}

type TrackObjects struct {
	TrackName string   `json:"trackName"`
	Objects   []string `json:"objects"`
}

type ExtractThemesPayload struct {
	Tracks      []TrackObjects `json:"tracks"`
	ObjectCount int            `json:"objectCount"`
}

type SelectThemePayload struct {
	Winner         string      `json:"winner"`
	Candidates     []Candidate `json:"candidates"`
	CollisionNotes string      `json:"collisionNotes,omitempty"`
}

type GenerateImagePayload struct {
	StyleName string `json:"styleName"`
	Prompt    string `json:"prompt"`
	Model     string `json:"model"`
}

type UploadPayload struct {
	R2Key       string  `json:"r2Key"`
	CoverPHash  string  `json:"coverPhash"`
	DuplicateOf *string `json:"duplicateOf,omitempty"`
	Distance    *int    `json:"distance,omitempty"`
}

func (FetchTracksPayload) Step() Step   { return StepFetchTracks }
func (FetchLyricsPayload) Step() Step   { return StepFetchLyrics }
func (ExtractThemesPayload) Step() Step { return StepExtractThemes }
func (SelectThemePayload) Step() Step   { return StepSelectTheme }
func (GenerateImagePayload) Step() Step { return StepGenerateImage }
func (UploadPayload) Step() Step        { return StepUpload }

func newPayload(step Step) (StepPayload, error) {
	switch step {
	case StepFetchTracks:
		return &FetchTracksPayload{}, nil
	case StepFetchLyrics:
		return &FetchLyricsPayload{}, nil
	case StepExtractThemes:
		return &ExtractThemesPayload{}, nil
	case StepSelectTheme:
		return &SelectThemePayload{}, nil
	case StepGenerateImage:
		return &GenerateImagePayload{}, nil
	case StepUpload:
		return &UploadPayload{}, nil
	}
	return nil, fmt.Errorf("unknown pipeline step %q", step)
}

// PipelineProgress is the live state of one pipeline run.
type PipelineProgress struct {
	CurrentStep Step
	Payloads    map[Step]StepPayload
}

// NewPipelineProgress starts a progress snapshot at the first step.
func NewPipelineProgress() *PipelineProgress {
	return &PipelineProgress{
		CurrentStep: StepFetchTracks,
		Payloads:    make(map[Step]StepPayload),
	}
}

// Record stores payload and advances CurrentStep past its step. The last
// step stays current once recorded. Payloads are recorded as pointers so
// they compare equal to decoded ones.
func (p *PipelineProgress) Record(payload StepPayload) {
	if p.Payloads == nil {
		p.Payloads = make(map[Step]StepPayload)
	}
	step := payload.Step()
	p.Payloads[step] = payload
	if next := step.Next(); next != "" {
		p.CurrentStep = next
	} else {
		p.CurrentStep = step
	}
}

// Payload returns the recorded payload for step, if any.
func (p *PipelineProgress) Payload(step Step) (StepPayload, bool) {
	payload, ok := p.Payloads[step]
	return payload, ok
}

type progressJSON struct {
	CurrentStep Step                     `json:"currentStep"`
	Steps       map[Step]json.RawMessage `json:"steps"`
}

func (p PipelineProgress) MarshalJSON() ([]byte, error) {
	out := progressJSON{CurrentStep: p.CurrentStep, Steps: make(map[Step]json.RawMessage, len(p.Payloads))}
	for step, payload := range p.Payloads {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", step, err)
		}
		out.Steps[step] = raw
	}
	return json.Marshal(out)
}

func (p *PipelineProgress) UnmarshalJSON(data []byte) error {
	var in progressJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	p.CurrentStep = in.CurrentStep
	p.Payloads = make(map[Step]StepPayload, len(in.Steps))
	for step, raw := range in.Steps {
		payload, err := newPayload(step)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(raw, payload); err != nil {
			return fmt.Errorf("decode %s payload: %w", step, err)
		}
		p.Payloads[step] = payload
	}
	return nil
}
