// Package asr defines the contract with the external speech recognition
// engine. The engine is a collaborator mounted behind the scheduler; its
// only obligation is to turn audio samples into time-aligned segments.
package asr

import "context"

// Params are the per-request recognition knobs.
type Params struct {
	Language           string `json:"language,omitempty"`
	SpeakerDiarization bool   `json:"speaker_diarization"`
	EmotionRecognition bool   `json:"emotion_recognition"`
	FilterDirtyWords   bool   `json:"filter_dirty_words"`
}

// Segment is one time-aligned slice of recognized speech.
type Segment struct {
	Text      string  `json:"text"`
	SpeakerID *int    `json:"speaker_id,omitempty"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
}

// Result is the full recognition output.
type Result struct {
	Text     string    `json:"text"`
	Segments []Segment `json:"segments"`
}

// Engine runs speech recognition over mono float32 PCM samples. Calls may
// block for minutes; the context carries the caller's deadline.
type Engine interface {
	Transcribe(ctx context.Context, samples []float32, sampleRate int, params Params) (*Result, error)
}
