package schedule

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/voxlane/voxlane/asr"
	"github.com/voxlane/voxlane/audio"
	"github.com/voxlane/voxlane/store"
)

// supportedLanguages are the codes the recognition engine accepts. An empty
// language means auto-detect.
var supportedLanguages = map[string]struct{}{
	"zh": {},
	"en": {},
	"ja": {},
}

// TranscribeProcessor turns a materialized audio file into a transcript via
// the external recognition engine.
type TranscribeProcessor struct {
	engine asr.Engine
	log    *logrus.Entry
}

func NewTranscribeProcessor(engine asr.Engine) *TranscribeProcessor {
	return &TranscribeProcessor{
		engine: engine,
		log:    logrus.WithField("component", "transcribe"),
	}
}

func (p *TranscribeProcessor) Kind() store.Kind {
	return store.KindTranscribe
}

func (p *TranscribeProcessor) Validate(params store.Params) error {
	tp := params.Transcribe
	if tp == nil {
		return errors.New("missing transcribe parameters")
	}
	if tp.Language != "" {
		if _, ok := supportedLanguages[tp.Language]; !ok {
			return fmt.Errorf("unsupported language %q", tp.Language)
		}
	}
	return nil
}

func (p *TranscribeProcessor) Process(ctx context.Context, task *store.Task) (*store.Result, error) {
	tp := task.Config.Params.Transcribe
	if tp == nil {
		return nil, errors.New("missing transcribe parameters")
	}

	samples, sampleRate, err := audio.ReadWAV(task.Config.InputPath)
	if err != nil {
		return nil, fmt.Errorf("read audio input: %w", err)
	}

	engineResult, err := p.engine.Transcribe(ctx, samples, sampleRate, asr.Params{
		Language:           tp.Language,
		SpeakerDiarization: tp.SpeakerDiarization,
		EmotionRecognition: tp.EmotionRecognition,
		FilterDirtyWords:   tp.FilterDirtyWords,
	})
	if err != nil {
		return nil, fmt.Errorf("transcribe: %w", err)
	}

	result := &store.TranscribeResult{
		Text:     engineResult.Text,
		Segments: make([]store.TranscribeSegment, 0, len(engineResult.Segments)),
	}
	for _, seg := range engineResult.Segments {
		result.Segments = append(result.Segments, store.TranscribeSegment{
			Text:      seg.Text,
			SpeakerID: seg.SpeakerID,
			StartTime: seg.StartTime,
			EndTime:   seg.EndTime,
		})
	}
	return &store.Result{Transcribe: result}, nil
}

// Cancel is a no-op; the engine call runs to its context deadline.
func (p *TranscribeProcessor) Cancel(task *store.Task) {}

// Cleanup removes the materialized input file once the task is terminal.
func (p *TranscribeProcessor) Cleanup(task *store.Task) {
	if task.Config.InputPath == "" {
		return
	}
	if err := os.Remove(task.Config.InputPath); err != nil && !os.IsNotExist(err) {
		p.log.WithError(err).WithField("path", task.Config.InputPath).Warn("failed to remove input file")
	}
}
