package schedule

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxlane/voxlane/asr"
	"github.com/voxlane/voxlane/store"
)

// fakeEngine records what it was asked and returns a canned transcript.
type fakeEngine struct {
	gotParams     asr.Params
	gotSampleRate int
	gotSamples    int
	err           error
}

func (e *fakeEngine) Transcribe(ctx context.Context, samples []float32, sampleRate int, params asr.Params) (*asr.Result, error) {
	if e.err != nil {
		return nil, e.err
	}
	e.gotParams = params
	e.gotSampleRate = sampleRate
	e.gotSamples = len(samples)
	return &asr.Result{
		Text: "hello world",
		Segments: []asr.Segment{
			{Text: "hello world", StartTime: 0, EndTime: 1.2},
		},
	}, nil
}

func writeTestWAV(t *testing.T, dir string) string {
	t.Helper()
	pcm := []int16{0, 8192, -8192, 16384}
	var data bytes.Buffer
	for _, s := range pcm {
		binary.Write(&data, binary.LittleEndian, s)
	}

	var out bytes.Buffer
	out.WriteString("RIFF")
	binary.Write(&out, binary.LittleEndian, uint32(36+data.Len()))
	out.WriteString("WAVEfmt ")
	binary.Write(&out, binary.LittleEndian, uint32(16))
	binary.Write(&out, binary.LittleEndian, uint16(1))
	binary.Write(&out, binary.LittleEndian, uint16(1))
	binary.Write(&out, binary.LittleEndian, uint32(16000))
	binary.Write(&out, binary.LittleEndian, uint32(32000))
	binary.Write(&out, binary.LittleEndian, uint16(2))
	binary.Write(&out, binary.LittleEndian, uint16(16))
	out.WriteString("data")
	binary.Write(&out, binary.LittleEndian, uint32(data.Len()))
	out.Write(data.Bytes())

	path := filepath.Join(dir, "input.wav")
	require.NoError(t, os.WriteFile(path, out.Bytes(), 0o644))
	return path
}

func TestTranscribeValidate(t *testing.T) {
	p := NewTranscribeProcessor(&fakeEngine{})

	assert.Error(t, p.Validate(store.Params{}))
	assert.NoError(t, p.Validate(store.Params{Transcribe: &store.TranscribeParams{}}))
	for _, lang := range []string{"zh", "en", "ja"} {
		assert.NoError(t, p.Validate(store.Params{Transcribe: &store.TranscribeParams{Language: lang}}))
	}
	assert.Error(t, p.Validate(store.Params{Transcribe: &store.TranscribeParams{Language: "fr"}}))
}

func TestTranscribeProcess(t *testing.T) {
	engine := &fakeEngine{}
	p := NewTranscribeProcessor(engine)
	path := writeTestWAV(t, t.TempDir())

	task := &store.Task{
		ID: "task-tr",
		Config: store.TaskConfig{
			Kind:      store.KindTranscribe,
			InputPath: path,
			Params: store.Params{Transcribe: &store.TranscribeParams{
				Language:           "en",
				SpeakerDiarization: true,
			}},
		},
	}

	res, err := p.Process(context.Background(), task)
	require.NoError(t, err)
	require.NotNil(t, res.Transcribe)
	assert.Equal(t, "hello world", res.Transcribe.Text)
	require.Len(t, res.Transcribe.Segments, 1)
	assert.Equal(t, 1.2, res.Transcribe.Segments[0].EndTime)

	assert.Equal(t, "en", engine.gotParams.Language)
	assert.True(t, engine.gotParams.SpeakerDiarization)
	assert.Equal(t, 16000, engine.gotSampleRate)
	assert.Equal(t, 4, engine.gotSamples)
}

func TestTranscribeProcessMissingInput(t *testing.T) {
	p := NewTranscribeProcessor(&fakeEngine{})
	task := &store.Task{
		ID: "task-gone",
		Config: store.TaskConfig{
			Kind:      store.KindTranscribe,
			InputPath: "/nonexistent/input.wav",
			Params:    store.Params{Transcribe: &store.TranscribeParams{}},
		},
	}

	_, err := p.Process(context.Background(), task)
	assert.Error(t, err)
}

func TestTranscribeCleanupRemovesInput(t *testing.T) {
	p := NewTranscribeProcessor(&fakeEngine{})
	path := writeTestWAV(t, t.TempDir())
	task := &store.Task{
		ID:     "task-clean",
		Config: store.TaskConfig{InputPath: path},
	}

	p.Cleanup(task)
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// cleaning an already-removed file is silent
	p.Cleanup(task)
}
