package main

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/voxlane/voxlane/server/middleware"
	"github.com/voxlane/voxlane/store"
)

type transcribeRequest struct {
	AudioURL           string `json:"audio_url"`
	CallbackURL        string `json:"callback_url"`
	Language           string `json:"language,omitempty"`
	SpeakerDiarization bool   `json:"speaker_diarization"`
	EmotionRecognition bool   `json:"emotion_recognition"`
	FilterDirtyWords   bool   `json:"filter_dirty_words"`
}

// handleTranscribe materializes the remote audio and submits a Transcribe
// task. The task ID is chosen before the download so the input file can be
// namespaced by it.
func (a *API) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	var req transcribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.AudioURL == "" {
		writeError(w, http.StatusBadRequest, errMissingAudioURL)
		return
	}

	taskID := store.NewTaskID()
	inputPath, err := a.downloadAudio(r.Context(), req.AudioURL, taskID)
	if err != nil {
		a.log.WithError(err).WithField("audio_url", req.AudioURL).Error("audio download failed")
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	callback := store.Callback{Type: store.CallbackNone}
	if req.CallbackURL != "" {
		callback = store.Callback{Type: store.CallbackHTTP, URL: req.CallbackURL}
	}

	cfg := store.TaskConfig{
		Kind:      store.KindTranscribe,
		InputPath: inputPath,
		Callback:  callback,
		Params: store.Params{Transcribe: &store.TranscribeParams{
			Language:           req.Language,
			SpeakerDiarization: req.SpeakerDiarization,
			EmotionRecognition: req.EmotionRecognition,
			FilterDirtyWords:   req.FilterDirtyWords,
		}},
		Priority:   store.PriorityNormal,
		MaxRetries: 3,
	}

	task, err := a.manager.SubmitWithID(r.Context(), taskID, cfg)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	fields := logrus.Fields{
		"task_id":   task.ID,
		"audio_url": req.AudioURL,
	}
	if info := middleware.KeyInfoFromContext(r.Context()); info != nil {
		fields["key_name"] = info.Name
	}
	a.log.WithFields(fields).Info("transcription task accepted")
	writeOK(w, req.AudioURL)
}
