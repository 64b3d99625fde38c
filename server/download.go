package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/voxlane/voxlane/observability"
)

var errMissingAudioURL = errors.New("audio_url is required")

var downloadClient = &http.Client{Timeout: 5 * time.Minute}

// downloadAudio fetches the remote audio into the input directory. The
// filename is the task ID joined with the URL basename, so two requests for
// the same URL never clobber each other.
func (a *API) downloadAudio(ctx context.Context, rawURL, taskID string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse audio url: %w", err)
	}
	base := path.Base(parsed.Path)
	if base == "." || base == "/" || base == "" {
		base = "audio"
	}
	dest := filepath.Join(a.audioDir, taskID+"-"+base)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := downloadClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download audio: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download audio: server returned %s", resp.Status)
	}

	f, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("create input file: %w", err)
	}
	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dest)
		return "", fmt.Errorf("write input file: %w", err)
	}

	observability.DownloadBytes.Add(float64(n))
	return dest, nil
}
