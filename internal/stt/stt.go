// Package stt implements the STT client boundary (C7): converting an
// AudioSegment to 16kHz mono PCM16 and calling an external Whisper-compatible
// transcription service, grounded on the teacher's whisper.cpp HTTP client.
package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gabrielpreston/voxfabric/internal/audio"
	"github.com/gabrielpreston/voxfabric/internal/errs"
	"github.com/gabrielpreston/voxfabric/internal/httpx"
)

const (
	defaultTimeout = 8 * time.Second
	maxRetries     = 2
)

// Client transcribes AudioSegments via an external ASR HTTP endpoint.
type Client struct {
	url        string
	httpClient *http.Client
}

// New constructs a Client pointed at baseURL (e.g. a whisper.cpp server).
func New(baseURL string, poolSize int) *Client {
	return &Client{url: baseURL, httpClient: httpx.NewPooledClient(poolSize, defaultTimeout)}
}

type transcribeResponse struct {
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence,omitempty"`
	Language   *string  `json:"language,omitempty"`
}

// Transcribe resamples the segment to 16kHz mono PCM16 and calls
// POST /transcribe. Empty transcripts are not an error (status=empty);
// 5xx responses are retried up to maxRetries times with jittered backoff
// before surfacing a transient STT error.
func (c *Client) Transcribe(ctx context.Context, seg audio.Segment) (audio.ProcessedSegment, error) {
	pcm16 := audio.ResampleSegmentToPCM16(seg.Samples(), audio.SampleRate, 16000)

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(100+rand.IntN(400)) * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return audio.ProcessedSegment{}, errs.Wrap(errs.KindSTTTransient, "transcribe cancelled", ctx.Err())
			}
		}

		resp, err := c.post(ctx, pcm16)
		if err != nil {
			if errs.Is(err, errs.KindSTTFatal) {
				return audio.ProcessedSegment{}, err
			}
			lastErr = err
			continue
		}

		return toProcessedSegment(seg, resp), nil
	}

	return audio.ProcessedSegment{}, errs.Wrap(errs.KindSTTTransient, "stt exhausted retries", lastErr)
}

func (c *Client) post(ctx context.Context, pcm16 []byte) (*transcribeResponse, error) {
	body, contentType, err := buildMultipartWAV(pcm16)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/transcribe", body)
	if err != nil {
		return nil, fmt.Errorf("stt: build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stt: http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("stt: status %d: %s", resp.StatusCode, b)
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errs.New(errs.KindSTTFatal, fmt.Sprintf("stt status %d: %s", resp.StatusCode, b))
	}

	var out transcribeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("stt: decode response: %w", err)
	}
	return &out, nil
}

func toProcessedSegment(seg audio.Segment, resp *transcribeResponse) audio.ProcessedSegment {
	text := audio.TrimTranscript(resp.Text)
	status := audio.StatusOK
	if text == "" {
		status = audio.StatusEmpty
	}
	return audio.ProcessedSegment{
		Transcript:    text,
		Confidence:    resp.Confidence,
		Language:      resp.Language,
		Status:        status,
		CorrelationID: seg.CorrelationID,
	}
}

func buildMultipartWAV(pcm16 []byte) (*bytes.Buffer, string, error) {
	wavData := audio.SamplesToWAVFromPCM16(pcm16, 16000)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("audio", "segment.wav")
	if err != nil {
		return nil, "", fmt.Errorf("stt: create form file: %w", err)
	}
	if _, err := part.Write(wavData); err != nil {
		return nil, "", fmt.Errorf("stt: write wav data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("stt: close writer: %w", err)
	}

	return &body, writer.FormDataContentType(), nil
}
