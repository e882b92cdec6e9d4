package sarvam

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/voxpaylabs/voxpay-core/internal/config"
	"github.com/voxpaylabs/voxpay-core/internal/protocol"
)

// Error is a provider call failure: transport error, non-2xx status, or a
// response missing required fields.
type Error struct {
	Stage  string
	Status int
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider %s: %s: %v", e.Stage, e.Msg, e.Err)
	}
	if e.Status != 0 {
		return fmt.Sprintf("provider %s: %s (status %d)", e.Stage, e.Msg, e.Status)
	}
	return fmt.Sprintf("provider %s: %s", e.Stage, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Client calls the speech and reasoning provider. One client serves all
// three stages; each call is independent and never retried.
type Client struct {
	cfg   config.ProviderConfig
	httpc *http.Client
	log   *slog.Logger
}

func NewClient(cfg config.ProviderConfig, log *slog.Logger) *Client {
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:   cfg,
		httpc: &http.Client{Timeout: timeout},
		log:   log.With(slog.String("component", "sarvam")),
	}
}

type transcribeResponse struct {
	Transcript   string `json:"transcript"`
	LanguageCode string `json:"language_code"`
}

// Transcribe sends container audio for speech recognition and returns the
// recognized text with its detected language tag.
func (c *Client) Transcribe(ctx context.Context, wavBytes []byte) (string, string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", "", &Error{Stage: "transcribe", Msg: "build multipart body", Err: err}
	}
	if _, err := part.Write(wavBytes); err != nil {
		return "", "", &Error{Stage: "transcribe", Msg: "write audio part", Err: err}
	}
	if err := mw.WriteField("model", c.cfg.STTModel); err != nil {
		return "", "", &Error{Stage: "transcribe", Msg: "write model field", Err: err}
	}
	if err := mw.Close(); err != nil {
		return "", "", &Error{Stage: "transcribe", Msg: "close multipart body", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL()+"/speech-to-text-translate", &body)
	if err != nil {
		return "", "", &Error{Stage: "transcribe", Msg: "build request", Err: err}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.authorize(req)

	var resp transcribeResponse
	if perr := c.do(req, "transcribe", &resp); perr != nil {
		return "", "", perr
	}
	return resp.Transcript, resp.LanguageCode, nil
}

type chatRequest struct {
	Model       string                 `json:"model"`
	Messages    []protocol.ChatMessage `json:"messages"`
	MaxTokens   int                    `json:"max_tokens,omitempty"`
	Temperature float64                `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete runs one chat completion and returns the generated text.
func (c *Client) Complete(ctx context.Context, messages []protocol.ChatMessage) (string, error) {
	payload := chatRequest{
		Model:       c.cfg.ChatModel,
		Messages:    messages,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", &Error{Stage: "complete", Msg: "encode request", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL()+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", &Error{Stage: "complete", Msg: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	var resp chatResponse
	if perr := c.do(req, "complete", &resp); perr != nil {
		return "", perr
	}
	if len(resp.Choices) == 0 {
		return "", &Error{Stage: "complete", Msg: "response has no choices"}
	}
	return resp.Choices[0].Message.Content, nil
}

type synthesizeRequest struct {
	Text               string `json:"text"`
	TargetLanguageCode string `json:"target_language_code"`
	Speaker            string `json:"speaker"`
	Model              string `json:"model"`
	SpeechSampleRate   int    `json:"speech_sample_rate"`
}

type synthesizeResponse struct {
	Audios []string `json:"audios"`
}

// Synthesize converts text to speech in the given language and returns the
// decoded audio segments the provider produced.
func (c *Client) Synthesize(ctx context.Context, text, language string) ([][]byte, error) {
	lang := strings.TrimSpace(language)
	if lang == "" {
		lang = "en-IN"
	}
	body, err := json.Marshal(synthesizeRequest{
		Text:               text,
		TargetLanguageCode: lang,
		Speaker:            c.cfg.Voice,
		Model:              c.cfg.TTSModel,
		SpeechSampleRate:   c.cfg.SampleRate,
	})
	if err != nil {
		return nil, &Error{Stage: "synthesize", Msg: "encode request", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL()+"/text-to-speech", bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Stage: "synthesize", Msg: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	var resp synthesizeResponse
	if perr := c.do(req, "synthesize", &resp); perr != nil {
		return nil, perr
	}
	if len(resp.Audios) == 0 {
		return nil, &Error{Stage: "synthesize", Msg: "response has no audio segments"}
	}
	segments := make([][]byte, 0, len(resp.Audios))
	for i, encoded := range resp.Audios {
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, &Error{Stage: "synthesize", Msg: fmt.Sprintf("segment %d is not valid base64", i), Err: err}
		}
		segments = append(segments, decoded)
	}
	return segments, nil
}

func (c *Client) baseURL() string {
	return strings.TrimRight(c.cfg.BaseURL, "/")
}

func (c *Client) authorize(req *http.Request) {
	if c.cfg.APIKey != "" {
		req.Header.Set("api-subscription-key", c.cfg.APIKey)
	}
}

func (c *Client) do(req *http.Request, stage string, out any) *Error {
	resp, err := c.httpc.Do(req)
	if err != nil {
		return &Error{Stage: stage, Msg: "request failed", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &Error{Stage: stage, Status: resp.StatusCode, Msg: strings.TrimSpace(string(snippet))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Stage: stage, Msg: "decode response", Err: err}
	}
	return nil
}
