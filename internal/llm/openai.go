package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// OpenAIProvider talks to both OpenAI wire formats: the role/content chat
// endpoint and the structured responses endpoint. Endpoint choice follows
// EndpointForModel, with a single best-effort fallback to the other format
// on a 400 that looks like a wrong-endpoint rejection.
type OpenAIProvider struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
	Logger  *slog.Logger
}

func NewOpenAIProvider(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *OpenAIProvider {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIProvider{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: timeout},
		Logger:  logger,
	}
}

type openAIChatMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	InputTokens      int `json:"input_tokens"`
	OutputTokens     int `json:"output_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openAIChatResp struct {
	Choices []struct {
		Message openAIChatMsg `json:"message"`
	} `json:"choices"`
	Usage *openAIUsage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type openAIResponsesContent struct {
	Type string `json:"type"`
	// The text payload moves between field names across API revisions.
	Text       string `json:"text,omitempty"`
	OutputText string `json:"output_text,omitempty"`
	Content    string `json:"content,omitempty"`
}

type openAIResponsesItem struct {
	Type    string                   `json:"type"`
	Role    string                   `json:"role"`
	Content []openAIResponsesContent `json:"content"`
}

type openAIResponsesResp struct {
	Output []openAIResponsesItem `json:"output"`
	Usage  *openAIUsage          `json:"usage"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *OpenAIProvider) Chat(ctx context.Context, req Request) (Result, error) {
	if p.Client == nil {
		return Result{}, &BackendError{Vendor: "openai", Detail: "http client is nil"}
	}
	if strings.TrimSpace(p.APIKey) == "" {
		return Result{}, &BackendError{Vendor: "openai", Detail: "api key is required"}
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		return Result{}, &BackendError{Vendor: "openai", Detail: "model is required"}
	}

	endpoint := EndpointForModel(model, req.EndpointOverride)

	res, status, body, err := p.call(ctx, endpoint, req)
	if err == nil {
		return res, nil
	}

	// Wrong-endpoint compatibility fallback, tried exactly once.
	if status == http.StatusBadRequest && shouldRetryOtherEndpoint(model, body) {
		alternate := EndpointResponses
		if endpoint == EndpointResponses {
			alternate = EndpointChat
		}
		p.Logger.Debug("retrying against alternate endpoint",
			"model", model, "primary", endpoint, "alternate", alternate)
		res, _, _, retryErr := p.call(ctx, alternate, req)
		if retryErr == nil {
			return res, nil
		}
	}
	return Result{}, err
}

func shouldRetryOtherEndpoint(model string, errorBody string) bool {
	if modelUsesResponses(model) {
		return true
	}
	b := strings.ToLower(errorBody)
	for _, hint := range []string{
		"use the responses api",
		"only supported in v1/responses",
		"not supported in the chat completions",
		"unsupported parameter",
		"unsupported_parameter",
	} {
		if strings.Contains(b, hint) {
			return true
		}
	}
	return false
}

// call performs one request against one endpoint. On an HTTP error status it
// returns the status and a capped copy of the error body so the caller can
// decide about the fallback.
func (p *OpenAIProvider) call(ctx context.Context, endpoint string, req Request) (Result, int, string, error) {
	body, err := p.buildBody(endpoint, req)
	if err != nil {
		return Result{}, 0, "", &BackendError{Vendor: "openai", Err: err}
	}

	path := "/chat/completions"
	if endpoint == EndpointResponses {
		path = "/responses"
	}
	url := strings.TrimRight(p.BaseURL, "/") + path

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{}, 0, "", &BackendError{Vendor: "openai", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.APIKey)

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return Result{}, 0, "", &BackendError{Vendor: "openai", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		detail := strings.TrimSpace(string(raw))
		if detail == "" {
			detail = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return Result{}, resp.StatusCode, detail,
			&BackendError{Vendor: "openai", Status: resp.StatusCode, Detail: detail}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, resp.StatusCode, "", &BackendError{Vendor: "openai", Err: err}
	}

	var res Result
	if endpoint == EndpointResponses {
		res, err = decodeResponsesBody(raw)
	} else {
		res, err = decodeChatBody(raw)
	}
	if err != nil {
		return Result{}, resp.StatusCode, "", &BackendError{Vendor: "openai", Err: err}
	}
	res.Text = stripThinkTags(res.Text)
	return res, resp.StatusCode, "", nil
}

func (p *OpenAIProvider) buildBody(endpoint string, req Request) ([]byte, error) {
	raw := map[string]any{
		"temperature":       req.Temperature,
		"max_tokens":        req.MaxTokens,
		"top_p":             req.TopP,
		"frequency_penalty": req.FrequencyPenalty,
		"presence_penalty":  req.PresencePenalty,
	}
	params, dropped := sanitizeParams(req.Model, raw)
	if len(dropped) > 0 {
		p.Logger.Debug("dropped unsupported parameters", "model", req.Model, "params", dropped)
	}

	body := map[string]any{"model": req.Model}
	for k, v := range params {
		body[k] = v
	}

	if endpoint == EndpointResponses {
		// Structured input blocks; user/system turns use input_text parts,
		// prior assistant turns use output_text parts.
		items := make([]map[string]any, 0, len(req.Messages))
		for _, m := range req.Messages {
			partType := "input_text"
			if m.Role == "assistant" {
				partType = "output_text"
			}
			items = append(items, map[string]any{
				"role": m.Role,
				"content": []map[string]any{
					{"type": partType, "text": m.Content},
				},
			})
		}
		body["input"] = items
	} else {
		msgs := make([]openAIChatMsg, 0, len(req.Messages))
		for _, m := range req.Messages {
			msgs = append(msgs, openAIChatMsg{Role: m.Role, Content: m.Content})
		}
		body["messages"] = msgs
	}

	return json.Marshal(body)
}

func decodeChatBody(raw []byte) (Result, error) {
	var decoded openAIChatResp
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Result{}, err
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return Result{}, errors.New(decoded.Error.Message)
	}
	if len(decoded.Choices) == 0 {
		return Result{}, errors.New("empty response")
	}
	return Result{
		Text:  decoded.Choices[0].Message.Content,
		Usage: normalizeUsage(decoded.Usage),
	}, nil
}

func decodeResponsesBody(raw []byte) (Result, error) {
	var decoded openAIResponsesResp
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Result{}, err
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return Result{}, errors.New(decoded.Error.Message)
	}

	var parts []string
	for _, item := range decoded.Output {
		if item.Role != "" && item.Role != "assistant" {
			continue
		}
		for _, block := range item.Content {
			text := firstNonEmpty(block.Text, block.OutputText, block.Content)
			if t := strings.TrimSpace(text); t != "" {
				parts = append(parts, t)
			}
		}
	}
	if len(parts) == 0 {
		return Result{}, errors.New("empty response")
	}
	return Result{
		Text:  strings.Join(parts, "\n"),
		Usage: normalizeUsage(decoded.Usage),
	}, nil
}

// normalizeUsage prefers an explicit total, then the sum of the side counts
// under either naming scheme, then zero. Missing usage is never an error.
func normalizeUsage(u *openAIUsage) Usage {
	if u == nil {
		return Usage{}
	}
	prompt := u.PromptTokens
	if prompt == 0 {
		prompt = u.InputTokens
	}
	completion := u.CompletionTokens
	if completion == 0 {
		completion = u.OutputTokens
	}
	total := u.TotalTokens
	if total == 0 {
		total = prompt + completion
	}
	return Usage{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: total}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

var thinkTagRe = regexp.MustCompile(`(?is)<think>.*?</think>`)

func stripThinkTags(text string) string {
	return strings.TrimSpace(thinkTagRe.ReplaceAllString(text, ""))
}
