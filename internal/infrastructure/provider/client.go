package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"photorevive/internal/config"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const (
	maxResponseBytes = 32 << 20
	defaultTimeout   = 120 * time.Second
)

var safetyCategories = []string{
	"HARM_CATEGORY_HARASSMENT",
	"HARM_CATEGORY_HATE_SPEECH",
	"HARM_CATEGORY_SEXUALLY_EXPLICIT",
	"HARM_CATEGORY_DANGEROUS_CONTENT",
}

// RestoreRequest 一次修复请求，ImageBase64 不带 data: 前缀
type RestoreRequest struct {
	ImageBase64 string
	MimeType    string
	Prompt      string
}

// RestoredImage 统一后的结果
type RestoredImage struct {
	ImageURL string `json:"imageUrl"`
	MimeType string `json:"mimeType"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	MaxTokens      int             `json:"max_tokens"`
	Temperature    float64         `json:"temperature"`
	TopP           float64         `json:"top_p"`
	SafetySettings []safetySetting `json:"safety_settings"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type safetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

// Client chat completions 兼容的图像服务客户端，每次调用只请求一次，不重试
type Client struct {
	httpClient  *http.Client
	endpoint    string
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	topP        float64
}

func NewClient(cfg config.ProviderConfig) *Client {
	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}

	return &Client{
		httpClient:  &http.Client{Timeout: timeout},
		endpoint:    strings.TrimRight(cfg.BaseURL, "/") + "/chat/completions",
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		topP:        cfg.TopP,
	}
}

// Restore 发送图片和修复指令，返回服务商生成的图片
func (c *Client) Restore(ctx context.Context, req RestoreRequest) (*RestoredImage, error) {
	payload, err := json.Marshal(c.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("构建请求失败: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &Error{Message: "Failed to reach the image provider", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &Error{StatusCode: resp.StatusCode, Message: "Failed to read the provider response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{StatusCode: resp.StatusCode, Message: errorMessage(resp.StatusCode, body)}
	}

	result := ParseResponse(body)
	log.WithFields(log.Fields{
		"kind":   result.Kind.String(),
		"status": resp.StatusCode,
		"bytes":  len(body),
	}).Debug("解析服务商响应")

	if result.Kind == Unrecognized {
		return nil, &Error{
			StatusCode: http.StatusBadGateway,
			Message:    "No image found in the provider response",
			Err:        errors.New("unrecognized response shape"),
		}
	}

	return &RestoredImage{ImageURL: result.ImageURL, MimeType: result.MimeType}, nil
}

func (c *Client) buildRequest(req RestoreRequest) chatRequest {
	safety := make([]safetySetting, 0, len(safetyCategories))
	for _, category := range safetyCategories {
		safety = append(safety, safetySetting{Category: category, Threshold: "BLOCK_NONE"})
	}

	return chatRequest{
		Model: c.model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: req.Prompt},
				{Type: "image_url", ImageURL: &imageURL{URL: "data:" + req.MimeType + ";base64," + req.ImageBase64}},
			},
		}},
		MaxTokens:      c.maxTokens,
		Temperature:    c.temperature,
		TopP:           c.topP,
		SafetySettings: safety,
	}
}

// errorMessage 依次取 error.message、message、error（字符串），都没有时用状态码文本
func errorMessage(status int, body []byte) string {
	if gjson.ValidBytes(body) {
		for _, path := range []string{"error.message", "message", "error"} {
			if v := gjson.GetBytes(body, path); v.Type == gjson.String && v.Str != "" {
				return v.Str
			}
		}
	}
	if text := http.StatusText(status); text != "" {
		return text
	}
	return fmt.Sprintf("HTTP %d", status)
}
