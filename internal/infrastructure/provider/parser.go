package provider

import (
	"encoding/base64"
	"regexp"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/tidwall/gjson"
)

// Kind 响应中图片载荷的形态
type Kind int

const (
	Unrecognized Kind = iota
	Direct            // 结构化字段给出的图片 URL
	DataURL           // 文本本身是 data URL，或可严格解码的裸 base64 图片
	Embedded          // 文本中的 markdown 图片标签
)

func (k Kind) String() string {
	switch k {
	case Direct:
		return "direct"
	case DataURL:
		return "data_url"
	case Embedded:
		return "embedded"
	default:
		return "unrecognized"
	}
}

const (
	DefaultMimeType = "image/png"

	// 更短的裸 base64 不可能是图片，按普通文本处理
	minRawBase64Length = 64
)

var (
	dataURLPattern  = regexp.MustCompile(`^data:(image/[A-Za-z0-9.+-]+);base64,[A-Za-z0-9+/=\s]+$`)
	markdownPattern = regexp.MustCompile(`!\[[^\]]*\]\(\s*([^)\s]+)\s*\)`)
	mimePrefix      = regexp.MustCompile(`^data:(image/[A-Za-z0-9.+-]+);base64,`)
)

// Result 解析结果
type Result struct {
	Kind     Kind
	ImageURL string
	MimeType string
}

// ParseResponse 按固定优先级尝试已知的响应形态：Direct -> DataURL -> Embedded
// 都不匹配时返回 Unrecognized，调用方必须拒绝，不做猜测
func ParseResponse(body []byte) Result {
	if !gjson.ValidBytes(body) {
		return Result{Kind: Unrecognized}
	}

	message := gjson.GetBytes(body, "choices.0.message")
	if !message.Exists() {
		return Result{Kind: Unrecognized}
	}

	texts, partURL := contentTexts(message.Get("content"))

	// 1. Direct
	if u := message.Get("images.0.image_url.url"); u.Type == gjson.String && u.Str != "" {
		return direct(u.Str)
	}
	if partURL != "" {
		return direct(partURL)
	}
	for _, text := range texts {
		if u := jsonImageURL(text); u != "" {
			return direct(u)
		}
	}

	// 2. DataURL
	for _, text := range texts {
		if dataURLPattern.MatchString(text) {
			return Result{Kind: DataURL, ImageURL: text, MimeType: mimeOf(text)}
		}
		if compact, mime, ok := rawBase64Image(text); ok {
			return Result{Kind: DataURL, ImageURL: "data:" + mime + ";base64," + compact, MimeType: mime}
		}
	}

	// 3. Embedded
	for _, text := range texts {
		if m := markdownPattern.FindStringSubmatch(text); m != nil {
			return Result{Kind: Embedded, ImageURL: m[1], MimeType: mimeOf(m[1])}
		}
	}

	return Result{Kind: Unrecognized}
}

// contentTexts content 可能是字符串，也可能是多段 parts 数组
func contentTexts(content gjson.Result) (texts []string, imageURL string) {
	switch {
	case content.Type == gjson.String:
		if t := strings.TrimSpace(content.Str); t != "" {
			texts = append(texts, t)
		}
	case content.IsArray():
		for _, part := range content.Array() {
			switch part.Get("type").Str {
			case "image_url":
				if imageURL != "" {
					continue
				}
				if u := part.Get("image_url.url"); u.Type == gjson.String {
					imageURL = u.Str
				} else if u := part.Get("image_url"); u.Type == gjson.String {
					imageURL = u.Str
				}
			case "text":
				if t := strings.TrimSpace(part.Get("text").Str); t != "" {
					texts = append(texts, t)
				}
			}
		}
	}
	return texts, imageURL
}

func jsonImageURL(text string) string {
	if !gjson.Valid(text) {
		return ""
	}
	parsed := gjson.Parse(text)
	if !parsed.IsObject() {
		return ""
	}
	v := parsed.Get("image_url")
	if v.Type == gjson.String {
		return v.Str
	}
	if u := v.Get("url"); u.Type == gjson.String {
		return u.Str
	}
	return ""
}

// rawBase64Image 整段文本必须是严格合法的 base64（只允许换行）
// 能识别出图片类型时使用识别结果，否则按默认类型处理
func rawBase64Image(text string) (string, string, bool) {
	if strings.ContainsAny(text, " \t") {
		return "", "", false
	}
	compact := strings.NewReplacer("\r", "", "\n", "").Replace(text)
	if len(compact) < minRawBase64Length {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.Strict().DecodeString(compact)
	if err != nil {
		return "", "", false
	}
	mime := DefaultMimeType
	if detected := mimetype.Detect(decoded).String(); strings.HasPrefix(detected, "image/") {
		mime = detected
	}
	return compact, mime, true
}

func direct(url string) Result {
	return Result{Kind: Direct, ImageURL: url, MimeType: mimeOf(url)}
}

func mimeOf(url string) string {
	if m := mimePrefix.FindStringSubmatch(url); m != nil {
		return m[1]
	}
	return DefaultMimeType
}
