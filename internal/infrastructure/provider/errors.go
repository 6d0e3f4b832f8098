package provider

import (
	"fmt"
)

// Error 外部图像服务调用失败：非 2xx 响应、网络错误，或响应中找不到图片
type Error struct {
	StatusCode int // 服务商返回的 HTTP 状态码；网络错误时为 0
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider error: %s", e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}
