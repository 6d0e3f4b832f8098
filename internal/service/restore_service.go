package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"photorevive/internal/infrastructure/provider"
	"photorevive/internal/metrics"

	log "github.com/sirupsen/logrus"
)

// Restorer 外部图像服务，测试中可替换
type Restorer interface {
	Restore(ctx context.Context, req provider.RestoreRequest) (*provider.RestoredImage, error)
}

// RestoreService 图片修复代理
//
// 不读写账本：扣点由客户端先调用 /spend 完成，修复失败不会自动退还
type RestoreService struct {
	restorer Restorer
}

func NewRestoreService(restorer Restorer) *RestoreService {
	return &RestoreService{restorer: restorer}
}

// Restore 校验参数后转发给服务商，失败时返回 *provider.Error
func (s *RestoreService) Restore(ctx context.Context, image, mimeType, prompt string) (*provider.RestoredImage, error) {
	image = strings.TrimSpace(image)
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	prompt = strings.TrimSpace(prompt)
	if image == "" || mimeType == "" || prompt == "" {
		return nil, validationError("Missing required parameters")
	}

	// 前端可能直接传 data URL
	if strings.HasPrefix(image, "data:") {
		idx := strings.Index(image, ";base64,")
		if idx < 0 {
			return nil, validationError("Image must be base64 encoded")
		}
		image = image[idx+len(";base64,"):]
		if image == "" {
			return nil, validationError("Missing required parameters")
		}
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, validationError("mimeType must be an image type")
	}

	start := time.Now()
	result, err := s.restorer.Restore(ctx, provider.RestoreRequest{
		ImageBase64: image,
		MimeType:    mimeType,
		Prompt:      prompt,
	})
	elapsed := time.Since(start)

	if err != nil {
		metrics.RecordProviderRequest(providerResult(err), elapsed)
		log.WithError(err).WithField("elapsed", elapsed).Error("图片修复失败")

		var perr *provider.Error
		if errors.As(err, &perr) {
			return nil, perr
		}
		return nil, &provider.Error{Message: "Image restoration failed", Err: err}
	}

	metrics.RecordProviderRequest("ok", elapsed)
	log.WithFields(log.Fields{
		"elapsed":  elapsed,
		"mimeType": result.MimeType,
	}).Info("图片修复成功")
	return result, nil
}

func providerResult(err error) string {
	var perr *provider.Error
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &perr) && perr.StatusCode > 0:
		return "provider_error"
	default:
		return "network_error"
	}
}
