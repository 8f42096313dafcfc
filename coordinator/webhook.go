package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/swarmplane/internal/tlsutil"
)

// WebhookConfig 升级通知 webhook 配置
type WebhookConfig struct {
	URL     string            `yaml:"url" json:"url"`
	Timeout time.Duration     `yaml:"timeout" json:"timeout"`
	Headers map[string]string `yaml:"headers" json:"headers"`
}

// WebhookNotifier 把升级记录以 JSON POST 给外部编排方
type WebhookNotifier struct {
	config WebhookConfig
	client *http.Client
	logger *zap.Logger
}

// NewWebhookNotifier 创建 webhook 通知器，client 为 nil 时使用加固的 TLS 客户端
func NewWebhookNotifier(config WebhookConfig, client *http.Client, logger *zap.Logger) *WebhookNotifier {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if client == nil {
		client = tlsutil.SecureHTTPClient(config.Timeout)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookNotifier{
		config: config,
		client: client,
		logger: logger.With(zap.String("component", "escalation_webhook")),
	}
}

// NotifyEscalation 实现 EscalationNotifier，非 2xx 响应视为失败
func (w *WebhookNotifier) NotifyEscalation(ctx context.Context, esc *Escalation) error {
	body, err := json.Marshal(esc)
	if err != nil {
		return fmt.Errorf("marshal escalation: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post escalation: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("escalation webhook returned %d", resp.StatusCode)
	}
	w.logger.Debug("escalation delivered",
		zap.String("swarm_id", esc.SwarmID),
		zap.String("pending_key", esc.PendingKey),
	)
	return nil
}
