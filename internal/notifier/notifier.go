package notifier

import (
	"context"
	"time"

	"arbitrage-platform-go/internal/config"
	"arbitrage-platform-go/internal/models"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// WebhookNotifier posts settled trades to a configured HTTP endpoint. Delivery
// is fire-and-forget: settlement never waits on it and a failed delivery is
// only logged. A nil notifier (empty URL) disables the feature.
type WebhookNotifier struct {
	client  *resty.Client
	url     string
	logger  *zap.Logger
	limiter *rate.Limiter
}

// NewWebhookNotifier creates a webhook notifier, or nil when no URL is
// configured.
func NewWebhookNotifier(cfg *config.Notifier, logger *zap.Logger) *WebhookNotifier {
	if cfg.WebhookURL == "" {
		return nil
	}

	client := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(2)

	return &WebhookNotifier{
		client:  client,
		url:     cfg.WebhookURL,
		logger:  logger.Named("notifier"),
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst),
	}
}

// TradeSettled delivers the settled trade asynchronously.
func (n *WebhookNotifier) TradeSettled(trade *models.Trade) {
	go n.deliver(trade)
}

func (n *WebhookNotifier) deliver(trade *models.Trade) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := n.limiter.Wait(ctx); err != nil {
		n.logger.Warn("Dropped settlement notification, rate limiter wait cancelled",
			zap.String("trade_id", trade.ID.String()))
		return
	}

	resp, err := n.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(trade).
		Post(n.url)
	if err != nil {
		n.logger.Warn("Failed to deliver settlement notification",
			zap.String("trade_id", trade.ID.String()), zap.Error(err))
		return
	}
	if resp.IsError() {
		n.logger.Warn("Settlement notification rejected",
			zap.String("trade_id", trade.ID.String()),
			zap.Int("status", resp.StatusCode()))
	}
}
