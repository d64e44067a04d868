package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ErrProducerClosed 生产者已关闭
var ErrProducerClosed = errors.New("producer is closed")

// PublishOptions 发布选项
type PublishOptions struct {
	MessageID string
	Type      string
	Timestamp time.Time
	Headers   amqp.Table
}

// Producer 向单个交换机发布持久化消息，复用一条确认模式的通道
type Producer struct {
	cm       *ConnectionManager
	exchange string
	config   *ProducerConfig
	logger   *zap.Logger

	mu     sync.Mutex
	ch     *amqp.Channel
	closed bool

	publishedCount atomic.Int64
	failedCount    atomic.Int64
}

// NewProducer 创建生产者
func NewProducer(cm *ConnectionManager, exchange string, config *ProducerConfig, logger *zap.Logger) *Producer {
	if config == nil {
		config = DefaultConfig("", exchange).Producer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Producer{
		cm:       cm,
		exchange: exchange,
		config:   config,
		logger:   logger.Named("producer"),
	}
}

// DeclareExchange 声明 topic 交换机
func (p *Producer) DeclareExchange() error {
	ch, err := p.cm.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(p.exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", p.exchange, err)
	}
	return nil
}

// PublishJSON 发布 JSON 消息
func (p *Producer) PublishJSON(ctx context.Context, routingKey string, data any, options *PublishOptions) error {
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return p.Publish(ctx, routingKey, body, "application/json", options)
}

// Publish 发布消息，失败时按配置重试
func (p *Producer) Publish(ctx context.Context, routingKey string, body []byte, contentType string, options *PublishOptions) error {
	publishing := buildPublishing(body, contentType, options)

	var lastErr error
	maxAttempts := p.config.MaxRetryAttempts + 1
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := p.publishOnce(ctx, routingKey, publishing)
		if err == nil {
			p.publishedCount.Add(1)
			return nil
		}
		if errors.Is(err, ErrProducerClosed) {
			return err
		}

		lastErr = err
		p.logger.Warn("消息发布失败",
			zap.String("exchange", p.exchange),
			zap.String("routing_key", routingKey),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Error(err))

		if attempt == maxAttempts {
			break
		}
		select {
		case <-time.After(p.config.RetryInterval):
		case <-ctx.Done():
			p.failedCount.Add(1)
			return ctx.Err()
		}
	}

	p.failedCount.Add(1)
	return fmt.Errorf("failed to publish message after %d attempts: %w", maxAttempts, lastErr)
}

func (p *Producer) publishOnce(ctx context.Context, routingKey string, publishing amqp.Publishing) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel()
	if err != nil {
		return err
	}

	publishCtx, cancel := context.WithTimeout(ctx, p.config.PublishTimeout)
	defer cancel()

	if !p.config.EnableConfirm {
		if err := ch.PublishWithContext(publishCtx, p.exchange, routingKey, false, false, publishing); err != nil {
			p.discardChannel()
			return fmt.Errorf("failed to publish message: %w", err)
		}
		return nil
	}

	confirm, err := ch.PublishWithDeferredConfirmWithContext(publishCtx, p.exchange, routingKey, false, false, publishing)
	if err != nil {
		p.discardChannel()
		return fmt.Errorf("failed to publish message: %w", err)
	}

	confirmCtx, cancelConfirm := context.WithTimeout(ctx, p.config.ConfirmTimeout)
	defer cancelConfirm()
	acked, err := confirm.WaitContext(confirmCtx)
	if err != nil {
		p.discardChannel()
		return fmt.Errorf("publish confirmation: %w", err)
	}
	if !acked {
		return errors.New("message was nacked by broker")
	}
	return nil
}

// channel 返回可用通道，必要时重新打开；调用方持有 p.mu
func (p *Producer) channel() (*amqp.Channel, error) {
	if p.closed {
		return nil, ErrProducerClosed
	}
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}

	ch, err := p.cm.Channel()
	if err != nil {
		return nil, err
	}
	if p.config.EnableConfirm {
		if err := ch.Confirm(false); err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("failed to set confirm mode: %w", err)
		}
	}
	p.ch = ch
	return ch, nil
}

func (p *Producer) discardChannel() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
}

func buildPublishing(body []byte, contentType string, options *PublishOptions) amqp.Publishing {
	publishing := amqp.Publishing{
		Body:         body,
		ContentType:  contentType,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
	}
	if options != nil {
		publishing.MessageId = options.MessageID
		publishing.Type = options.Type
		publishing.Headers = options.Headers
		if !options.Timestamp.IsZero() {
			publishing.Timestamp = options.Timestamp
		}
	}
	return publishing
}

// Close 关闭生产者
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.discardChannel()
	return nil
}

// ProducerStats 生产者统计信息
type ProducerStats struct {
	PublishedCount int64 `json:"published_count"`
	FailedCount    int64 `json:"failed_count"`
}

// GetStats 获取统计信息
func (p *Producer) GetStats() ProducerStats {
	return ProducerStats{
		PublishedCount: p.publishedCount.Load(),
		FailedCount:    p.failedCount.Load(),
	}
}
