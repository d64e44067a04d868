// Package mq 通过 RabbitMQ 发布订单事件
package mq

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Config RabbitMQ 连接与发布配置
type Config struct {
	URL      string
	Exchange string // topic 交换机，订单事件按路由键分发

	ConnectionTimeout time.Duration
	HeartbeatInterval time.Duration

	// 重连配置
	EnableReconnect      bool
	ReconnectInterval    time.Duration
	MaxReconnectAttempts int // 0 表示不限次数

	Producer *ProducerConfig
}

// ProducerConfig 生产者配置
type ProducerConfig struct {
	EnableConfirm    bool
	ConfirmTimeout   time.Duration
	MaxRetryAttempts int
	RetryInterval    time.Duration
	PublishTimeout   time.Duration
}

// DefaultConfig 返回默认配置
func DefaultConfig(amqpURL, exchange string) *Config {
	return &Config{
		URL:      amqpURL,
		Exchange: exchange,

		ConnectionTimeout: 10 * time.Second,
		HeartbeatInterval: 10 * time.Second,

		EnableReconnect:      true,
		ReconnectInterval:    5 * time.Second,
		MaxReconnectAttempts: 0,

		Producer: &ProducerConfig{
			EnableConfirm:    true,
			ConfirmTimeout:   5 * time.Second,
			MaxRetryAttempts: 2,
			RetryInterval:    200 * time.Millisecond,
			PublishTimeout:   5 * time.Second,
		},
	}
}

// redactedURL 日志中隐藏密码
func (c *Config) redactedURL() string {
	u, err := url.Parse(c.URL)
	if err != nil {
		return "<invalid url>"
	}
	return u.Redacted()
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.New("url is required")
	}
	if _, err := url.Parse(c.URL); err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if c.Exchange == "" {
		return errors.New("exchange is required")
	}
	if c.ConnectionTimeout <= 0 {
		return errors.New("connection_timeout must be greater than 0")
	}
	if c.HeartbeatInterval <= 0 {
		return errors.New("heartbeat_interval must be greater than 0")
	}
	if c.EnableReconnect && c.ReconnectInterval <= 0 {
		return errors.New("reconnect_interval must be greater than 0")
	}
	if c.Producer != nil {
		if err := c.Producer.Validate(); err != nil {
			return fmt.Errorf("producer config validation failed: %w", err)
		}
	}
	return nil
}

// Validate 验证生产者配置
func (c *ProducerConfig) Validate() error {
	if c.EnableConfirm && c.ConfirmTimeout <= 0 {
		return errors.New("confirm_timeout must be greater than 0")
	}
	if c.MaxRetryAttempts < 0 {
		return errors.New("max_retry_attempts must be >= 0")
	}
	if c.RetryInterval <= 0 {
		return errors.New("retry_interval must be greater than 0")
	}
	if c.PublishTimeout <= 0 {
		return errors.New("publish_timeout must be greater than 0")
	}
	return nil
}
