package mq

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ConnectionState 连接状态
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrNotConnected 连接不可用
var ErrNotConnected = errors.New("rabbitmq connection is not available")

// ConnectionManager 维护到 RabbitMQ 的单条连接，断开后在后台重连
type ConnectionManager struct {
	config *Config
	logger *zap.Logger

	conn      *amqp.Connection
	connMutex sync.RWMutex
	state     atomic.Int32

	stopCh         chan struct{}
	stopOnce       sync.Once
	reconnectCount atomic.Int32

	// onReconnected 重连成功后调用，用于重新声明拓扑
	onReconnected func()
}

// NewConnectionManager 创建连接管理器
func NewConnectionManager(config *Config, logger *zap.Logger) *ConnectionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	cm := &ConnectionManager{
		config: config,
		logger: logger.Named("mq"),
		stopCh: make(chan struct{}),
	}
	cm.state.Store(int32(StateDisconnected))
	return cm
}

// Connect 建立连接
func (cm *ConnectionManager) Connect() error {
	if !cm.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		return fmt.Errorf("connection is already %s", cm.GetState())
	}

	cm.logger.Info("连接RabbitMQ", zap.String("url", cm.config.redactedURL()))
	if err := cm.dial(); err != nil {
		cm.state.Store(int32(StateDisconnected))
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	cm.logger.Info("RabbitMQ连接成功")
	return nil
}

func (cm *ConnectionManager) dial() error {
	conn, err := amqp.DialConfig(cm.config.URL, amqp.Config{
		Heartbeat: cm.config.HeartbeatInterval,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(cm.config.ConnectionTimeout),
	})
	if err != nil {
		return err
	}

	cm.connMutex.Lock()
	select {
	case <-cm.stopCh:
		cm.connMutex.Unlock()
		_ = conn.Close()
		return ErrNotConnected
	default:
	}
	cm.conn = conn
	cm.state.Store(int32(StateConnected))
	cm.connMutex.Unlock()

	go cm.monitorConnection(conn)
	return nil
}

// Channel 打开新通道，调用方负责关闭
func (cm *ConnectionManager) Channel() (*amqp.Channel, error) {
	cm.connMutex.RLock()
	conn := cm.conn
	cm.connMutex.RUnlock()

	if conn == nil || conn.IsClosed() {
		return nil, ErrNotConnected
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	return ch, nil
}

// SetReconnectHook 设置重连成功后的回调，需在 Connect 之前调用
func (cm *ConnectionManager) SetReconnectHook(fn func()) {
	cm.onReconnected = fn
}

// IsConnected 检查是否已连接
func (cm *ConnectionManager) IsConnected() bool {
	return cm.GetState() == StateConnected
}

// GetState 获取连接状态
func (cm *ConnectionManager) GetState() ConnectionState {
	return ConnectionState(cm.state.Load())
}

// ReconnectCount 累计重连次数
func (cm *ConnectionManager) ReconnectCount() int32 {
	return cm.reconnectCount.Load()
}

// Close 关闭连接并停止重连
func (cm *ConnectionManager) Close() error {
	var err error
	cm.stopOnce.Do(func() {
		cm.state.Store(int32(StateClosed))
		close(cm.stopCh)

		cm.logger.Info("关闭RabbitMQ连接")
		cm.connMutex.Lock()
		if cm.conn != nil {
			err = cm.conn.Close()
			cm.conn = nil
		}
		cm.connMutex.Unlock()
	})
	return err
}

// monitorConnection 监听连接关闭事件
func (cm *ConnectionManager) monitorConnection(conn *amqp.Connection) {
	closeCh := conn.NotifyClose(make(chan *amqp.Error, 1))

	select {
	case err := <-closeCh:
		if err == nil {
			return
		}
		cm.logger.Error("RabbitMQ连接意外关闭", zap.Error(err))
		if !cm.state.CompareAndSwap(int32(StateConnected), int32(StateReconnecting)) {
			return
		}
		if cm.config.EnableReconnect {
			go cm.reconnect()
		} else {
			cm.state.Store(int32(StateDisconnected))
		}
	case <-cm.stopCh:
	}
}

// reconnect 按固定间隔重连，直到成功、达到上限或被关闭
func (cm *ConnectionManager) reconnect() {
	maxAttempts := cm.config.MaxReconnectAttempts
	for attempt := 1; ; attempt++ {
		select {
		case <-time.After(cm.config.ReconnectInterval):
		case <-cm.stopCh:
			return
		}

		cm.reconnectCount.Add(1)
		cm.logger.Info("尝试重连RabbitMQ", zap.Int("attempt", attempt))

		err := cm.dial()
		if err == nil {
			cm.logger.Info("RabbitMQ重连成功", zap.Int("attempts", attempt))
			if cm.onReconnected != nil {
				cm.onReconnected()
			}
			return
		}
		cm.logger.Error("RabbitMQ重连失败", zap.Int("attempt", attempt), zap.Error(err))

		if maxAttempts > 0 && attempt >= maxAttempts {
			cm.logger.Error("RabbitMQ重连失败，达到最大重试次数", zap.Int("max_attempts", maxAttempts))
			cm.state.Store(int32(StateDisconnected))
			return
		}
	}
}
