package mq

import "context"

// Producer 通知总线生产者接口。
// 钱包进程只生产事件 (动作结果 / 余额变更)，消费方是扩展 UI 的事件桥，
// 不在本进程内。
type Producer interface {
	// Publish 发送消息
	// key: 用于分区排序 (Partition Key)。传空字符串则随机分区。
	Publish(ctx context.Context, topic string, key string, payload []byte) error

	// Close 关闭底层连接
	Close() error
}

// NopProducer 在未配置消息队列时使用，丢弃所有事件。
// 事件是尽力而为的通知，不配置 MQ 不影响钱包核心功能。
type NopProducer struct{}

func (NopProducer) Publish(ctx context.Context, topic string, key string, payload []byte) error {
	return nil
}

func (NopProducer) Close() error { return nil }
