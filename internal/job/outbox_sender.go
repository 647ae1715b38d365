package job

import (
	"context"
	"sync"
	"time"

	"proxypay/internal/model"

	"go.uber.org/zap"
)

type OutboxStore interface {
	ListPending(ctx context.Context, limit int) ([]*model.OutboxMessage, error)
	MarkSent(ctx context.Context, id int64) error
	RecordFailure(ctx context.Context, id int64, giveUp bool) error
}

type Publisher interface {
	SendMessage(topic, key, value string) error
}

// OutboxSender 把订单终态事件投递到 Kafka
type OutboxSender struct {
	outbox    OutboxStore
	publisher Publisher
	logger    *zap.Logger
	stopCh    chan struct{}
	stopOnce  sync.Once
	interval  time.Duration
	batchSize int
	maxRetry  int
}

func NewOutboxSender(outbox OutboxStore, publisher Publisher, interval time.Duration, batchSize, maxRetry int, logger *zap.Logger) *OutboxSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OutboxSender{
		outbox:    outbox,
		publisher: publisher,
		logger:    logger.With(zap.String("job", "outbox_sender")),
		stopCh:    make(chan struct{}),
		interval:  interval,
		batchSize: batchSize,
		maxRetry:  maxRetry,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	runLoop(ctx, "OutboxSender", s.interval, s.stopCh, s.logger, s.processPendingMessages)
}

func (s *OutboxSender) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *OutboxSender) processPendingMessages(ctx context.Context) {
	messages, err := s.outbox.ListPending(ctx, s.batchSize)
	if err != nil {
		s.logger.Error("查询消息失败", zap.Error(err))
		return
	}

	for _, msg := range messages {
		s.sendMessage(ctx, msg)
	}
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) {
	err := s.publisher.SendMessage(msg.Topic, msg.MessageKey, msg.Payload)
	if err == nil {
		if err := s.outbox.MarkSent(ctx, msg.ID); err != nil {
			s.logger.Error("更新消息状态失败", zap.Int64("id", msg.ID), zap.Error(err))
			return
		}
		s.logger.Debug("消息发送成功", zap.Int64("id", msg.ID), zap.String("topic", msg.Topic), zap.String("key", msg.MessageKey))
		return
	}

	giveUp := msg.RetryCount+1 >= s.maxRetry
	s.logger.Warn("消息发送失败",
		zap.Int64("id", msg.ID),
		zap.Int("retry_count", msg.RetryCount+1),
		zap.Bool("give_up", giveUp),
		zap.Error(err),
	)
	if err := s.outbox.RecordFailure(ctx, msg.ID, giveUp); err != nil {
		s.logger.Error("记录发送失败次数失败", zap.Int64("id", msg.ID), zap.Error(err))
	}
}
