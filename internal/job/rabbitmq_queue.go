package job

import (
	"context"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	xerrors "CoSign-Chain/internal/errors"
)

const (
	defaultRabbitQueue = "cosign.jobs"
	rabbitMessageType  = "cosign.job"
)

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL        string
	Queue      string
	Prefetch   int
	Durable    bool
	AutoDelete bool
}

// RabbitMQQueue 以 job ID 为消息体。投递开启 publisher confirm，broker 确认后才算入队；
// 消费端每次 Consume 使用独立 channel 并手动 ack。
type RabbitMQQueue struct {
	cfg  RabbitMQConfig
	conn *amqp.Connection

	mu  sync.Mutex
	pub *amqp.Channel
}

// NewRabbitMQQueue 建立连接、声明队列并打开投递 channel。
func NewRabbitMQQueue(cfg RabbitMQConfig) (*RabbitMQQueue, error) {
	if cfg.URL == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "RabbitMQ URL 不能为空")
	}
	if cfg.Queue == "" {
		cfg.Queue = defaultRabbitQueue
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "连接 RabbitMQ 失败")
	}
	q := &RabbitMQQueue{cfg: cfg, conn: conn}
	if q.pub, err = q.openChannel(0); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := q.pub.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "开启 publisher confirm 失败")
	}
	return q, nil
}

// openChannel 打开 channel 并确保队列存在。prefetch 大于 0 时设置 QoS。
func (q *RabbitMQQueue) openChannel(prefetch int) (*amqp.Channel, error) {
	ch, err := q.conn.Channel()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "创建 RabbitMQ channel 失败")
	}
	if _, err := ch.QueueDeclare(q.cfg.Queue, q.cfg.Durable, q.cfg.AutoDelete, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "声明 RabbitMQ 队列失败",
			xerrors.WithMetadata("queue", q.cfg.Queue))
	}
	if prefetch > 0 {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			_ = ch.Close()
			return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "设置 RabbitMQ QoS 失败")
		}
	}
	return ch, nil
}

// Publish 投递任务并等待 broker 确认，被 nack 的投递返回 QUEUE_FAILURE。
func (q *RabbitMQQueue) Publish(ctx context.Context, jobID string) error {
	if q == nil || q.pub == nil {
		return xerrors.New(xerrors.CodeQueueFailure, "RabbitMQ 队列未初始化")
	}
	q.mu.Lock()
	confirm, err := q.pub.PublishWithDeferredConfirmWithContext(ctx, "", q.cfg.Queue, false, false, amqp.Publishing{
		ContentType:  "text/plain",
		DeliveryMode: amqp.Persistent,
		MessageId:    jobID,
		Type:         rabbitMessageType,
		Timestamp:    time.Now(),
		Body:         []byte(jobID),
	})
	q.mu.Unlock()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "RabbitMQ 发布任务失败", xerrors.WithMetadata("job_id", jobID))
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "等待 RabbitMQ 确认失败", xerrors.WithMetadata("job_id", jobID))
	}
	if !acked {
		return xerrors.New(xerrors.CodeQueueFailure, "RabbitMQ 拒绝了任务投递", xerrors.WithMetadata("job_id", jobID))
	}
	return nil
}

// Consume 在独立 channel 上消费。handler 出错的消息退回队列重投。
func (q *RabbitMQQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if q == nil || q.conn == nil {
		return xerrors.New(xerrors.CodeQueueFailure, "RabbitMQ 队列未初始化")
	}
	if workerCount <= 0 {
		workerCount = 1
	}
	prefetch := q.cfg.Prefetch
	if prefetch <= 0 {
		prefetch = workerCount
	}
	ch, err := q.openChannel(prefetch)
	if err != nil {
		return err
	}
	defer ch.Close()

	deliveries, err := ch.ConsumeWithContext(ctx, q.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "订阅 RabbitMQ 队列失败")
	}

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d, ok := <-deliveries:
					if !ok {
						return
					}
					q.deliver(ctx, d, handler)
				}
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (q *RabbitMQQueue) deliver(ctx context.Context, d amqp.Delivery, handler Handler) {
	jobID := d.MessageId
	if jobID == "" {
		jobID = string(d.Body)
	}
	if jobID == "" {
		// 空消息无法对应任何任务，直接丢弃。
		_ = d.Reject(false)
		return
	}
	if err := handler(ctx, jobID); err != nil {
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}

// Depth 返回 broker 报告的待投递消息数。
func (q *RabbitMQQueue) Depth(context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	state, err := q.pub.QueueDeclarePassive(q.cfg.Queue, q.cfg.Durable, q.cfg.AutoDelete, false, false, nil)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeQueueFailure, err, "查询 RabbitMQ 队列长度失败")
	}
	return state.Messages, nil
}

// Close 关闭投递 channel 与连接。
func (q *RabbitMQQueue) Close() error {
	if q == nil {
		return nil
	}
	if q.pub != nil {
		_ = q.pub.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

var _ Queue = (*RabbitMQQueue)(nil)
