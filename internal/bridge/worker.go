// Package bridge Worker 消费循环
//
// 架构：Redis Streams 事件驱动 + 数据库保底轮询
//
//   - 主路径：消费者组阻塞读取新任务
//   - 认领路径：周期扫描 pending 集合，认领租约超时的消息
//     （崩溃的 worker 或 nack 留下的重投递）
//   - 保底路径：扫描长时间停留在 pending 的 Run，补投构建任务
//     （覆盖"持久化成功但入队前崩溃"的窗口）
//
// ack/nack 判定：
//   - 处理返回 nil：ack
//   - OutOfRange / FailedPrecondition / InvalidArgument：确定性拒绝，ack
//   - Conflict / Unavailable / 未知错误：nack（不应答，等待重投递）
//   - 投递次数超过上限：移入死信流并 ack
package bridge

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/containerd/errdefs"

	"rag-indexer/internal/catalog"
	"rag-indexer/internal/config"
	"rag-indexer/internal/pipeline"
	"rag-indexer/internal/shared/model"
	"rag-indexer/internal/shared/queue"
	"rag-indexer/internal/shared/storage"
)

// Worker 任务消费者
type Worker struct {
	cfg     config.WorkerConfig
	store   storage.PersistentStore
	queue   queue.TaskQueue
	engine  *pipeline.Engine
	catalog *catalog.Service
	metrics *Metrics

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// NewWorker 创建任务消费者
func NewWorker(
	cfg config.WorkerConfig,
	store storage.PersistentStore,
	q queue.TaskQueue,
	engine *pipeline.Engine,
	cat *catalog.Service,
	metrics *Metrics,
) *Worker {
	return &Worker{
		cfg:     cfg,
		store:   store,
		queue:   q,
		engine:  engine,
		catalog: cat,
		metrics: metrics,
		stopCh:  make(chan struct{}),
	}
}

// Start 启动消费循环（阻塞直到 Stop 或 ctx 取消）
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	log.Printf("[worker.start] consumer_id=%s read_count=%d lease=%s",
		w.cfg.ConsumerID, w.cfg.ReadCount, w.cfg.LeaseDuration)

	if err := w.queue.CreateConsumerGroup(ctx); err != nil {
		log.Printf("[worker.group.failed] error=%v", err)
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		w.consumeLoop(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		w.reclaimLoop(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		w.fallbackLoop(ctx)
	}()

	wg.Wait()
	log.Printf("[worker.stopped] consumer_id=%s", w.cfg.ConsumerID)
}

// Stop 停止消费循环
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		close(w.stopCh)
		w.running = false
	}
}

// consumeLoop 主路径：消费新任务
func (w *Worker) consumeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			log.Printf("[worker.consume.stop] reason=context_cancelled")
			return
		case <-w.stopCh:
			log.Printf("[worker.consume.stop] reason=stop_signal")
			return
		default:
		}

		messages, err := w.queue.Consume(ctx, w.cfg.ConsumerID, w.cfg.ReadCount, w.cfg.ReadTimeout)
		if err != nil {
			log.Printf("[worker.consume.failed] error=%v", err)
			time.Sleep(1 * time.Second)
			continue
		}

		for _, msg := range messages {
			w.process(ctx, msg)
		}

		if pending, err := w.queue.PendingCount(ctx); err == nil && w.metrics != nil {
			w.metrics.TasksPending.Set(float64(pending))
		}
	}
}

// reclaimLoop 认领路径：接管租约超时的 pending 消息
func (w *Worker) reclaimLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.LeaseDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.reclaimStale(ctx)
		}
	}
}

// reclaimStale 认领并处理超时消息，投递超限的移入死信流
func (w *Worker) reclaimStale(ctx context.Context) {
	messages, err := w.queue.Reclaim(ctx, w.cfg.ConsumerID, w.cfg.LeaseDuration, w.cfg.ReadCount)
	if err != nil {
		log.Printf("[worker.reclaim.failed] error=%v", err)
		return
	}

	for _, msg := range messages {
		if w.metrics != nil {
			w.metrics.ReclaimedTotal.Inc()
		}
		if msg.Deliveries > w.cfg.MaxDeliveries {
			log.Printf("[worker.deadletter] run_id=%s kind=%s deliveries=%d max=%d",
				msg.Task.RunID, msg.Task.Kind, msg.Deliveries, w.cfg.MaxDeliveries)
			if err := w.queue.DeadLetter(ctx, msg, "delivery limit exceeded"); err != nil {
				log.Printf("[worker.deadletter.failed] run_id=%s error=%v", msg.Task.RunID, err)
			} else if w.metrics != nil {
				w.metrics.DeadLetteredTotal.Inc()
			}
			continue
		}
		w.process(ctx, msg)
	}
}

// fallbackLoop 保底路径：补投长时间 pending 的 Run
func (w *Worker) fallbackLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Fallback.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.requeueStaleRuns(ctx)
		}
	}
}

// requeueStaleRuns 找出最近一次更新后超过阈值仍未被领取的 Run，重新入队
// 构建任务从第一个未完成的步骤续跑，重复补投是无害的
func (w *Worker) requeueStaleRuns(ctx context.Context) {
	runs, err := w.store.ListStalePendingRuns(ctx, w.cfg.Fallback.StaleThreshold)
	if err != nil {
		log.Printf("[worker.fallback.query.failed] error=%v", err)
		return
	}
	if len(runs) == 0 {
		return
	}

	log.Printf("[worker.fallback.found] count=%d threshold=%s", len(runs), w.cfg.Fallback.StaleThreshold)

	for _, run := range runs {
		task := &model.Task{
			Kind:        model.TaskKindBuild,
			RunID:       run.ID,
			Index:       run.Index,
			SubmittedAt: time.Now().UTC(),
		}
		if _, err := w.queue.Enqueue(ctx, task); err != nil {
			log.Printf("[worker.fallback.enqueue.failed] run_id=%s error=%v", run.ID, err)
			continue
		}
		if w.metrics != nil {
			w.metrics.RequeuedTotal.Inc()
		}
		log.Printf("[worker.fallback.requeued] run_id=%s", run.ID)
	}
}

// process 处理单条消息并决定 ack/nack
func (w *Worker) process(ctx context.Context, msg *queue.TaskMessage) {
	start := time.Now()
	err := w.handleTask(ctx, &msg.Task)
	outcome := w.settle(ctx, msg, err)

	if w.metrics != nil {
		w.metrics.RecordTask(string(msg.Task.Kind), outcome, time.Since(start))
	}
	log.Printf("[worker.task.%s] kind=%s run_id=%s msg_id=%s deliveries=%d duration_ms=%d",
		outcome, msg.Task.Kind, msg.Task.RunID, msg.ID, msg.Deliveries,
		time.Since(start).Milliseconds())
}

// settle 根据处理结果应答消息，返回结果标签
func (w *Worker) settle(ctx context.Context, msg *queue.TaskMessage, err error) string {
	if err == nil || deterministic(err) {
		if ackErr := w.queue.Ack(ctx, msg.ID); ackErr != nil {
			log.Printf("[worker.ack.failed] msg_id=%s error=%v", msg.ID, ackErr)
		}
		if err != nil {
			log.Printf("[worker.task.rejected] kind=%s run_id=%s error=%v", msg.Task.Kind, msg.Task.RunID, err)
			return "rejected"
		}
		return "ack"
	}
	// nack：不应答，租约超时后重新投递
	log.Printf("[worker.task.nack] kind=%s run_id=%s error=%v", msg.Task.Kind, msg.Task.RunID, err)
	return "nack"
}

// deterministic 判断错误是否为确定性拒绝（重试不会有不同结果）
func deterministic(err error) bool {
	return errdefs.IsOutOfRange(err) ||
		errdefs.IsFailedPrecondition(err) ||
		errdefs.IsInvalidArgument(err) ||
		errdefs.IsNotFound(err)
}

// handleTask 分发任务
func (w *Worker) handleTask(ctx context.Context, task *model.Task) error {
	switch task.Kind {
	case model.TaskKindBuild, model.TaskKindReplay:
		return w.handleRunTask(ctx, task)
	case model.TaskKindRollback:
		return w.handleRollback(ctx, task)
	default:
		log.Printf("[worker.task.unknown] kind=%s", task.Kind)
		return nil
	}
}

// handleRunTask 执行 build/replay 任务
//
// 终态 Run 的重复投递在这里被吸收：succeeded/failed 直接 no-op 确认
// （failed 也吸收假 nack——成功处理后 ack 丢失的重投递）。
func (w *Worker) handleRunTask(ctx context.Context, task *model.Task) error {
	run, err := w.store.GetRun(ctx, task.RunID)
	if err != nil {
		return err
	}
	if run == nil {
		log.Printf("[worker.run.not_found] run_id=%s", task.RunID)
		return nil
	}
	if run.Status.Terminal() {
		log.Printf("[worker.run.skip] run_id=%s status=%s reason=terminal", run.ID, run.Status)
		return nil
	}

	start := time.Now()
	status, err := w.engine.Execute(ctx, run)
	if w.metrics != nil {
		w.metrics.RecordRun(string(status), time.Since(start))
	}
	return err
}

// handleRollback 执行回退任务
// 目标已是 active 的重复投递在目录服务中被幂等吸收
func (w *Worker) handleRollback(ctx context.Context, task *model.Task) error {
	target, err := w.catalog.Rollback(ctx, task.Index, task.Steps)
	if err != nil {
		return err
	}
	log.Printf("[worker.rollback.done] index=%s steps=%d target_version=%d",
		task.Index, task.Steps, target.Version)
	return nil
}
