package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/OFFIS-RIT/quill/pkg/ai"
	"github.com/OFFIS-RIT/quill/pkg/common"
	"github.com/OFFIS-RIT/quill/pkg/indexer"
	"github.com/OFFIS-RIT/quill/pkg/logger"
)

// ErrUnknownQueue is returned for deliveries from a queue the worker does
// not handle.
var ErrUnknownQueue = errors.New("unknown queue")

// Worker turns queue messages into indexer calls. Every successfully
// processed message is followed by a snapshot of the touched collection.
type Worker struct {
	registry *indexer.Registry
	ai       ai.GraphAIClient
}

func NewWorker(registry *indexer.Registry, client ai.GraphAIClient) *Worker {
	return &Worker{registry: registry, ai: client}
}

// Process handles one message body from queueName. Malformed messages are
// reported as errors like any other failure, so they reach the dead-letter
// queue after the retries.
func (w *Worker) Process(ctx context.Context, queueName string, body []byte) error {
	switch queueName {
	case IndexQueue:
		var msg IndexMessage
		if err := json.Unmarshal(body, &msg); err != nil {
			return fmt.Errorf("decode index message: %w", err)
		}
		idx, err := w.registry.Get(msg.Collection)
		if err != nil {
			return err
		}
		res, err := idx.IndexDocument(ctx, msg.Document)
		if err != nil {
			return err
		}
		logger.Info("[Queue] Indexed document", "collection", msg.Collection, "doc_id", res.DocID, "state", res.State, "chunks", res.ChunksIndexed)
		return idx.Persist(ctx)

	case FolderQueue:
		var msg FolderMessage
		if err := json.Unmarshal(body, &msg); err != nil {
			return fmt.Errorf("decode folder message: %w", err)
		}
		if len(msg.Documents) == 0 {
			return common.InvalidInput("folder message has no documents")
		}
		idx, err := w.registry.Get(msg.Collection)
		if err != nil {
			return err
		}
		res, err := idx.IndexFolder(ctx, msg.Documents, msg.Options)
		if perr := idx.Persist(ctx); perr != nil {
			err = errors.Join(err, perr)
		}
		if err != nil {
			return err
		}
		logger.Info("[Queue] Indexed folder",
			"collection", msg.Collection,
			"documents", res.DocumentsIndexed,
			"failed", len(res.Failed),
			"consolidated", res.NodesConsolidated,
		)
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnknownQueue, queueName)
}

type queuedMessage struct {
	msg       amqp091.Delivery
	queueName string
}

// Run consumes every queue on conn, one message at a time across all
// queues, until ctx is cancelled.
func (w *Worker) Run(ctx context.Context, conn *amqp091.Connection) error {
	setupCh, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer setupCh.Close()
	if err := SetupQueues(setupCh, Queues); err != nil {
		return err
	}

	// A single consumer channel with prefetch 1 delivers one message at a
	// time across all queues.
	consumerCh, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open consumer channel: %w", err)
	}
	defer consumerCh.Close()
	if err := consumerCh.Qos(1, 0, true); err != nil {
		return fmt.Errorf("set QoS: %w", err)
	}

	messageChan := make(chan queuedMessage)
	for _, queueName := range Queues {
		msgs, err := consumerCh.Consume(
			queueName,
			queueName+"_consumer",
			false, // autoAck
			false, // exclusive
			false, // noLocal
			false, // noWait
			nil,   // args
		)
		if err != nil {
			return fmt.Errorf("consume %s: %w", queueName, err)
		}
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-msgs:
					if !ok {
						logger.Info("[Queue] Message channel closed", "queue", queueName)
						return
					}
					select {
					case messageChan <- queuedMessage{msg: msg, queueName: queueName}:
					case <-ctx.Done():
						return
					}
				}
			}
		}()
	}

	logger.Info("[Queue] Listening for messages", "queues", Queues)
	for {
		select {
		case <-ctx.Done():
			logger.Info("[Queue] Stopping message processor")
			return nil
		case qm := <-messageChan:
			w.handle(ctx, consumerCh, qm)
		}
	}
}

func (w *Worker) handle(ctx context.Context, ch publisher, qm queuedMessage) {
	startTime := time.Now()
	logger.Info("[Queue] Received message", "queue", qm.queueName)

	if err := w.Process(ctx, qm.queueName, qm.msg.Body); err != nil {
		logger.Error("[Queue] Error processing message", "queue", qm.queueName, "err", err)
		handleProcessingError(ctx, ch, qm.msg, qm.queueName)
	} else {
		if err := qm.msg.Ack(false); err != nil {
			logger.Error("[Queue] Failed to ack message", "err", err)
		}
		logger.Info("[Queue] Message processed successfully", "queue", qm.queueName)
	}

	if w.ai != nil {
		metrics := w.ai.GetMetrics()
		logger.Info(
			"[Queue] AI metrics",
			"requests", metrics.Requests,
			"input_tokens", metrics.InputTokens,
			"output_tokens", metrics.OutputTokens,
			"total_tokens", metrics.TotalTokens,
			"duration", formatDuration(time.Duration(metrics.DurationMs)*time.Millisecond),
		)
		w.ai.ResetMetrics()
	}
	logger.Info("[Queue] Processing time", "duration", formatDuration(time.Since(startTime)))
}

func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d:%02d", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}

func retryCount(headers amqp091.Table) int {
	switch v := headers["x-retries"].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// handleProcessingError republishes msg to the retry queue, or to the
// dead-letter queue once it has been retried MaxRetries times. The
// original delivery is acked after a successful republish and requeued
// otherwise.
func handleProcessingError(ctx context.Context, ch publisher, msg amqp091.Delivery, queueName string) {
	retries := retryCount(msg.Headers)

	if retries >= MaxRetries {
		dlqName := queueName + "_dlq"
		logger.Warn("[Queue] Sending message to DLQ", "dlq", dlqName, "retries", retries)
		pubErr := ch.PublishWithContext(
			ctx,
			"",
			dlqName,
			false,
			false,
			amqp091.Publishing{
				ContentType: msg.ContentType,
				Body:        msg.Body,
				Headers:     msg.Headers,
			},
		)
		if pubErr != nil {
			logger.Error("[Queue] Failed to publish to DLQ", "dlq", dlqName, "err", pubErr)
			_ = msg.Nack(false, true)
			return
		}
		_ = msg.Ack(false)
		return
	}

	retryName := queueName + "_retry"
	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers["x-retries"] = int32(retries + 1)

	pubErr := ch.PublishWithContext(
		ctx,
		"",
		retryName,
		false,
		false,
		amqp091.Publishing{
			ContentType: msg.ContentType,
			Body:        msg.Body,
			Headers:     headers,
		},
	)
	if pubErr != nil {
		logger.Error("[Queue] Failed to publish to retry queue", "retry_queue", retryName, "err", pubErr)
		_ = msg.Nack(false, true)
		return
	}
	_ = msg.Ack(false)
}
