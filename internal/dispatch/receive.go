package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/pavelanni/acegrader/internal/model"
)

// Handler processes one received task. Returning an error leaves the
// message on the queue for redelivery.
type Handler func(ctx context.Context, task model.ProcessingTask) error

// Receiver long-polls one queue.
type Receiver struct {
	api      SQSAPI
	queue    string
	wait     int32
	maxMsgs  int32
	errDelay time.Duration
}

func NewReceiver(api SQSAPI, queue string) *Receiver {
	return &Receiver{api: api, queue: queue, wait: 20, maxMsgs: 10, errDelay: time.Second}
}

// Run receives until ctx is cancelled. Messages whose body is not a task are
// deleted so they do not cycle forever.
func (r *Receiver) Run(ctx context.Context, handle Handler) error {
	slog.Info("polling queue", "queue", r.queue)
	for {
		if ctx.Err() != nil {
			return nil
		}
		out, err := r.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(r.queue),
			MaxNumberOfMessages: r.maxMsgs,
			WaitTimeSeconds:     r.wait,
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			slog.Error("failed to receive messages", "queue", r.queue, "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(r.errDelay):
			}
			continue
		}
		for _, msg := range out.Messages {
			var task model.ProcessingTask
			if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &task); err != nil {
				slog.Error("dropping malformed message", "queue", r.queue, "id", aws.ToString(msg.MessageId), "error", err)
				r.delete(ctx, msg.ReceiptHandle)
				continue
			}
			if err := handle(ctx, task); err != nil {
				slog.Error("task handling failed, leaving message for redelivery", "task", task.TaskID, "error", err)
				continue
			}
			r.delete(ctx, msg.ReceiptHandle)
		}
	}
}

func (r *Receiver) delete(ctx context.Context, handle *string) {
	_, err := r.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(r.queue),
		ReceiptHandle: handle,
	})
	if err != nil {
		slog.Error("failed to delete message", "queue", r.queue, "error", err)
	}
}
