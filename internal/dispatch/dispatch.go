// Package dispatch moves processing tasks across SQS queues.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/pavelanni/acegrader/internal/metrics"
	"github.com/pavelanni/acegrader/internal/model"
)

// maxBatch is the SQS limit on entries per SendMessageBatch call.
const maxBatch = 10

// SQSAPI is the subset of the SQS client used here.
type SQSAPI interface {
	SendMessageBatch(ctx context.Context, in *sqs.SendMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// NewClient builds an SQS client from the default AWS config chain.
func NewClient(ctx context.Context, region string) (*sqs.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return sqs.NewFromConfig(cfg), nil
}

// QueueStats counts the outcome of sending to one queue.
type QueueStats struct {
	Attempted int    `json:"attempted"`
	Sent      int    `json:"sent"`
	Failed    int    `json:"failed"`
	Error     string `json:"error,omitempty"`
}

// SendStats summarizes a Send call.
type SendStats struct {
	TotalTasks int                   `json:"total_tasks"`
	SentTasks  int                   `json:"sent_tasks"`
	Failed     int                   `json:"failed_tasks"`
	Queues     map[string]QueueStats `json:"queue_stats"`
}

// Sender publishes tasks to their queues.
type Sender struct {
	api     SQSAPI
	metrics *metrics.Recorder
}

func NewSender(api SQSAPI, rec *metrics.Recorder) *Sender {
	return &Sender{api: api, metrics: rec}
}

// Send publishes tasks grouped by queue URL in batches of ten. A failing
// batch is counted and logged; the remaining batches are still sent.
func (s *Sender) Send(ctx context.Context, byQueue map[string][]model.ProcessingTask) SendStats {
	stats := SendStats{Queues: map[string]QueueStats{}}
	for queue, tasks := range byQueue {
		stats.TotalTasks += len(tasks)
		qs := QueueStats{Attempted: len(tasks)}
		for start := 0; start < len(tasks); start += maxBatch {
			end := min(start+maxBatch, len(tasks))
			sent, err := s.sendBatch(ctx, queue, tasks[start:end])
			qs.Sent += sent
			if err != nil {
				slog.Error("failed to send batch", "queue", queue, "error", err)
				qs.Error = err.Error()
			}
		}
		qs.Failed = qs.Attempted - qs.Sent
		stats.SentTasks += qs.Sent
		stats.Failed += qs.Failed
		stats.Queues[queue] = qs
		s.metrics.MessagesSent(queue, qs.Sent, qs.Failed)
	}
	slog.Info("dispatched tasks", "sent", stats.SentTasks, "total", stats.TotalTasks)
	return stats
}

func (s *Sender) sendBatch(ctx context.Context, queue string, tasks []model.ProcessingTask) (int, error) {
	entries := make([]types.SendMessageBatchRequestEntry, 0, len(tasks))
	for _, t := range tasks {
		body, err := json.Marshal(t)
		if err != nil {
			slog.Error("failed to encode task", "task", t.TaskID, "error", err)
			continue
		}
		entries = append(entries, types.SendMessageBatchRequestEntry{
			Id:          aws.String(t.TaskID),
			MessageBody: aws.String(string(body)),
			MessageAttributes: map[string]types.MessageAttributeValue{
				"TaskId":       stringAttr(t.TaskID),
				"SubmissionId": stringAttr(t.SubmissionID),
				"ArtifactType": stringAttr(string(t.ArtifactType)),
				"RetryCount": {
					DataType:    aws.String("Number"),
					StringValue: aws.String(strconv.Itoa(t.RetryCount)),
				},
			},
		})
	}
	if len(entries) == 0 {
		return 0, nil
	}
	out, err := s.api.SendMessageBatch(ctx, &sqs.SendMessageBatchInput{
		QueueUrl: aws.String(queue),
		Entries:  entries,
	})
	if err != nil {
		return 0, err
	}
	for _, f := range out.Failed {
		slog.Warn("message rejected", "queue", queue, "task", aws.ToString(f.Id), "code", aws.ToString(f.Code), "message", aws.ToString(f.Message))
	}
	return len(out.Successful), nil
}

func stringAttr(v string) types.MessageAttributeValue {
	return types.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(v)}
}
