// Copyright (c) 2025 The gfsbak Authors
//
// This file is part of gfsbak.
//
// gfsbak is licensed under the GNU Affero General Public License v3.0 (AGPL-3.0).
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/gfsbak/gfsbak/pkg/adapters"
	"github.com/gfsbak/gfsbak/pkg/common"
)

// SQSClient is the subset of the SQS API used by the transport.
type SQSClient interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSQueue consumes object-change notifications from an SQS queue. Visibility
// timeout and redrive are owned by the queue configuration; this transport
// only acks (deletes) after successful processing and forwards poison
// messages to an explicit dead-letter queue.
type SQSQueue struct {
	api           SQSClient
	queueURL      string
	deadLetterURL string
	waitTime      time.Duration
	logger        adapters.Logger
}

// SQSConfig configures an SQSQueue.
type SQSConfig struct {
	QueueURL      string
	DeadLetterURL string
	Region        string
	WaitTime      time.Duration
	Logger        adapters.Logger
}

// NewSQSQueue builds a transport over a real SQS client.
func NewSQSQueue(ctx context.Context, cfg SQSConfig) (*SQSQueue, error) {
	if cfg.QueueURL == "" {
		return nil, ErrQueueURLNotSet
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	return newSQSQueue(sqs.NewFromConfig(awsCfg), cfg), nil
}

// NewSQSQueueWithClient builds a transport over an existing client.
func NewSQSQueueWithClient(api SQSClient, cfg SQSConfig) (*SQSQueue, error) {
	if cfg.QueueURL == "" {
		return nil, ErrQueueURLNotSet
	}
	return newSQSQueue(api, cfg), nil
}

func newSQSQueue(api SQSClient, cfg SQSConfig) *SQSQueue {
	if cfg.Logger == nil {
		cfg.Logger = adapters.NewNoOpLogger()
	}
	if cfg.WaitTime <= 0 {
		cfg.WaitTime = 10 * time.Second
	}
	return &SQSQueue{
		api:           api,
		queueURL:      cfg.QueueURL,
		deadLetterURL: cfg.DeadLetterURL,
		waitTime:      cfg.WaitTime,
		logger:        cfg.Logger,
	}
}

// Receive long-polls the queue for up to max messages (capped at the SQS
// batch limit of 10).
func (q *SQSQueue) Receive(ctx context.Context, max int) ([]*Message, error) {
	if max <= 0 || max > 10 {
		max = 10
	}

	out, err := q.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: int32(max),
		WaitTimeSeconds:     int32(q.waitTime.Seconds()),
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to receive messages: %w", err)
	}

	messages := make([]*Message, 0, len(out.Messages))
	for _, raw := range out.Messages {
		msg := &Message{
			ID:      aws.ToString(raw.MessageId),
			Body:    []byte(aws.ToString(raw.Body)),
			Receipt: aws.ToString(raw.ReceiptHandle),
		}
		if count := raw.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)]; count != "" {
			msg.Attempts, _ = strconv.Atoi(count)
		}
		msg.Events, msg.Err = parseNotification(msg.Body)
		messages = append(messages, msg)
	}
	return messages, nil
}

// Ack deletes a processed message.
func (q *SQSQueue) Ack(ctx context.Context, m *Message) error {
	_, err := q.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(m.Receipt),
	})
	if err != nil {
		return fmt.Errorf("failed to ack message %s: %w", m.ID, err)
	}
	return nil
}

// DeadLetter forwards a poison message to the dead-letter queue and deletes
// it from the source queue.
func (q *SQSQueue) DeadLetter(ctx context.Context, m *Message, reason string) error {
	if q.deadLetterURL == "" {
		return ErrNoDeadLetterTarget
	}

	_, err := q.api.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.deadLetterURL),
		MessageBody: aws.String(string(m.Body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"reason": {
				DataType:    aws.String("String"),
				StringValue: aws.String(reason),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to dead-letter message %s: %w", m.ID, err)
	}

	q.logger.Warn(ctx, "message dead-lettered",
		adapters.Field{Key: "message_id", Value: m.ID},
		adapters.Field{Key: "reason", Value: reason},
	)
	return q.Ack(ctx, m)
}

// s3Notification is the storage layer's event envelope. One notification may
// carry several records.
type s3Notification struct {
	Records []struct {
		EventName string    `json:"eventName"`
		EventTime time.Time `json:"eventTime"`
		S3        struct {
			Bucket struct {
				Name string `json:"name"`
			} `json:"bucket"`
			Object struct {
				Key       string `json:"key"`
				Size      int64  `json:"size"`
				VersionID string `json:"versionId"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`
}

// parseNotification converts a notification body into change events. Records
// with event names outside ObjectCreated/ObjectRemoved are skipped; a body
// that cannot be decoded or yields an invalid event is poison.
func parseNotification(body []byte) ([]*common.ChangeEvent, error) {
	var note s3Notification
	if err := json.Unmarshal(body, &note); err != nil {
		return nil, fmt.Errorf("failed to decode notification: %w", err)
	}
	if len(note.Records) == 0 {
		return nil, fmt.Errorf("notification carries no records")
	}

	var events []*common.ChangeEvent
	for _, rec := range note.Records {
		var eventType common.EventType
		switch {
		case strings.HasPrefix(rec.EventName, "ObjectCreated"):
			eventType = common.EventCreated
		case strings.HasPrefix(rec.EventName, "ObjectRemoved"):
			eventType = common.EventRemoved
		default:
			continue
		}

		// Object keys arrive URL-encoded with '+' for spaces
		key, err := url.QueryUnescape(rec.S3.Object.Key)
		if err != nil {
			return nil, fmt.Errorf("failed to decode object key %q: %w", rec.S3.Object.Key, err)
		}

		event := &common.ChangeEvent{
			SourceContainer: rec.S3.Bucket.Name,
			ObjectKey:       key,
			ObjectVersion:   rec.S3.Object.VersionID,
			Size:            rec.S3.Object.Size,
			EventTime:       rec.EventTime,
			EventType:       eventType,
		}
		if err := event.Validate(); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}
