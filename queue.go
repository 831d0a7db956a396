/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package intake

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/blnkfinance/intake/config"
	redis_db "github.com/blnkfinance/intake/internal/redis-db"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// Queue represents a queue for handling import processing tasks.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
	name      string
	maxRetry  int
}

// ImportTaskPayload is the body of an import processing task.
type ImportTaskPayload struct {
	BatchID string `json:"batch_id"`
}

// NewQueue initializes a new Queue instance with the provided configuration.
//
// Parameters:
// - conf *config.Configuration: The configuration for the queue.
//
// Returns:
// - *Queue: A pointer to the newly created Queue instance.
// - error: An error if the Redis address could not be parsed.
func NewQueue(conf *config.Configuration) (*Queue, error) {
	queueOptions, err := redis_db.AsynqOption(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, err
	}

	return &Queue{
		Client:    asynq.NewClient(queueOptions),
		Inspector: asynq.NewInspector(queueOptions),
		name:      conf.Queue.ImportQueue,
		maxRetry:  conf.Queue.MaxRetryAttempts,
	}, nil
}

// EnqueueImport enqueues a batch for processing by the workers. The batch id
// doubles as the task id, so a batch that is already queued is not queued twice.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - batchID string: The batch to process.
//
// Returns:
// - error: An error if the task could not be enqueued.
func (q *Queue) EnqueueImport(ctx context.Context, batchID string) error {
	ctx, span := tracer.Start(ctx, "Adding Import Batch To Queue")
	defer span.End()

	payload, err := json.Marshal(ImportTaskPayload{BatchID: batchID})
	if err != nil {
		return err
	}

	task := asynq.NewTask(q.name, payload,
		asynq.TaskID(batchID),
		asynq.Queue(q.name),
		asynq.MaxRetry(q.maxRetry),
	)
	info, err := q.Client.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		logrus.WithField("batch_id", batchID).Info("import batch already queued")
		return nil
	}
	if err != nil {
		logrus.WithError(err).WithField("info", info).Error("enqueueing import batch")
		return err
	}

	logrus.WithField("batch_id", batchID).Info(" [*] Successfully enqueued import batch")
	return nil
}

// ParseImportTask decodes the payload of an import task.
func ParseImportTask(t *asynq.Task) (ImportTaskPayload, error) {
	var payload ImportTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return payload, err
	}
	if payload.BatchID == "" {
		return payload, errors.New("import task has no batch id")
	}
	return payload, nil
}

// Close releases the queue's Redis connections.
func (q *Queue) Close() error {
	return errors.Join(q.Client.Close(), q.Inspector.Close())
}
