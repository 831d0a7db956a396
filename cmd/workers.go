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

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/blnkfinance/intake"
	"github.com/blnkfinance/intake/config"
	"github.com/blnkfinance/intake/internal/apierror"
	redis_db "github.com/blnkfinance/intake/internal/redis-db"
)

// processImport runs one queued batch. A batch that was already claimed or
// no longer exists is not retried; the batch status already says how it
// ended.
func (b *intakeInstance) processImport(ctx context.Context, t *asynq.Task) error {
	ctx, span := otel.Tracer("intake.imports.worker").Start(ctx, "Process Import Batch From Redis Queue")
	defer span.End()

	payload, err := intake.ParseImportTask(t)
	if err != nil {
		logrus.Error(err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	status, err := b.intake.ProcessImport(ctx, payload.BatchID)
	if err != nil {
		if errors.Is(err, intake.ErrInvalidTransition) || apierror.HasCode(err, apierror.ErrNotFound) {
			logrus.WithError(err).WithField("batch_id", payload.BatchID).Warn("skipping import task")
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		if status != nil {
			// The batch has reached error and cannot be claimed again.
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}

	logrus.WithFields(logrus.Fields{
		"batch_id":          status.BatchID,
		"records_processed": status.RecordsProcessed,
		"failed_count":      status.FailedCount,
	}).Info(" [*] Import Batch Processed")
	return nil
}

func initializeQueues(conf *config.Configuration) map[string]int {
	return map[string]int{conf.Queue.ImportQueue: 1}
}

func initializeWorkerServer(conf *config.Configuration, queues map[string]int) (*asynq.Server, error) {
	redisOption, err := redis_db.AsynqOption(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynq.NewServer(redisOption, asynq.Config{
		Concurrency: conf.Queue.Concurrency,
		Queues:      queues,
	}), nil
}

// initializeMonitoring builds the asynqmon dashboard for the import queue,
// served under /monitoring.
func initializeMonitoring(conf *config.Configuration) (http.Handler, error) {
	redisOption, err := redis_db.AsynqOption(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynqmon.New(asynqmon.Options{
		RootPath:     "/monitoring",
		RedisConnOpt: redisOption,
	}), nil
}

func initializeTaskHandlers(b *intakeInstance, mux *asynq.ServeMux) {
	mux.HandleFunc(b.cnf.Queue.ImportQueue, b.processImport)
}

// workerCommands defines the "workers" command that consumes queued import batches.
func workerCommands(b *intakeInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start intake workers",
		Run: func(cmd *cobra.Command, args []string) {
			if b.cnf.Redis.Dns == "" {
				log.Fatal("workers need redis. set redis.dns in your config")
			}

			shutdown, err := initializeTracing(context.Background(), b.cnf)
			if err != nil {
				log.Fatal(err)
			}
			defer flushTracing(shutdown)

			srv, err := initializeWorkerServer(b.cnf, initializeQueues(b.cnf))
			if err != nil {
				log.Fatal(err)
			}

			mux := asynq.NewServeMux()
			initializeTaskHandlers(b, mux)

			if port := b.cnf.Queue.MonitoringPort; port != "" {
				h, err := initializeMonitoring(b.cnf)
				if err != nil {
					log.Fatal(err)
				}
				go func() {
					log.Printf("Asynqmon server listening on :%s/monitoring", port)
					if err := http.ListenAndServe(":"+port, h); err != nil {
						log.Fatalf("could not start asynqmon server: %v", err)
					}
				}()
			}

			if err := srv.Run(mux); err != nil {
				log.Fatalf("could not run server: %v", err)
			}
		},
	}

	return cmd
}
