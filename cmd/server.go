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
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blnkfinance/intake/api"
	"github.com/blnkfinance/intake/config"
	trace "github.com/blnkfinance/intake/internal/traces"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.elastic.co/apm/module/apmlogrus/v2"
)

func initializeRouter(b *intakeInstance) *gin.Engine {
	return api.NewAPI(b.intake).Router()
}

// initializeTracing installs the tracer provider for this process and, when
// asked, forwards error logs to Elastic APM.
func initializeTracing(ctx context.Context, cfg *config.Configuration) (trace.ShutdownFunc, error) {
	serviceName := cfg.ProjectName
	if serviceName == "" {
		serviceName = "INTAKE"
	}
	shutdown, err := trace.SetupOTelSDK(ctx, serviceName, cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("error setting up OTel SDK: %v", err)
	}
	if cfg.Tracing.ElasticAPM {
		logrus.AddHook(&apmlogrus.Hook{})
	}
	return shutdown, nil
}

// flushTracing gives buffered spans a few seconds to leave the process.
func flushTracing(shutdown trace.ShutdownFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		log.Printf("Error during trace shutdown: %v", err)
	}
}

// startServer serves router until ctx is cancelled, then drains in-flight
// requests for up to 30 seconds.
func startServer(ctx context.Context, router *gin.Engine, cfg config.ServerConfig) error {
	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting server on http://localhost:%s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// serverCommands returns the command that starts the HTTP API.
func serverCommands(b *intakeInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "start intake server",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			shutdown, err := initializeTracing(ctx, b.cnf)
			if err != nil {
				log.Fatal(err)
			}
			defer flushTracing(shutdown)

			router := initializeRouter(b)
			if err := startServer(ctx, router, b.cnf.Server); err != nil {
				log.Fatal(err)
			}
			if b.queue != nil {
				_ = b.queue.Close()
			}
		},
	}

	return cmd
}
