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
	"fmt"
	"log"
	"os"

	"github.com/blnkfinance/intake"
	"github.com/blnkfinance/intake/config"
	"github.com/blnkfinance/intake/database"
	"github.com/blnkfinance/intake/internal/notification"
	"github.com/blnkfinance/intake/internal/objectstore"
	redis_db "github.com/blnkfinance/intake/internal/redis-db"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Intake represents the CLI application, encapsulating the root Cobra command.
type Intake struct {
	cmd *cobra.Command
}

// intakeInstance holds the pipeline and the configuration it was built from.
type intakeInstance struct {
	intake *intake.Intake
	queue  *intake.Queue
	cnf    *config.Configuration
}

// recoverPanic handles any panics during program execution and logs the error using Logrus.
func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and builds the pipeline before any command runs.
func preRun(app *intakeInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig(*configFile)
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		// migrate and config only need the configuration.
		if cmd.Name() == "up" || cmd.Name() == "down" || cmd.Name() == "config" {
			app.cnf = cnf
			return nil
		}

		newIntake, queue, err := setupIntake(cnf)
		if err != nil {
			notification.NotifyError(err, map[string]string{"command": cmd.Name()})
			log.Fatal(err)
		}

		app.intake = newIntake
		app.queue = queue
		app.cnf = cnf
		return nil
	}
}

// setupIntake wires the datasource, object store and, when Redis is
// configured, the queue, entity cache and locks.
func setupIntake(cfg *config.Configuration) (*intake.Intake, *intake.Queue, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("error getting datasource: %v", err)
	}

	store, err := objectstore.New(cfg.ObjectStore)
	if err != nil {
		return nil, nil, fmt.Errorf("error creating object store: %v", err)
	}

	var opts []intake.Option
	var queue *intake.Queue
	if cfg.Redis.Dns != "" {
		redisClient, err := redis_db.NewRedisClient([]string{cfg.Redis.Dns}, cfg.Redis.SkipTLSVerify)
		if err != nil {
			return nil, nil, fmt.Errorf("error connecting to redis: %v", err)
		}
		queue, err = intake.NewQueue(cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("error creating queue: %v", err)
		}
		opts = append(opts, intake.WithRedis(redisClient.Client()), intake.WithQueue(queue))
	}

	newIntake, err := intake.NewIntake(db, store, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("error creating intake: %v", err)
	}
	return newIntake, queue, nil
}

// NewCLI creates the command-line interface with the server, workers,
// migrate, import and config subcommands.
func NewCLI() *Intake {
	var configFile string
	b := &intakeInstance{}

	var rootCmd = &cobra.Command{
		Use:   "intake",
		Short: "Bulk import pipeline for fleet payments, fines, balances and customers",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./intake.json", "Configuration file for intake")
	rootCmd.PersistentPreRunE = preRun(b, &configFile)

	rootCmd.AddCommand(serverCommands(b))
	rootCmd.AddCommand(workerCommands(b))
	rootCmd.AddCommand(migrateCommands(b))
	rootCmd.AddCommand(importCommands(b))
	rootCmd.AddCommand(configCommands())

	return &Intake{cmd: rootCmd}
}

func (w Intake) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
