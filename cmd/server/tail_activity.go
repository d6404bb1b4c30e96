package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/codecanvas-io/collab/internal/config"
	"github.com/codecanvas-io/collab/internal/infra/logger"
	mq "github.com/codecanvas-io/collab/internal/infra/queue"
	"github.com/codecanvas-io/collab/internal/modules/service"
)

var tailProject string

var tailActivityCmd = &cobra.Command{
	Use:   "tail-activity",
	Short: "Print activity events as they are published to RabbitMQ",
	Long: `Bind a private queue to the activity exchange and print every file
create, delete and rename event. Requires rabbitmq.enabled on the servers.`,
	RunE: runTailActivity,
}

func init() {
	tailActivityCmd.Flags().StringVar(&tailProject, "project", "", "only show events of this project id")
}

func runTailActivity(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log.Level, cfg.App.Env)
	if err != nil {
		return err
	}

	conn, err := mq.NewDialFunc(cfg)()
	if err != nil {
		return fmt.Errorf("connect rabbitmq: %w", err)
	}
	defer conn.Close()

	consumer, err := mq.NewConsumer(conn, cfg.RabbitMQ.Exchange, "activity.#", log)
	if err != nil {
		return err
	}
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	err = consumer.Handle(ctx, func(_ context.Context, routingKey string, body []byte) error {
		var msg service.ActivityMessage
		if err := sonic.Unmarshal(body, &msg); err != nil {
			// requeueing a bad body would loop forever
			log.Sugar().Warnw("skip undecodable activity", "routing_key", routingKey, "err", err)
			return nil
		}
		if tailProject != "" && msg.ProjectID.String() != tailProject {
			return nil
		}
		fmt.Fprintf(out, "%s %s project=%s details=%v\n",
			msg.CreatedAt.Format("2006-01-02T15:04:05Z07:00"), msg.Kind, msg.ProjectID, msg.Details)
		return nil
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
