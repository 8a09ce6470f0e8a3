package main

import (
	"fmt"
	"net/http"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/hypermusic-ai/dcn-sdk/dcntest"
)

var (
	mockAddr     string
	mockRedisURL string

	mockCmd = &cobra.Command{
		Use:   "mock",
		Short: "Run a local stub of the DCN API",
		Long:  "Run an in-process DCN API stub for development. By default state is\nin-memory and auth events go to an in-process channel; with --redis-url\nthe stub keeps auth state in Redis and publishes events to Redis streams.",
		Args:  cobra.NoArgs,
		RunE:  runMock,
	}
)

func init() {
	mockCmd.Flags().StringVar(&mockAddr, "addr", ":9000", "listen address")
	mockCmd.Flags().StringVar(&mockRedisURL, "redis-url", "", "redis URL for auth state and events")
	rootCmd.AddCommand(mockCmd)
}

func runMock(cmd *cobra.Command, args []string) error {
	wmLogger := watermill.NewStdLogger(false, false)

	var opts []dcntest.Option
	if mockRedisURL != "" {
		redisOpts, err := redis.ParseURL(mockRedisURL)
		if err != nil {
			return fmt.Errorf("parse redis URL: %w", err)
		}
		redisClient := redis.NewClient(redisOpts)

		publisher, err := redisstream.NewPublisher(redisstream.PublisherConfig{Client: redisClient}, wmLogger)
		if err != nil {
			return fmt.Errorf("create redis publisher: %w", err)
		}

		opts = append(opts,
			dcntest.WithStore(dcntest.NewRedisStore(redisClient)),
			dcntest.WithPublisher(publisher),
		)
		logger.Info("mock state backed by redis", "url", mockRedisURL)
	} else {
		opts = append(opts, dcntest.WithPublisher(gochannel.NewGoChannel(gochannel.Config{}, wmLogger)))
	}

	server, err := dcntest.New(opts...)
	if err != nil {
		return err
	}

	logger.Info("mock DCN API listening", "addr", mockAddr)
	return http.ListenAndServe(mockAddr, server.Handler())
}
