package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jogardn/creperie/internal/events"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	_ = godotenv.Load()

	brokers := strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ",")
	replay, err := strconv.ParseBool(getEnv("DLQ_REPLAY", "false"))
	if err != nil {
		logger.WithError(err).Fatal("Invalid DLQ_REPLAY")
	}
	delay, err := time.ParseDuration(getEnv("DLQ_REPLAY_DELAY", "30s"))
	if err != nil {
		logger.WithError(err).Fatal("Invalid DLQ_REPLAY_DELAY")
	}
	maxReplays, err := strconv.Atoi(getEnv("DLQ_MAX_REPLAYS", "6"))
	if err != nil {
		logger.WithError(err).Fatal("Invalid DLQ_MAX_REPLAYS")
	}

	monitor, err := events.NewDLQMonitor(brokers, events.DLQMonitorConfig{
		Replay:      replay,
		ReplayDelay: delay,
		MaxReplays:  maxReplays,
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create DLQ monitor")
	}
	defer monitor.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logger.WithFields(logrus.Fields(monitor.Stats())).Info("DLQ monitor stats")
			}
		}
	}()

	logger.WithFields(logrus.Fields{
		"topic":  events.DLQTopic,
		"replay": replay,
	}).Info("DLQ Monitor started")

	if err := monitor.Run(ctx); err != nil {
		logger.WithError(err).Error("DLQ monitor stopped")
	}

	logger.WithFields(logrus.Fields(monitor.Stats())).Info("Shutting down DLQ monitor...")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
