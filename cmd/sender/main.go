package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Priya8975/webhook-ingest-service/internal/router"
	"github.com/Priya8975/webhook-ingest-service/internal/sender"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	url := flag.String("url", "http://localhost:8080/webhooks/swipesblue", "receiver URL")
	secret := flag.String("secret", os.Getenv("WEBHOOK_SECRET"), "shared HMAC secret")
	eventType := flag.String("event", string(router.PaymentSuccess), "event type to send, or \"all\"")
	ref := flag.String("ref", strconv.FormatInt(time.Now().Unix(), 10), "suffix for generated ids")
	repeat := flag.Int("repeat", 1, "times to deliver each event (redeliveries reuse the same id)")
	platform := flag.String("platform", "swipesblue", "platform name put in the payload")
	flag.Parse()

	if *secret == "" {
		logger.Error("no secret: pass -secret or set WEBHOOK_SECRET")
		os.Exit(1)
	}

	types := []string{*eventType}
	if *eventType == "all" {
		types = types[:0]
		for _, t := range router.EventTypes {
			types = append(types, string(t))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := sender.NewClient(*url, *secret, *platform, logger)
	failed := false
	for _, t := range types {
		data, err := sender.SampleData(t, *ref)
		if err != nil {
			logger.Error("building payload", "error", err)
			os.Exit(1)
		}
		ev := client.NewEvent(t, data)

		for i := 0; i < *repeat; i++ {
			res, err := client.Send(ctx, ev)
			if err != nil {
				logger.Error("send failed", "event_type", t, "attempt", i+1, "error", err)
				failed = true
				continue
			}
			if res.StatusCode >= 300 {
				logger.Warn("receiver rejected event", "event_type", t, "status_code", res.StatusCode, "body", res.Body)
				failed = true
			}
		}
	}

	if failed {
		os.Exit(1)
	}
}
