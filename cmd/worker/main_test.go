package main

import (
	"context"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

func TestDetachedOutlivesShutdownSignal(t *testing.T) {
	parent, stop := context.WithCancel(context.Background())
	stop()

	ctx, cancel := detached(parent, time.Minute)
	defer cancel()

	if err := ctx.Err(); err != nil {
		t.Fatalf("retry context cancelled with the signal context: %v", err)
	}
	deadline, ok := ctx.Deadline()
	if !ok || time.Until(deadline) > time.Minute {
		t.Fatalf("expected a bounded deadline, got %v %v", deadline, ok)
	}
}

func TestAttemptsOf(t *testing.T) {
	cases := []struct {
		name    string
		headers amqp.Table
		want    int
	}{
		{"first delivery", nil, 0},
		{"int32 header", amqp.Table{attemptsHdr: int32(3)}, 3},
		{"int64 header", amqp.Table{attemptsHdr: int64(4)}, 4},
		{"wrong type", amqp.Table{attemptsHdr: "2"}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := attemptsOf(amqp.Delivery{Headers: tc.headers}); got != tc.want {
				t.Fatalf("attempts = %d, want %d", got, tc.want)
			}
		})
	}
}
