package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestGradingEventPublisherUsesStateSubjects(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer redisClient.Close()

	ctx := context.Background()
	sub := redisClient.Subscribe(ctx, "gema.grading.completed", "gema.grading.failed")
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	publisher := NewGradingEventPublisher(nil, redisClient, "", testLogger())
	require.NoError(t, publisher.Publish(ctx, GradingEvent{SubmissionID: 3, State: OutcomeGraded, Score: floatPtr(8)}))
	require.NoError(t, publisher.Publish(ctx, GradingEvent{SubmissionID: 4, State: OutcomeFailed, Reason: ReasonNotAPDF}))

	receiveCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	first, err := sub.ReceiveMessage(receiveCtx)
	require.NoError(t, err)
	require.Equal(t, "gema.grading.completed", first.Channel)

	var event GradingEvent
	require.NoError(t, json.Unmarshal([]byte(first.Payload), &event))
	require.Equal(t, uint(3), event.SubmissionID)
	require.False(t, event.OccurredAt.IsZero())

	second, err := sub.ReceiveMessage(receiveCtx)
	require.NoError(t, err)
	require.Equal(t, "gema.grading.failed", second.Channel)
}

func TestGradingEventPublisherWithoutTransports(t *testing.T) {
	publisher := NewGradingEventPublisher(nil, nil, "custom.subject.", testLogger())
	require.NoError(t, publisher.Publish(context.Background(), GradingEvent{SubmissionID: 1, State: OutcomeGraded}))
}
