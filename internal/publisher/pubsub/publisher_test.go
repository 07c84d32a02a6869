package pubsub

import (
	"context"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func TestPublishToFakeServer(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = client.CreateTopic(ctx, "imagery")
	require.NoError(t, err)

	pub := New(client)
	t.Cleanup(pub.Close)

	id, err := pub.Publish(ctx, "imagery", map[string]any{"event": "imagery.stored", "heading": 90})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.JSONEq(t, `{"event":"imagery.stored","heading":90}`, string(msgs[0].Data))
}

func TestPublishValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Publish(context.Background(), "imagery", "x")
	require.Error(t, err)

	pub := &Publisher{client: &pubsub.Client{}, topics: map[string]*pubsub.Topic{}}
	_, err = pub.Publish(context.Background(), "", "x")
	require.Error(t, err)

	_, err = pub.Publish(context.Background(), "imagery", func() {})
	require.Error(t, err, "unmarshalable payloads are rejected before publishing")
}

func TestCarrier(t *testing.T) {
	t.Parallel()

	c := &pubsubCarrier{attrs: map[string]string{}}
	c.Set("traceparent", "00-abc-def-01")
	require.Equal(t, "00-abc-def-01", c.Get("traceparent"))
	require.Equal(t, []string{"traceparent"}, c.Keys())
}
