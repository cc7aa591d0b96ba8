package collector

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/krystianbajno/breachhunter/internal/bus"
	"github.com/krystianbajno/breachhunter/internal/scrap"
)

type fakePublisher struct {
	mu        sync.Mutex
	published []bus.ScrapEnvelope
}

func (f *fakePublisher) PublishScrap(_ context.Context, env bus.ScrapEnvelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, env)
	return nil
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

type noCompletion struct{}

func (noCompletion) GetMany(ctx context.Context, timeout time.Duration, max int) ([]bus.Delivery, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type passthroughStaging struct{}

func (passthroughStaging) Stage(_ context.Context, sc scrap.Scrap) (string, string, error) {
	return sc.FilePath, "", nil
}

func TestHandleScrapDedupsSameHashWithinOneCollect(t *testing.T) {
	publisher := &fakePublisher{}
	stage := New(nil, publisher, noCompletion{}, passthroughStaging{}, Config{}, zap.NewNop())

	sc := scrap.Scrap{Hash: "dup-hash", Source: "local", Filename: "a.txt", FilePath: "/tmp/a.txt"}

	stage.handleScrap(context.Background(), sc)
	stage.handleScrap(context.Background(), sc)

	require.Equal(t, 1, publisher.count())
	require.Equal(t, 1, stage.InFlightCount())
}

func TestHandleScrapDropsScrapWithoutHash(t *testing.T) {
	publisher := &fakePublisher{}
	stage := New(nil, publisher, noCompletion{}, passthroughStaging{}, Config{}, zap.NewNop())

	stage.handleScrap(context.Background(), scrap.Scrap{Source: "local", Filename: "a.txt"})

	require.Equal(t, 0, publisher.count())
	require.Equal(t, 0, stage.InFlightCount())
}

func TestHandleCompletionReleasesInFlightHash(t *testing.T) {
	publisher := &fakePublisher{}
	stage := New(nil, publisher, noCompletion{}, passthroughStaging{}, Config{}, zap.NewNop())

	sc := scrap.Scrap{Hash: "released-hash", Source: "local", Filename: "a.txt", FilePath: "/tmp/a.txt"}
	stage.handleScrap(context.Background(), sc)
	require.Equal(t, 1, stage.InFlightCount())

	env := bus.CompletionEnvelope{ScrapID: 1, Hash: "released-hash", Status: string(scrap.StateProcessed)}
	body, err := json.Marshal(env)
	require.NoError(t, err)

	acked := false
	delivery := bus.NewDelivery(body, func() error { acked = true; return nil }, func(bool) error { return nil })
	stage.handleCompletion(delivery)

	require.True(t, acked)
	require.Equal(t, 0, stage.InFlightCount())
}

func TestHandleCompletionIgnoresUnknownHash(t *testing.T) {
	publisher := &fakePublisher{}
	stage := New(nil, publisher, noCompletion{}, passthroughStaging{}, Config{}, zap.NewNop())

	env := bus.CompletionEnvelope{ScrapID: 1, Hash: "never-seen", Status: string(scrap.StateProcessed)}
	body, err := json.Marshal(env)
	require.NoError(t, err)

	delivery := bus.NewDelivery(body, func() error { return nil }, func(bool) error { return nil })
	stage.handleCompletion(delivery)

	require.Equal(t, 0, stage.InFlightCount())
}
