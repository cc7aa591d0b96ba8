package processing

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/krystianbajno/breachhunter/internal/bus"
	"github.com/krystianbajno/breachhunter/internal/plugin"
	"github.com/krystianbajno/breachhunter/internal/scrap"
)

type fakeCompletionPublisher struct {
	mu        sync.Mutex
	published []bus.CompletionEnvelope
}

func (f *fakeCompletionPublisher) PublishCompletion(_ context.Context, env bus.CompletionEnvelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, env)
	return nil
}

func (f *fakeCompletionPublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

type noScrapConsumer struct{}

func (noScrapConsumer) GetMany(ctx context.Context, timeout time.Duration, max int) ([]bus.Delivery, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type fakeProcessor struct {
	source string
	id     int64
	err    error
}

func (p *fakeProcessor) CanProcess(sc scrap.Scrap) bool { return sc.Source == p.source }

func (p *fakeProcessor) Process(ctx context.Context, sc scrap.Scrap) (int64, error) {
	return p.id, p.err
}

func newTestDelivery(t *testing.T, sc scrap.Scrap, ack, nack *int) bus.Delivery {
	t.Helper()
	body, err := sc.ToJSON()
	require.NoError(t, err)
	env := bus.ScrapEnvelope{ScrapData: string(body), MountedPath: sc.FilePath}
	envBody, err := json.Marshal(env)
	require.NoError(t, err)

	return bus.NewDelivery(envBody,
		func() error { *ack++; return nil },
		func(bool) error { *nack++; return nil })
}

func TestProcessWithSemaphoreRunsApplicableProcessorsAndPublishesCompletion(t *testing.T) {
	completion := &fakeCompletionPublisher{}
	applicable := &fakeProcessor{source: "local", id: 42}
	skipped := &fakeProcessor{source: "other", id: 99}
	stage := New([]plugin.Processor{applicable, skipped}, noScrapConsumer{}, completion, Config{}, zap.NewNop())

	sc := scrap.Scrap{Hash: "hash-1", Source: "local", Filename: "a.txt", FilePath: "/tmp/a.txt"}

	err := stage.processWithSemaphore(context.Background(), sc)
	require.NoError(t, err)
	require.Equal(t, 1, completion.count())
	require.Equal(t, int64(42), completion.published[0].ScrapID)
	require.Equal(t, "PROCESSED", completion.published[0].Status)
	require.Equal(t, 0, stage.InFlightCount())
}

func TestProcessWithSemaphoreProcessorErrorSkipsCompletion(t *testing.T) {
	completion := &fakeCompletionPublisher{}
	failing := &fakeProcessor{source: "local", id: 1, err: errBoom}
	stage := New([]plugin.Processor{failing}, noScrapConsumer{}, completion, Config{}, zap.NewNop())

	sc := scrap.Scrap{Hash: "hash-2", Source: "local", Filename: "a.txt", FilePath: "/tmp/a.txt"}

	err := stage.processWithSemaphore(context.Background(), sc)
	require.NoError(t, err)
	require.Equal(t, 0, completion.count())
}

func TestHandleDeliveryNacksAlreadyInFlightHash(t *testing.T) {
	completion := &fakeCompletionPublisher{}
	processor := &fakeProcessor{source: "local", id: 1}
	stage := New([]plugin.Processor{processor}, noScrapConsumer{}, completion, Config{}, zap.NewNop())

	sc := scrap.Scrap{Hash: "busy-hash", Source: "local", Filename: "a.txt", FilePath: "/tmp/a.txt"}
	stage.mu.Lock()
	stage.inFlight[sc.Hash] = struct{}{}
	stage.mu.Unlock()

	var ack, nack int
	delivery := newTestDelivery(t, sc, &ack, &nack)

	stage.handleDelivery(context.Background(), delivery)

	require.Equal(t, 0, ack)
	require.Equal(t, 1, nack)
	require.Equal(t, 0, completion.count())
}

var errBoom = errors.New("boom")
