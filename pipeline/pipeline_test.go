package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgconn"
	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/velmie/idempo/memory"
	"go.uber.org/mock/gomock"

	"github.com/velmie/consume"
	"github.com/velmie/consume/config"
	"github.com/velmie/consume/correlation"
	"github.com/velmie/consume/dedup"
	mock_dedup "github.com/velmie/consume/dedup/mock"
	mock_consume "github.com/velmie/consume/mock"
	"github.com/velmie/consume/naming"
	"github.com/velmie/consume/pipeline"
)

type requestContext struct {
	UserID  string `json:"userId"`
	Retries int    `json:"retries"`
}

func (c *requestContext) SetRetries(n int) {
	c.Retries = n
}

func newConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Dedup = config.Dedup{
		Enabled:              true,
		Backend:              "memory",
		MessageExpirySeconds: 60,
		MissingIDPolicy:      "fail-open",
	}
	cfg.Context = config.Context{
		Enabled:       true,
		Header:        correlation.DefaultHeaderName,
		OnDecodeError: "fail",
	}
	cfg.Log.Level = "error"
	cfg.NATS.Bucket = "consume_dedup"
	cfg.Postgres.Table = "consume_dedup"
	return cfg
}

func newPipeline(t *testing.T, cfg *config.Config, opts ...pipeline.Option) *pipeline.Pipeline[requestContext] {
	t.Helper()
	opts = append([]pipeline.Option{pipeline.WithLogger(consume.NopLogger{})}, opts...)
	p, err := pipeline.New[requestContext](context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func newEvent(ctrl *gomock.Controller, msg *consume.Message) *mock_consume.MockEvent {
	event := mock_consume.NewMockEvent(ctrl)
	event.EXPECT().Message().Return(msg).AnyTimes()
	event.EXPECT().Topic().Return("orders").AnyTimes()
	return event
}

func delivery(id string) *consume.Message {
	return &consume.Message{
		ID: id,
		Header: consume.Header{
			correlation.DefaultHeaderName: `{"userId":"u-1","retries":0}`,
			consume.HdrRetryCount:         "2",
		},
	}
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := pipeline.New[requestContext](context.Background(), nil)
	assert.Error(t, err)

	cfg := newConfig()
	cfg.Dedup.MessageExpirySeconds = 0
	_, err = pipeline.New[requestContext](context.Background(), cfg, pipeline.WithLogger(consume.NopLogger{}))
	assert.Error(t, err)
}

func TestNewUnknownBackend(t *testing.T) {
	cfg := newConfig()
	cfg.Dedup.Backend = "dynamodb"

	_, err := pipeline.New[requestContext](context.Background(), cfg, pipeline.WithLogger(consume.NopLogger{}))

	var unknown *pipeline.UnknownBackendError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "dynamodb", unknown.Kind)
}

func TestDisabledStagesAreLeftOut(t *testing.T) {
	cfg := newConfig()
	cfg.Dedup.Enabled = false
	cfg.Context.Enabled = false

	p := newPipeline(t, cfg)

	assert.Equal(t, dedup.Disabled{}, p.Backend())
	assert.Nil(t, p.Codec())
	// panic recovery and retry
	assert.Len(t, p.Middleware(), 2)

	p = newPipeline(t, cfg, pipeline.WithPanicRecovery(false))
	assert.Len(t, p.Middleware(), 1)
}

func TestPipelineEndToEnd(t *testing.T) {
	ctrl := gomock.NewController(t)
	p := newPipeline(t, newConfig())

	var published []*consume.Message
	pub := p.Publisher(consume.PublisherFunc(func(_ string, m *consume.Message) error {
		published = append(published, m)
		return nil
	}))

	calls := 0
	h := p.Wrap(correlation.Handler(func(ctx context.Context, _ consume.Event, c *requestContext) error {
		calls++
		assert.Equal(t, "u-1", c.UserID)
		assert.Equal(t, 2, c.Retries)

		out := consume.NewMessage()
		out.SetContext(ctx)
		return pub.Publish("replies", out)
	}))

	require.NoError(t, h(newEvent(ctrl, delivery("m-1"))))
	require.NoError(t, h(newEvent(ctrl, delivery("m-1"))))
	assert.Equal(t, 1, calls, "a redelivered id must not reach the handler")

	require.Len(t, published, 1)
	var got requestContext
	require.NoError(t, json.Unmarshal([]byte(published[0].Header.Get(correlation.DefaultHeaderName)), &got))
	assert.Equal(t, requestContext{UserID: "u-1", Retries: 2}, got)
}

func TestPipelineHandlerErrorAllowsRedelivery(t *testing.T) {
	ctrl := gomock.NewController(t)
	p := newPipeline(t, newConfig())

	boom := errors.New("boom")
	calls := 0
	h := p.Wrap(func(consume.Event) error {
		calls++
		if calls == 1 {
			return boom
		}
		return nil
	})

	assert.ErrorIs(t, h(newEvent(ctrl, delivery("m-1"))), boom)
	require.NoError(t, h(newEvent(ctrl, delivery("m-1"))))
	assert.Equal(t, 2, calls)
}

func TestPipelinePanicIsRecoveredAndReleased(t *testing.T) {
	ctrl := gomock.NewController(t)
	p := newPipeline(t, newConfig())

	calls := 0
	h := p.Wrap(func(consume.Event) error {
		calls++
		if calls == 1 {
			panic("kaboom")
		}
		return nil
	})

	err := h(newEvent(ctrl, delivery("m-1")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")

	require.NoError(t, h(newEvent(ctrl, delivery("m-1"))))
	assert.Equal(t, 2, calls)
}

func TestPipelineDecodeErrorFailsDelivery(t *testing.T) {
	ctrl := gomock.NewController(t)
	p := newPipeline(t, newConfig())

	msg := delivery("m-1")
	msg.Header.Set(correlation.DefaultHeaderName, "{not json")

	called := false
	err := p.Wrap(func(consume.Event) error {
		called = true
		return nil
	})(newEvent(ctrl, msg))

	assert.ErrorIs(t, err, correlation.ErrContextDecode)
	assert.False(t, called)
}

func TestPipelineDecodeErrorUsesDefault(t *testing.T) {
	ctrl := gomock.NewController(t)
	cfg := newConfig()
	cfg.Context.OnDecodeError = "default"
	p := newPipeline(t, cfg)

	msg := delivery("m-1")
	msg.Header.Set(correlation.DefaultHeaderName, "{not json")

	var seen *requestContext
	err := p.Wrap(correlation.Handler(func(_ context.Context, _ consume.Event, c *requestContext) error {
		seen = c
		return nil
	}))(newEvent(ctrl, msg))

	require.NoError(t, err)
	assert.Equal(t, &requestContext{Retries: 2}, seen)
}

func TestPipelineCustomHeaderName(t *testing.T) {
	cfg := newConfig()
	cfg.Context.Header = "x-ctx"
	p := newPipeline(t, cfg)

	assert.Equal(t, "x-ctx", p.Codec().HeaderName())
}

type refundIssued struct{}

func TestPipelineNames(t *testing.T) {
	cfg := newConfig()
	cfg.Naming = config.Naming{
		DefaultNamespace: "payments",
		ApplicationID:    "billing",
		Overrides:        map[string]naming.Override{"refundIssued": {Key: "refund"}},
	}
	p := newPipeline(t, cfg)

	assert.Equal(t, "payments", p.Names().Exchange(refundIssued{}))
	assert.Equal(t, "payments.refund", p.Names().RoutingKey(refundIssued{}))
	assert.Equal(t, "billing/payments.refund", p.Names().QueueName(refundIssued{}))
}

func TestPipelineSharedBackendWithClient(t *testing.T) {
	ctrl := gomock.NewController(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := newConfig()
	cfg.Dedup.Backend = "redis"
	cfg.Dedup.KeyPrefix = "svc:"

	var mu sync.Mutex
	calls := 0
	handler := func(consume.Event) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	}

	// two instances sharing one Redis
	first := newPipeline(t, cfg, pipeline.WithRedis(client)).Wrap(handler)
	second := newPipeline(t, cfg, pipeline.WithRedis(client)).Wrap(handler)

	require.NoError(t, first(newEvent(ctrl, delivery("m-1"))))
	require.NoError(t, second(newEvent(ctrl, delivery("m-1"))))

	assert.Equal(t, 1, calls)
	assert.True(t, mr.Exists("consume:dedup:svc:m-1"))
}

func TestPipelineSharedBackendFromConfig(t *testing.T) {
	ctrl := gomock.NewController(t)
	mr := miniredis.RunT(t)

	cfg := newConfig()
	cfg.Dedup.Backend = config.BackendShared
	cfg.Redis.Addr = mr.Addr()

	p, err := pipeline.New[requestContext](context.Background(), cfg, pipeline.WithLogger(consume.NopLogger{}))
	require.NoError(t, err)

	require.NoError(t, p.Wrap(func(consume.Event) error { return nil })(newEvent(ctrl, delivery("m-1"))))
	assert.True(t, mr.Exists("consume:dedup:m-1"))
	assert.NoError(t, p.Close())
}

func TestPipelineSharedBackendUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := newConfig()
	cfg.Dedup.Backend = config.BackendShared
	cfg.Redis.Addr = addr

	_, err := pipeline.New[requestContext](context.Background(), cfg, pipeline.WithLogger(consume.NopLogger{}))
	assert.ErrorIs(t, err, dedup.ErrBackendUnavailable)
}

func TestPipelineNATSBackendFromConfig(t *testing.T) {
	ctrl := gomock.NewController(t)
	opts := natsserver.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	s := natsserver.RunServer(&opts)
	t.Cleanup(s.Shutdown)

	cfg := newConfig()
	cfg.Dedup.Backend = config.BackendNATS
	cfg.NATS.URL = s.ClientURL()

	p := newPipeline(t, cfg)

	calls := 0
	h := p.Wrap(func(consume.Event) error {
		calls++
		return nil
	})
	require.NoError(t, h(newEvent(ctrl, delivery("m-1"))))
	require.NoError(t, h(newEvent(ctrl, delivery("m-1"))))
	assert.Equal(t, 1, calls)
}

type recordingDB struct {
	statements []string
}

func (db *recordingDB) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	db.statements = append(db.statements, strings.TrimSpace(sql))
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func TestPipelinePostgresBackendEnsuresSchema(t *testing.T) {
	cfg := newConfig()
	cfg.Dedup.Backend = config.BackendPostgres
	cfg.Postgres.DSN = "postgres://unused"

	db := &recordingDB{}
	newPipeline(t, cfg, pipeline.WithPostgres(db))

	require.Len(t, db.statements, 2)
	assert.True(t, strings.HasPrefix(db.statements[0], "CREATE TABLE IF NOT EXISTS"))
	assert.True(t, strings.HasPrefix(db.statements[1], "CREATE INDEX IF NOT EXISTS"))
}

func TestPipelineIdempoBackend(t *testing.T) {
	ctrl := gomock.NewController(t)
	cfg := newConfig()
	cfg.Dedup.Backend = config.BackendIdempo

	_, err := pipeline.New[requestContext](context.Background(), cfg, pipeline.WithLogger(consume.NopLogger{}))
	require.Error(t, err)

	p := newPipeline(t, cfg, pipeline.WithIdempoStore(memory.New()))
	calls := 0
	h := p.Wrap(func(consume.Event) error {
		calls++
		return nil
	})
	require.NoError(t, h(newEvent(ctrl, delivery("m-1"))))
	require.NoError(t, h(newEvent(ctrl, delivery("m-1"))))
	assert.Equal(t, 1, calls)
}

func TestPipelineCustomBackendFactory(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := mock_dedup.NewMockBackend(ctrl)
	unavailable := dedup.Unavailable("claim", errors.New("connection refused"))
	backend.EXPECT().TryClaim(gomock.Any(), "m-1").Return(false, unavailable)

	cfg := newConfig()
	cfg.Dedup.Backend = "custom"

	p := newPipeline(t, cfg, pipeline.WithBackendFactory("custom", func(context.Context, *pipeline.Env) (dedup.Backend, error) {
		return backend, nil
	}))
	assert.Same(t, backend, p.Backend())

	called := false
	err := p.Wrap(func(consume.Event) error {
		called = true
		return nil
	})(newEvent(ctrl, delivery("m-1")))

	assert.ErrorIs(t, err, dedup.ErrBackendUnavailable)
	assert.False(t, called)
}

func TestPipelineFactoryErrorRunsClosers(t *testing.T) {
	cfg := newConfig()
	cfg.Dedup.Backend = "custom"

	closed := false
	_, err := pipeline.New[requestContext](
		context.Background(),
		cfg,
		pipeline.WithLogger(consume.NopLogger{}),
		pipeline.WithBackendFactory("custom", func(_ context.Context, env *pipeline.Env) (dedup.Backend, error) {
			env.OnClose(func() error {
				closed = true
				return nil
			})
			return nil, errors.New("nope")
		}),
	)

	require.Error(t, err)
	assert.True(t, closed)
}
