package stream

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"

	"hostmetrics-agent/internal/model"
)

type jsonCodec struct{}

func (jsonCodec) Name() string {
	return "json"
}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type GRPCOptions struct {
	Addr         string
	Hostname     string
	TLS          *tls.Config
	Token        string
	RecordMethod string
	AlertMethod  string
	DialTimeout  time.Duration
	DialOptions  []grpc.DialOption
}

// GRPCClient pushes envelopes over two long-lived client streams.
type GRPCClient struct {
	mu sync.Mutex

	logger       *slog.Logger
	opts         GRPCOptions
	conn         *grpc.ClientConn
	streamCtx    context.Context
	cancel       context.CancelFunc
	recordStream grpc.ClientStream
	alertStream  grpc.ClientStream
}

func NewGRPCClient(opts GRPCOptions, logger *slog.Logger) *GRPCClient {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 8 * time.Second
	}
	return &GRPCClient{
		logger: logger.With("sink", "grpc"),
		opts:   opts,
	}
}

func (c *GRPCClient) SendRecord(ctx context.Context, rec model.Record) error {
	return c.send(ctx, &c.recordStream, c.opts.RecordMethod, NewRecordEnvelope(rec))
}

func (c *GRPCClient) SendAlerts(ctx context.Context, events []model.AlertEvent) error {
	if len(events) == 0 {
		return nil
	}
	return c.send(ctx, &c.alertStream, c.opts.AlertMethod, NewAlertEnvelope(c.opts.Hostname, events))
}

func (c *GRPCClient) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range []grpc.ClientStream{c.recordStream, c.alertStream} {
		if s != nil {
			_ = s.CloseSend()
		}
	}
	c.recordStream = nil
	c.alertStream = nil
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	_ = ctx
	return nil
}

func (c *GRPCClient) send(ctx context.Context, stream *grpc.ClientStream, method string, env model.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureConnLocked(ctx); err != nil {
		return err
	}
	if *stream == nil {
		if err := c.openStreamLocked(stream, method); err != nil {
			return err
		}
	}
	if err := (*stream).SendMsg(&env); err != nil {
		c.logger.Warn("grpc send failed, reopening stream", "method", method, "error", err)
		*stream = nil
		if err2 := c.openStreamLocked(stream, method); err2 != nil {
			return fmt.Errorf("reopen stream %s: %w", method, err2)
		}
		if err2 := (*stream).SendMsg(&env); err2 != nil {
			return fmt.Errorf("send %s: %w", env.Type, err2)
		}
	}
	return nil
}

func (c *GRPCClient) ensureConnLocked(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	dialCtx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	defer cancel()

	var creds credentials.TransportCredentials
	if c.opts.TLS != nil {
		creds = credentials.NewTLS(c.opts.TLS)
	} else {
		creds = insecure.NewCredentials()
	}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithBlock(),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{})),
	}, c.opts.DialOptions...)
	conn, err := grpc.DialContext(dialCtx, c.opts.Addr, dialOpts...)
	if err != nil {
		return fmt.Errorf("grpc dial %s: %w", c.opts.Addr, err)
	}
	c.conn = conn
	c.streamCtx, c.cancel = context.WithCancel(context.Background())
	c.logger.Info("grpc stream connected", "addr", c.opts.Addr)
	return nil
}

// openStreamLocked binds the stream to the connection lifetime rather than
// the caller's tick context.
func (c *GRPCClient) openStreamLocked(stream *grpc.ClientStream, method string) error {
	if c.conn == nil {
		return fmt.Errorf("grpc conn is nil")
	}
	streamCtx := c.streamCtx
	if c.opts.Token != "" {
		streamCtx = metadata.AppendToOutgoingContext(streamCtx, "authorization", "Bearer "+c.opts.Token)
	}
	s, err := c.conn.NewStream(streamCtx, &grpc.StreamDesc{ClientStreams: true}, method)
	if err != nil {
		return fmt.Errorf("open stream %s: %w", method, err)
	}
	*stream = s
	return nil
}
