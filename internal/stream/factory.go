package stream

import (
	"context"
	"fmt"
	"log/slog"

	"hostmetrics-agent/internal/config"
)

// NewSinksFromConfig builds a fan-out over every enabled output. The
// returned Fanout may be empty.
func NewSinksFromConfig(ctx context.Context, cfg config.Config, hostname string, logger *slog.Logger) (*Fanout, error) {
	out := NewFanout()

	if g := cfg.Outputs.GRPC; g.Enabled {
		tlsCfg, err := g.TLS.Build()
		if err != nil {
			return nil, fmt.Errorf("grpc tls: %w", err)
		}
		out.Add("grpc", NewGRPCClient(GRPCOptions{
			Addr:         g.Addr,
			Hostname:     hostname,
			TLS:          tlsCfg,
			Token:        g.Token,
			RecordMethod: g.RecordMethod,
			AlertMethod:  g.AlertMethod,
			DialTimeout:  config.Seconds(g.DialTimeout),
		}, logger))
	}

	if k := cfg.Outputs.Kafka; k.Enabled {
		out.Add("kafka", NewKafkaProducer(KafkaOptions{
			Brokers:      k.Brokers,
			Hostname:     hostname,
			Topic:        k.Topic,
			AlertTopic:   k.AlertTopic,
			BatchSize:    k.BatchSize,
			BatchTimeout: config.Seconds(k.BatchTimeout),
		}, logger))
	}

	if r := cfg.Outputs.Redis; r.Enabled {
		cache, err := NewRedisCache(ctx, RedisOptions{
			Addr:      r.Addr,
			Password:  r.Password,
			DB:        r.DB,
			Hostname:  hostname,
			KeyPrefix: r.KeyPrefix,
			TTL:       config.Seconds(r.TTL),
		}, logger)
		if err != nil {
			_ = out.Close(ctx)
			return nil, err
		}
		out.Add("redis", cache)
	}

	return out, nil
}
