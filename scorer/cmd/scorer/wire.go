package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/echoguard/echoguard/scorer/internal/config"
	"github.com/echoguard/echoguard/scorer/internal/events"
	"github.com/echoguard/echoguard/scorer/internal/results"
	"github.com/echoguard/echoguard/scorer/internal/storage"
)

func newFetcher(c config.StorageConfig) (storage.Fetcher, error) {
	if c.Backend == "dir" {
		return storage.Dir{Root: c.Root}, nil
	}
	s3, err := storage.NewS3(storage.S3Options{
		Endpoint:  c.Endpoint,
		AccessKey: c.AccessKey(),
		SecretKey: c.SecretKey(),
		Region:    c.Region,
		UseSSL:    c.UseSSL,
	})
	if err != nil {
		return nil, err
	}
	return s3, nil
}

// resultStore bundles the selected backend. store and lister are nil for
// the "none" backend.
type resultStore struct {
	store  results.Store
	lister results.Lister
	memory *results.Memory
	close  func() error
}

func (r *resultStore) Close() {
	if r.close == nil {
		return
	}
	if err := r.close(); err != nil {
		slog.Warn("result store close", "err", err)
	}
}

func newResultStore(ctx context.Context, c config.ResultsConfig) (*resultStore, error) {
	switch c.Backend {
	case "none":
		return &resultStore{}, nil

	case "dynamodb":
		d, err := results.NewDynamo(ctx, results.DynamoOptions{
			Table:     c.DynamoDB.Table,
			Region:    c.DynamoDB.Region,
			Endpoint:  c.DynamoDB.Endpoint,
			AccessKey: c.DynamoDB.AccessKey(),
			SecretKey: c.DynamoDB.SecretKey(),
		})
		if err != nil {
			return nil, err
		}
		return &resultStore{store: d, lister: d}, nil

	case "postgres":
		p, err := results.OpenPostgres(c.Postgres.DSN())
		if err != nil {
			return nil, err
		}
		return &resultStore{store: p, lister: p, close: p.Close}, nil

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     c.Redis.Addr,
			DB:       c.Redis.DB,
			Password: c.Redis.Password(),
		})
		if err := client.Ping(ctx).Err(); err != nil {
			// Writes fail as PersistenceErrors until Redis is reachable.
			slog.Warn("redis not reachable at startup", "addr", c.Redis.Addr, "err", err)
		}
		r := results.NewRedis(client)
		return &resultStore{store: r, lister: r, close: client.Close}, nil

	case "memory", "":
		m := results.NewMemory(c.TTL)
		return &resultStore{store: m, lister: m, memory: m}, nil

	default:
		return nil, fmt.Errorf("unknown results backend %q", c.Backend)
	}
}

type namedSource struct {
	events.Source
	name string
}

func newSources(c config.EventsConfig, filter events.Filter) []namedSource {
	var out []namedSource
	if c.AMQP.Enabled {
		out = append(out, namedSource{name: "amqp", Source: events.NewAMQP(events.AMQPOptions{
			URL:        c.AMQP.URL(),
			Exchange:   c.AMQP.Exchange,
			RoutingKey: c.AMQP.RoutingKey,
			Queue:      c.AMQP.Queue,
			Filter:     filter,
		})})
	}
	if c.MQTT.Enabled {
		out = append(out, namedSource{name: "mqtt", Source: events.NewMQTT(events.MQTTOptions{
			Broker:   c.MQTT.Broker,
			ClientID: c.MQTT.ClientID,
			Topic:    c.MQTT.Topic,
			Filter:   filter,
		})})
	}
	if c.Dir.Enabled {
		out = append(out, namedSource{name: "dir", Source: &events.DirWatch{
			Dir:      c.Dir.Path,
			Filter:   filter,
			Debounce: c.Dir.Debounce,
		}})
	}
	if len(out) == 0 {
		slog.Info("no background event sources enabled; HTTP only")
	}
	return out
}
