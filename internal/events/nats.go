package events

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// JetStream is the subset of jetstream.JetStream the publisher needs.
type JetStream interface {
	CreateOrUpdateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// natsConnect is replaced in tests.
var natsConnect = func(url string) (*nats.Conn, error) {
	return nats.Connect(url, nats.Name("docsync"))
}

// NATSPublisher publishes events as JSON to a JetStream stream.
type NATSPublisher struct {
	js       JetStream
	nc       *nats.Conn
	prefix   string
	attempts int
}

// NewNATSPublisher ensures the stream exists and returns a publisher.
func NewNATSPublisher(ctx context.Context, js JetStream, cfg Config) (*NATSPublisher, error) {
	if js == nil {
		return nil, fmt.Errorf("jetstream cannot be nil")
	}
	storage := jetstream.MemoryStorage
	if cfg.Storage == StorageFile {
		storage = jetstream.FileStorage
	}
	if cfg.StreamName != "" {
		_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:     cfg.StreamName,
			Subjects: []string{cfg.SubjectPrefix + ".>"},
			Storage:  storage,
			MaxAge:   cfg.MaxAge,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to ensure stream: %w", err)
		}
	}
	return &NATSPublisher{js: js, prefix: cfg.SubjectPrefix, attempts: cfg.RetryAttempts}, nil
}

// ConnectNATS dials cfg.NATSURL and builds a publisher over it. The
// connection is closed by Close.
func ConnectNATS(ctx context.Context, cfg Config) (*NATSPublisher, error) {
	nc, err := natsConnect(cfg.NATSURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATSURL, err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream: %w", err)
	}
	p, err := NewNATSPublisher(ctx, js, cfg)
	if err != nil {
		nc.Close()
		return nil, err
	}
	p.nc = nc
	return p, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, evt Event) error {
	data, err := evt.Marshal()
	if err != nil {
		return err
	}
	subject := p.prefix + "." + evt.Subject()
	var opts []jetstream.PublishOpt
	if p.attempts > 0 {
		opts = append(opts, jetstream.WithRetryAttempts(p.attempts), jetstream.WithRetryWait(100*time.Millisecond))
	}
	// The event id doubles as the JetStream dedup id.
	opts = append(opts, jetstream.WithMsgID(evt.ID))
	if _, err := p.js.Publish(ctx, subject, data, opts...); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

func (p *NATSPublisher) Close() error {
	if p.nc != nil {
		if err := p.nc.Drain(); err != nil {
			p.nc.Close()
			return err
		}
		p.nc = nil
	}
	return nil
}
