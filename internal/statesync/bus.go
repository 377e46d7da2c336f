package statesync

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// LocalBus fans messages out to subscribers in the same process.
type LocalBus struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]func(Message)
}

func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[string]map[int]func(Message))}
}

func (b *LocalBus) Publish(ctx context.Context, room string, msg Message) error {
	b.mu.Lock()
	fns := make([]func(Message), 0, len(b.subs[room]))
	for _, fn := range b.subs[room] {
		fns = append(fns, fn)
	}
	b.mu.Unlock()
	for _, fn := range fns {
		fn(msg)
	}
	return nil
}

func (b *LocalBus) Subscribe(room string, fn func(Message)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	group := b.subs[room]
	if group == nil {
		group = make(map[int]func(Message))
		b.subs[room] = group
	}
	group[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[room], id)
		if len(b.subs[room]) == 0 {
			delete(b.subs, room)
		}
	}, nil
}

type NATSConfig struct {
	URL           string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
}

func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		SubjectPrefix: "sketchparty.rooms",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// NATSBus publishes room state on sketchparty.rooms.<room>.state.
type NATSBus struct {
	nc     *nats.Conn
	prefix string
}

func ConnectNATS(cfg NATSConfig) (*NATSBus, error) {
	nc, err := DialNATS(cfg)
	if err != nil {
		return nil, err
	}
	return &NATSBus{nc: nc, prefix: cfg.SubjectPrefix}, nil
}

// DialNATS opens a connection that logs disconnects and reconnects.
func DialNATS(cfg NATSConfig) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("sketchparty"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Error().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("nats error")
		}),
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return nc, nil
}

func (b *NATSBus) Conn() *nats.Conn {
	return b.nc
}

func (b *NATSBus) Close() {
	if b.nc != nil {
		b.nc.Close()
	}
}

func (b *NATSBus) subject(room string) string {
	return b.prefix + "." + SubjectToken(room) + ".state"
}

func (b *NATSBus) Publish(ctx context.Context, room string, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.nc.Publish(b.subject(room), data)
}

func (b *NATSBus) Subscribe(room string, fn func(Message)) (func(), error) {
	sub, err := b.nc.Subscribe(b.subject(room), func(m *nats.Msg) {
		var msg Message
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			log.Warn().Err(err).Str("subject", m.Subject).Msg("bus message dropped")
			return
		}
		fn(msg)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", b.subject(room), err)
	}
	return func() {
		_ = sub.Unsubscribe()
	}, nil
}

// SubjectToken maps a room id onto a single NATS subject token. Letters,
// digits and '-' pass through; every other byte, '_' included, becomes
// '_' and two hex digits, so distinct rooms never share a token.
func SubjectToken(room string) string {
	if room == "" {
		return DefaultRoom
	}
	var b strings.Builder
	for i := 0; i < len(room); i++ {
		c := room[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "_%02X", c)
		}
	}
	return b.String()
}
