// Package invalidation carries invalidation tags from the backend to open
// sessions over ZeroMQ PUB/SUB.
//
// A write made by one cadre changes what every other logged-in session has
// cached. The backend publishes the tags of each write; sessions subscribe
// and drop the tagged entries, so nobody keeps painting from a stale list.
package invalidation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"
)

// Topic is the PUB/SUB topic frame every invalidation is sent under.
const Topic = "invalidate"

var (
	ErrNotRunning = errors.New("invalidation: not running")
	ErrRunning    = errors.New("invalidation: already running")
)

// Event is the body of one invalidation message.
type Event struct {
	Tags   []string  `json:"tags"`
	Origin string    `json:"origin,omitempty"`
	At     time.Time `json:"at"`
}

func encode(ev Event) (zmq4.Msg, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return zmq4.Msg{}, fmt.Errorf("failed to marshal event: %w", err)
	}
	return zmq4.NewMsgFrom([]byte(Topic), body), nil
}

func decode(msg zmq4.Msg) (Event, error) {
	var ev Event
	if len(msg.Frames) < 2 {
		return ev, fmt.Errorf("malformed invalidation message: %d frames", len(msg.Frames))
	}
	if string(msg.Frames[0]) != Topic {
		return ev, fmt.Errorf("unexpected topic %q", msg.Frames[0])
	}
	if err := json.Unmarshal(msg.Frames[1], &ev); err != nil {
		return ev, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return ev, nil
}

// Publisher is the backend side: it binds a PUB socket and broadcasts tags.
type Publisher struct {
	endpoint string
	origin   string

	mu      sync.Mutex
	pub     zmq4.Socket
	cancel  context.CancelFunc
	running bool
}

func NewPublisher(endpoint, origin string) *Publisher {
	return &Publisher{endpoint: endpoint, origin: origin}
}

func (p *Publisher) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return ErrRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	pub := zmq4.NewPub(ctx)
	if err := pub.Listen(p.endpoint); err != nil {
		cancel()
		return fmt.Errorf("failed to bind publisher on %s: %w", p.endpoint, err)
	}

	p.pub = pub
	p.cancel = cancel
	p.running = true
	return nil
}

// Addr returns the bound address, useful when listening on port 0.
func (p *Publisher) Addr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pub == nil || p.pub.Addr() == nil {
		return p.endpoint
	}
	return "tcp://" + p.pub.Addr().String()
}

// Publish broadcasts tags to every connected session. Slow or absent subscribers miss it.
func (p *Publisher) Publish(tags ...string) error {
	if len(tags) == 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return ErrNotRunning
	}

	msg, err := encode(Event{Tags: tags, Origin: p.origin, At: time.Now()})
	if err != nil {
		return err
	}
	if err := p.pub.Send(msg); err != nil {
		return fmt.Errorf("failed to publish invalidation: %w", err)
	}
	return nil
}

func (p *Publisher) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.running = false
	p.cancel()
	// Best effort; the context is already cancelled.
	_ = p.pub.Close()
}

// Handler receives the tags of each invalidation.
type Handler func(ctx context.Context, ev Event)

// Subscriber is the session side: it dials the backend's PUB socket.
type Subscriber struct {
	endpoint string
	handler  Handler
	logger   *slog.Logger

	mu      sync.Mutex
	sub     zmq4.Socket
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup
}

func NewSubscriber(endpoint string, handler Handler, logger *slog.Logger) *Subscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{endpoint: endpoint, handler: handler, logger: logger}
}

func (s *Subscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := zmq4.NewSub(ctx)
	if err := sub.Dial(s.endpoint); err != nil {
		cancel()
		return fmt.Errorf("failed to dial %s: %w", s.endpoint, err)
	}
	if err := sub.SetOption(zmq4.OptionSubscribe, Topic); err != nil {
		cancel()
		_ = sub.Close()
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	s.sub = sub
	s.cancel = cancel
	s.running = true

	s.wg.Add(1)
	go s.receiverLoop(ctx, sub)

	s.logger.Info("invalidation subscriber started", "endpoint", s.endpoint)
	return nil
}

func (s *Subscriber) receiverLoop(ctx context.Context, sub zmq4.Socket) {
	defer s.wg.Done()

	for {
		msg, err := sub.Recv()
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Error("invalidation receive failed", "err", err)
			}
			return
		}

		ev, err := decode(msg)
		if err != nil {
			s.logger.Warn("dropping invalidation message", "err", err)
			continue
		}
		s.handler(ctx, ev)
	}
}

// Stop closes the socket and waits for the receiver to exit.
func (s *Subscriber) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	_ = s.sub.Close()
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("invalidation subscriber stopped", "endpoint", s.endpoint)
}
