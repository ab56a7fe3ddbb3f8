package notify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Channel names accepted by Router.
const (
	ChannelEmail    = "email"
	ChannelTelegram = "telegram"
	ChannelSlack    = "slack"
	ChannelDiscord  = "discord"
)

var (
	// ErrUnknownChannel is returned for channels without a registered sender.
	ErrUnknownChannel = errors.New("notify: unknown channel")
	// ErrNoAddress is returned when neither the caller nor the sender
	// configuration supplies a destination.
	ErrNoAddress = errors.New("notify: no destination address")
	// ErrDelivery wraps transport failures.
	ErrDelivery = errors.New("notify: delivery failed")
)

// Message is one outbound notification.
type Message struct {
	Address string
	Subject string
	Body    string
}

// Sender delivers on one channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg Message) error

func (f SenderFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }

// Notifier is the contract the auth core depends on.
type Notifier interface {
	Send(ctx context.Context, channel, address, subject, body string) error
}

// Router dispatches by channel name and bounds every delivery with a
// timeout. Register senders before first use.
type Router struct {
	mu      sync.RWMutex
	senders map[string]Sender
	timeout time.Duration
}

// NewRouter returns a Router whose deliveries time out after timeout
// (10s when zero).
func NewRouter(timeout time.Duration) *Router {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Router{senders: make(map[string]Sender), timeout: timeout}
}

func (r *Router) Register(channel string, s Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.senders[channel] = s
}

// Has reports whether channel has a sender.
func (r *Router) Has(channel string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.senders[channel]
	return ok
}

// Channels lists registered channel names in sorted order.
func (r *Router) Channels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.senders))
	for name := range r.senders {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *Router) Send(ctx context.Context, channel, address, subject, body string) error {
	r.mu.RLock()
	s, ok := r.senders[channel]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, channel)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := s.Send(ctx, Message{Address: address, Subject: subject, Body: body}); err != nil {
		log.WithError(err).WithField("channel", channel).Warn("notification delivery failed")
		if errors.Is(err, ErrNoAddress) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	return nil
}
