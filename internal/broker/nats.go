package broker

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/adred-codev/tripgate/internal/metrics"
)

// Channel is the single duplex link to the broker. Send is non-blocking;
// replies arrive asynchronously and possibly out of order on Replies().
type Channel interface {
	// Send forwards one plan record under the given connection handle.
	Send(handle int32, record []byte) error
	// Replies yields decoded inbound messages. The channel stays open
	// until Close.
	Replies() <-chan Reply
	Close() error
}

// Options configure the NATS-backed channel.
type Options struct {
	URL            string
	RequestSubject string
	ReplySubject   string
	Logger         zerolog.Logger
}

type natsChannel struct {
	nc         *nats.Conn
	sub        *nats.Subscription
	reqSubject string
	replies    chan Reply
	log        zerolog.Logger
	closeOnce  sync.Once
}

// Connect establishes the broker channel over NATS. Requests are published
// to the request subject; a subscription on the reply subject feeds
// Replies().
func Connect(opts Options) (Channel, error) {
	nc, err := nats.Connect(opts.URL,
		nats.Name("tripgated"),
		nats.MaxReconnects(5),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			metrics.BrokerConnected.Set(0)
			opts.Logger.Warn().Err(err).Msg("broker disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			metrics.BrokerConnected.Set(1)
			opts.Logger.Info().Msg("broker reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to broker at %s: %w", opts.URL, err)
	}

	c := &natsChannel{
		nc:         nc,
		reqSubject: opts.RequestSubject,
		replies:    make(chan Reply, 256),
		log:        opts.Logger,
	}

	sub, err := nc.Subscribe(opts.ReplySubject, c.onReply)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", opts.ReplySubject, err)
	}
	c.sub = sub

	metrics.BrokerConnected.Set(1)
	opts.Logger.Info().
		Str("url", opts.URL).
		Str("request_subject", opts.RequestSubject).
		Str("reply_subject", opts.ReplySubject).
		Msg("broker channel connected")

	return c, nil
}

func (c *natsChannel) onReply(msg *nats.Msg) {
	handle, body, err := DecodeFrame(msg.Data)
	if err != nil {
		metrics.RepliesDropped.WithLabelValues("bad_frame").Inc()
		c.log.Warn().Err(err).Int("len", len(msg.Data)).Msg("dropping malformed broker reply")
		return
	}
	select {
	case c.replies <- Reply{Handle: handle, Body: body}:
	default:
		metrics.RepliesDropped.WithLabelValues("queue_full").Inc()
		c.log.Warn().Int32("handle", handle).Msg("reply queue full, dropping broker reply")
	}
}

func (c *natsChannel) Send(handle int32, record []byte) error {
	return c.nc.Publish(c.reqSubject, EncodeFrame(handle, record))
}

func (c *natsChannel) Replies() <-chan Reply {
	return c.replies
}

func (c *natsChannel) Close() error {
	c.closeOnce.Do(func() {
		_ = c.sub.Unsubscribe()
		c.nc.Close()
		metrics.BrokerConnected.Set(0)
	})
	return nil
}
