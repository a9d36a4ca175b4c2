// Package eddn subscribes to the EDDN relay: a ZeroMQ PUB socket whose
// frames are zlib-compressed JSON envelopes. Decoded messages feed the
// ingester; reconnecting after a lost subscription is the caller's job.
package eddn

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/go-zeromq/zmq4"

	"github.com/bastionbot/bastion"
)

// DefaultEndpoint is the public EDDN relay.
const DefaultEndpoint = "tcp://eddn.edcd.io:9500"

// schemaPrefix is stripped from $schemaRef so handlers match on the
// short form ("journal/1").
const schemaPrefix = "https://eddn.edcd.io/schemas/"

// Stream is a ZeroMQ subscription to the relay.
type Stream struct {
	endpoint string
	logger   *slog.Logger
}

var _ bastion.Stream = (*Stream)(nil)

// Option configures a Stream.
type Option func(*Stream)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Stream) { s.logger = l }
}

// New builds a stream for the relay endpoint. An empty endpoint uses
// the public relay.
func New(endpoint string, opts ...Option) *Stream {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	s := &Stream{endpoint: endpoint, logger: slog.New(slog.DiscardHandler)}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Subscribe connects and delivers decoded messages until ctx is
// cancelled or the socket fails, then closes the channel.
func (s *Stream) Subscribe(ctx context.Context) (<-chan bastion.RawMessage, error) {
	sock := zmq4.NewSub(ctx)
	if err := sock.Dial(s.endpoint); err != nil {
		return nil, &bastion.RemoteError{Op: "eddn subscribe", Err: err, Transient: true}
	}
	if err := sock.SetOption(zmq4.OptionSubscribe, ""); err != nil {
		sock.Close() //nolint:errcheck
		return nil, fmt.Errorf("eddn: subscribe option: %w", err)
	}
	s.logger.Info("eddn: subscribed", "endpoint", s.endpoint)

	ch := make(chan bastion.RawMessage)
	go func() {
		defer close(ch)
		defer sock.Close() //nolint:errcheck
		for {
			zmsg, err := sock.Recv()
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Warn("eddn: receive failed", "error", err)
				}
				return
			}
			for _, frame := range zmsg.Frames {
				msg, err := Decode(frame)
				if err != nil {
					s.logger.Debug("eddn: bad frame", "error", err)
					continue
				}
				select {
				case ch <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}

// Decode inflates one wire frame and parses the envelope.
func Decode(frame []byte) (bastion.RawMessage, error) {
	zr, err := zlib.NewReader(bytes.NewReader(frame))
	if err != nil {
		return bastion.RawMessage{}, fmt.Errorf("eddn: inflate: %w", err)
	}
	defer zr.Close() //nolint:errcheck
	raw, err := io.ReadAll(zr)
	if err != nil {
		return bastion.RawMessage{}, fmt.Errorf("eddn: inflate: %w", err)
	}

	var envelope struct {
		SchemaRef string `json:"$schemaRef"`
		Header    struct {
			SoftwareName     string `json:"softwareName"`
			GatewayTimestamp string `json:"gatewayTimestamp"`
		} `json:"header"`
		Message map[string]any `json:"message"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return bastion.RawMessage{}, fmt.Errorf("eddn: decode envelope: %w", err)
	}
	return bastion.RawMessage{
		SchemaRef: strings.TrimPrefix(envelope.SchemaRef, schemaPrefix),
		Header: bastion.MessageHeader{
			SoftwareName:     envelope.Header.SoftwareName,
			GatewayTimestamp: envelope.Header.GatewayTimestamp,
		},
		Message: envelope.Message,
		Raw:     raw,
	}, nil
}
