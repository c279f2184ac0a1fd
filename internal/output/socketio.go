package output

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"

	"github.com/vk/meshrun/internal/ctxlog"
)

// SocketIOEvent is the event name records are emitted under.
const SocketIOEvent = "output"

// SocketIOSink streams records to a socket.io server as they are produced.
type SocketIOSink struct {
	io *socket.Socket
}

// SocketIOOptions configures the connection of a SocketIOSink.
type SocketIOOptions struct {
	URL                string
	Namespace          string
	InsecureSkipVerify bool
	ConnectTimeout     time.Duration
}

// DialSocketIO connects to the server and waits for the connect event.
func DialSocketIO(ctx context.Context, o SocketIOOptions) (*SocketIOSink, error) {
	logger := ctxlog.FromContext(ctx).With("sink", "socketio", "url", o.URL)

	parsedURL, err := url.Parse(o.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 15 * time.Second
	}

	opts := socket.DefaultOptions()
	opts.SetPath(parsedURL.Path)
	if o.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	connectChan := make(chan error, 1)
	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	manager := socket.NewManager(baseURL, opts)
	io := manager.Socket(o.Namespace, opts)

	io.Once(types.EventName("connect"), func(...any) {
		logger.Info("Connected to output stream.", "sid", io.Id())
		connectChan <- nil
	})
	io.Once(types.EventName("connect_error"), func(args ...any) {
		connectChan <- connectError(args...)
	})
	io.Connect()

	select {
	case err := <-connectChan:
		if err != nil {
			io.Disconnect()
			return nil, fmt.Errorf("socket.io connection failed: %w", err)
		}
		return &SocketIOSink{io: io}, nil
	case <-ctx.Done():
		io.Disconnect()
		return nil, fmt.Errorf("context cancelled while waiting for socket.io connection: %w", ctx.Err())
	case <-time.After(o.ConnectTimeout):
		io.Disconnect()
		return nil, fmt.Errorf("timed out after %s waiting for socket.io connection", o.ConnectTimeout)
	}
}

// connectError turns the arguments of a connect_error event into an error.
// It never returns nil, so the dial fails even when the server sent no
// reason.
func connectError(args ...any) error {
	if len(args) == 0 || args[0] == nil {
		return errors.New("connect_error without a reason")
	}
	if err, ok := args[0].(error); ok {
		return err
	}
	return fmt.Errorf("connect_error: %v", args[0])
}

// payload converts a record into the JSON-friendly map sent to the server.
func payload(rec Record) map[string]any {
	values := make(map[string]any, len(rec.Values))
	for k, v := range rec.Values {
		values[k] = v
	}
	return map[string]any{
		"output":   rec.Output,
		"kind":     string(rec.Kind),
		"timestep": rec.Timestep,
		"date":     rec.Date.Format(time.RFC3339),
		"rank":     rec.Rank,
		"offset":   rec.Offset,
		"values":   values,
	}
}

func (s *SocketIOSink) Write(_ context.Context, rec Record) error {
	if !s.io.Connected() {
		return fmt.Errorf("socket.io client is disconnected")
	}
	s.io.Emit(SocketIOEvent, payload(rec))
	return nil
}

func (s *SocketIOSink) Close() error {
	s.io.Disconnect()
	return nil
}
