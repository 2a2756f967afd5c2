// Package dispatch is the HTTP entry point for live channels: it decodes the
// requested action, resolves the channel and submits the request as a
// long-poll transport.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/loopwire/comet/channel"
	"github.com/loopwire/comet/codec"
	"github.com/loopwire/comet/logger"
)

var tracer = otel.Tracer("@loopwire/comet/dispatch")

// Headers and form fields of the transport wire surface.
const (
	HeaderRequestID  = "Request-Id"
	HeaderResponseID = "Response-Id"
	HeaderChannelID  = "Channel-Id"
	ChannelCookie    = "comet_channel"

	ActionCall    = "call"
	ActionRespond = "respond"
	ActionNoop    = "noop"
)

// Dispatcher routes inbound transport requests into live channels.
type Dispatcher struct {
	log      logger.Logger
	registry *channel.Registry
	codec    codec.Codec
}

// DispatcherOption customizes a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithCodec replaces the default JSON payload codec.
func WithCodec(c codec.Codec) DispatcherOption {
	return func(d *Dispatcher) {
		if c != nil {
			d.codec = c
		}
	}
}

// New returns a Dispatcher routing into channels owned by registry.
func New(log logger.Logger, registry *channel.Registry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		log:      log.WithPrefix("dispatch"),
		registry: registry,
		codec:    codec.JSON(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// neverEverCache sets headers to indicate that the response to this request
// should never, ever be cached.
func neverEverCache(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
}

// activeChannel marks this connection as a live channel: each transport is
// good for exactly one payload, so the connection never gets reused.
func activeChannel(w http.ResponseWriter) {
	w.Header().Set("Connection", "close")
}

func channelToken(r *http.Request) string {
	if tok := r.Header.Get(HeaderChannelID); tok != "" {
		return tok
	}
	if c, err := r.Cookie(ChannelCookie); err == nil {
		return c.Value
	}
	return ""
}

// ServeHTTP handles one transport request. The response completes whenever the
// channel fulfills the transport's slot: a server call, a call response, an
// idle timeout or a disconnect, each exactly once.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	action := r.FormValue("action")
	switch action {
	case ActionCall, ActionRespond, ActionNoop:
	default:
		http.Error(w, fmt.Sprintf("unknown action %q", action), http.StatusBadRequest)
		return
	}

	ctx, span := tracer.Start(r.Context(), "Transport",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("comet.action", action)))
	defer span.End()

	neverEverCache(w)
	activeChannel(w)

	ch, err := d.registry.Resolve(ctx, channelToken(r))
	if err != nil {
		span.RecordError(err)
		http.Error(w, "cannot resolve channel", http.StatusInternalServerError)
		return
	}
	// a manufactured channel needs its token handed back to the client
	w.Header().Set(HeaderChannelID, ch.Token())

	args, kw, err := d.decodePayloads(r)
	if err != nil {
		span.RecordError(err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	t := channel.NewTransport()
	overflow := false
	if err := ch.SubmitTransport(t); err != nil {
		switch {
		case errors.Is(err, channel.ErrOverflow):
			d.log.Debug("fast transport-close path for channel %s", ch.Token())
			overflow = true
		case errors.Is(err, channel.ErrDisconnected):
			d.writeFrame(w, channel.Frame{Kind: channel.FrameEmpty})
			return
		default:
			span.RecordError(err)
			http.Error(w, "cannot submit transport", http.StatusInternalServerError)
			return
		}
	}

	// the handler may outlive this HTTP request: its result travels down
	// whichever transport is waiting when it completes
	actionCtx := context.WithoutCancel(ctx)

	switch action {
	case ActionCall:
		ch.HandleCall(actionCtx, r.FormValue("method"), r.Header.Get(HeaderRequestID), args, kw)
	case ActionRespond:
		responseID := r.Header.Get(HeaderResponseID)
		if responseID == "" {
			d.log.Warn("no Response-Id given on respond action")
		} else {
			ch.HandleRespond(responseID, args, kw)
		}
	case ActionNoop:
		// no channel-state effect: the submitted transport is the whole point
	}

	if overflow {
		// the transport is already logically closed
		w.Header().Set("Content-Type", d.codec.ContentType())
		return
	}

	select {
	case f := <-t.Done():
		d.writeFrame(w, f)
	case <-r.Context().Done():
		ch.TransportFailed(t, fmt.Errorf("transport connection failed: %w", r.Context().Err()))
	}
}

// decodePayloads decodes the positional and keyword argument payloads. They
// are independent fields: a respond action may carry either or both.
func (d *Dispatcher) decodePayloads(r *http.Request) ([]any, map[string]any, error) {
	var args []any
	if s := r.FormValue("args"); s != "" {
		if err := codec.UnmarshalString(d.codec, s, &args); err != nil {
			return nil, nil, fmt.Errorf("bad args payload: %w", err)
		}
	}
	var kw map[string]any
	if s := r.FormValue("kw"); s != "" {
		if err := codec.UnmarshalString(d.codec, s, &kw); err != nil {
			return nil, nil, fmt.Errorf("bad kw payload: %w", err)
		}
	}
	return args, kw, nil
}

func (d *Dispatcher) writeFrame(w http.ResponseWriter, f channel.Frame) {
	body, err := d.codec.Marshal(f.Wire())
	if err != nil {
		d.log.Error("encoding frame: %s", err)
		http.Error(w, "cannot encode frame", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", d.codec.ContentType())
	if _, err := w.Write(body); err != nil {
		d.log.Debug("writing frame: %s", err)
	}
}

// Bootstrap returns the handler that renders a new live channel: it creates
// the channel and hands the client its token to present on every transport.
func (d *Dispatcher) Bootstrap() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "Bootstrap")
		defer span.End()

		neverEverCache(w)
		_, tok, err := d.registry.Create(ctx)
		if err != nil {
			span.RecordError(err)
			http.Error(w, "cannot create channel", http.StatusInternalServerError)
			return
		}
		http.SetCookie(w, &http.Cookie{
			Name:     ChannelCookie,
			Value:    tok,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteStrictMode,
		})
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"channel": tok})
	}
}

// Routes mounts the dispatcher's endpoints on mux.
func (d *Dispatcher) Routes(mux *http.ServeMux) {
	mux.Handle("/live/transport", d)
	mux.HandleFunc("/live/bootstrap", d.Bootstrap())
	mux.HandleFunc("/healthz", d.Health())
}
