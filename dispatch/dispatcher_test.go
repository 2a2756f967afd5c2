package dispatch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopwire/comet/channel"
	"github.com/loopwire/comet/codec"
	"github.com/loopwire/comet/logger"
)

func newTestDispatcher(t *testing.T, opts ...channel.Option) (*Dispatcher, *channel.Registry) {
	t.Helper()
	registry := channel.NewRegistry(logger.NewTestLogger(), opts...)
	t.Cleanup(registry.Close)
	return New(logger.NewTestLogger(), registry), registry
}

// doAction is safe to call off the test goroutine
func doAction(srv *httptest.Server, tok string, headers map[string]string, form url.Values) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/live/transport", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if tok != "" {
		req.Header.Set(HeaderChannelID, tok)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return srv.Client().Do(req)
}

func postAction(t *testing.T, srv *httptest.Server, tok string, headers map[string]string, form url.Values) *http.Response {
	t.Helper()
	res, err := doAction(srv, tok, headers, form)
	require.NoError(t, err)
	return res
}

func TestBootstrapCreatesChannel(t *testing.T) {
	d, registry := newTestDispatcher(t)
	mux := http.NewServeMux()
	d.Routes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	res, err := srv.Client().Post(srv.URL+"/live/bootstrap", "", nil)
	require.NoError(t, err)
	defer res.Body.Close()

	var body map[string]string
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	tok := body["channel"]
	require.NotEmpty(t, tok)
	_, ok := registry.Get(tok)
	assert.True(t, ok)

	var cookie bool
	for _, c := range res.Cookies() {
		if c.Name == ChannelCookie && c.Value == tok {
			cookie = true
		}
	}
	assert.True(t, cookie, "channel cookie should be set")
	assert.Equal(t, "no-store, no-cache, must-revalidate", res.Header.Get("Cache-Control"))
}

func TestTransportRejectsBadRequests(t *testing.T) {
	d, _ := newTestDispatcher(t)
	mux := http.NewServeMux()
	d.Routes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	res, err := srv.Client().Get(srv.URL + "/live/transport")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, res.StatusCode)

	res = postAction(t, srv, "", nil, url.Values{"action": {"explode"}})
	res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestNoopDeliversServerCall(t *testing.T) {
	d, registry := newTestDispatcher(t)
	mux := http.NewServeMux()
	d.Routes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ch, tok, err := registry.Create(context.Background())
	require.NoError(t, err)

	frames := make(chan []any, 1)
	go func() {
		res, err := doAction(srv, tok, nil, url.Values{"action": {ActionNoop}})
		if err != nil {
			frames <- nil
			return
		}
		defer res.Body.Close()
		buf, _ := io.ReadAll(res.Body)
		var frame []any
		_ = json.Unmarshal(buf, &frame)
		frames <- frame
	}()

	callCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pc, err := ch.CallRemote(callCtx, "ping", "one")
	require.NoError(t, err)
	assert.Equal(t, "s2c0", pc.ID())

	select {
	case frame := <-frames:
		assert.Equal(t, []any{"s2c0", "ping", []any{"one"}}, frame)
	case <-time.After(5 * time.Second):
		t.Fatal("no call frame delivered to the long-poll")
	}
}

func TestRespondResolvesPendingCall(t *testing.T) {
	d, registry := newTestDispatcher(t, channel.WithIdleTimeout(50*time.Millisecond))
	mux := http.NewServeMux()
	d.Routes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ch, tok, err := registry.Create(context.Background())
	require.NoError(t, err)

	go func() {
		if res, err := doAction(srv, tok, nil, url.Values{"action": {ActionNoop}}); err == nil {
			res.Body.Close()
		}
	}()

	callCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pc, err := ch.CallRemote(callCtx, "ping")
	require.NoError(t, err)

	res := postAction(t, srv, tok, map[string]string{HeaderResponseID: pc.ID()}, url.Values{
		"action": {ActionRespond},
		"args":   {`["pong"]`},
		"kw":     {`{"elapsed": 2}`},
	})
	defer res.Body.Close()

	result, err := pc.Wait(callCtx)
	require.NoError(t, err)
	assert.Equal(t, []any{"pong"}, result.Args)
	assert.Equal(t, map[string]any{"elapsed": float64(2)}, result.Kw)

	// the respond request is itself a transport; with nothing to deliver it
	// closes empty on its idle timeout
	buf, _ := io.ReadAll(res.Body)
	assert.Equal(t, "[]", string(buf))
}

func TestCorrelatedCallGetsResponseFrame(t *testing.T) {
	d, _ := newTestDispatcher(t, channel.WithHandlers(map[string]channel.Handler{
		"echo": func(ctx context.Context, args []any, kw map[string]any) (any, error) {
			return args, nil
		},
	}))
	mux := http.NewServeMux()
	d.Routes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	res := postAction(t, srv, "", map[string]string{HeaderRequestID: "c2s1"}, url.Values{
		"action": {ActionCall},
		"method": {"echo"},
		"args":   {`["hello"]`},
	})
	defer res.Body.Close()

	buf, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	var frame []any
	require.NoError(t, json.Unmarshal(buf, &frame))
	assert.Equal(t, []any{nil, "c2s1", "text/json", []any{"hello"}}, frame)
}

func TestMsgpackCodecRoundTrip(t *testing.T) {
	registry := channel.NewRegistry(logger.NewTestLogger(),
		channel.WithContentType("application/msgpack"),
		channel.WithHandlers(map[string]channel.Handler{
			"echo": func(ctx context.Context, args []any, kw map[string]any) (any, error) {
				return args, nil
			},
		}))
	t.Cleanup(registry.Close)
	d := New(logger.NewTestLogger(), registry, WithCodec(codec.Msgpack()))
	mux := http.NewServeMux()
	d.Routes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	args, err := codec.MarshalString(codec.Msgpack(), []any{"hello"})
	require.NoError(t, err)

	res := postAction(t, srv, "", map[string]string{HeaderRequestID: "c2s1"}, url.Values{
		"action": {ActionCall},
		"method": {"echo"},
		"args":   {args},
	})
	defer res.Body.Close()
	assert.Equal(t, "application/msgpack", res.Header.Get("Content-Type"))

	buf, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	var frame []any
	require.NoError(t, codec.Msgpack().Unmarshal(buf, &frame))
	assert.Equal(t, []any{nil, "c2s1", "application/msgpack", []any{"hello"}}, frame)
}

func TestCorrelatedCallUnknownMethod(t *testing.T) {
	d, _ := newTestDispatcher(t)
	mux := http.NewServeMux()
	d.Routes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	res := postAction(t, srv, "", map[string]string{HeaderRequestID: "c2s2"}, url.Values{
		"action": {ActionCall},
		"method": {"not-here"},
	})
	defer res.Body.Close()

	var frame []any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&frame))
	require.Len(t, frame, 4)
	value, ok := frame[3].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, value["error"], "method not found")
}

func TestOverflowFastClose(t *testing.T) {
	d, registry := newTestDispatcher(t, channel.WithTransportLimit(1))
	mux := http.NewServeMux()
	d.Routes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()
	// flush the still-open long-poll before srv.Close waits on connections;
	// Close is idempotent, so the t.Cleanup registration is unaffected
	defer registry.Close()

	ch, tok, err := registry.Create(context.Background())
	require.NoError(t, err)

	go func() {
		if res, err := doAction(srv, tok, nil, url.Values{"action": {ActionNoop}}); err == nil {
			res.Body.Close()
		}
	}()

	// wait for the first long-poll to occupy the only queue slot
	require.Eventually(t, func() bool {
		return ch.ActiveTransports() == 1
	}, 5*time.Second, 5*time.Millisecond)

	res := postAction(t, srv, tok, nil, url.Values{"action": {ActionNoop}})
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	buf, _ := io.ReadAll(res.Body)
	assert.Empty(t, buf, "overflowed transport completes with an empty payload")
	assert.Equal(t, 1, ch.ActiveTransports(), "channel state unaffected")
}

func TestUnknownTokenGetsFreshChannel(t *testing.T) {
	d, registry := newTestDispatcher(t, channel.WithIdleTimeout(50*time.Millisecond))
	mux := http.NewServeMux()
	d.Routes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	res := postAction(t, srv, "forged", nil, url.Values{"action": {ActionNoop}})
	defer res.Body.Close()

	fresh := res.Header.Get(HeaderChannelID)
	assert.NotEmpty(t, fresh)
	assert.NotEqual(t, "forged", fresh)
	_, ok := registry.Get(fresh)
	assert.True(t, ok)
}

func TestHealthEndpoint(t *testing.T) {
	d, registry := newTestDispatcher(t)
	mux := http.NewServeMux()
	d.Routes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, _, err := registry.Create(context.Background())
	require.NoError(t, err)

	res, err := srv.Client().Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer res.Body.Close()

	var report healthReport
	require.NoError(t, json.NewDecoder(res.Body).Decode(&report))
	assert.Equal(t, "ok", report.Status)
	assert.Equal(t, 1, report.Channels)
	assert.Positive(t, report.Goroutines)
}
