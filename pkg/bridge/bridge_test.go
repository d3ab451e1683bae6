package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rexliu/vsockpep/pkg/client"
	"github.com/rexliu/vsockpep/pkg/config"
	"github.com/rexliu/vsockpep/pkg/core"
	"github.com/rexliu/vsockpep/pkg/ipc"
	"github.com/rexliu/vsockpep/pkg/logging"
	"github.com/rexliu/vsockpep/pkg/retry"
)

type fetchFunc func(ctx context.Context, req core.WireRequest) (*client.Result, error)

func (f fetchFunc) Fetch(ctx context.Context, req core.WireRequest) (*client.Result, error) {
	return f(ctx, req)
}

func mustNotFetch(t *testing.T) Fetcher {
	return fetchFunc(func(context.Context, core.WireRequest) (*client.Result, error) {
		t.Fatal("fetch should not be reached")
		return nil, nil
	})
}

// decodeOne asserts out holds exactly one JSON object and returns it.
func decodeOne(t *testing.T, out []byte) map[string]json.RawMessage {
	t.Helper()
	dec := json.NewDecoder(bytes.NewReader(out))
	var obj map[string]json.RawMessage
	require.NoError(t, dec.Decode(&obj), "output: %q", out)
	_, err := dec.Token()
	assert.Error(t, err, "trailing output after the object")
	return obj
}

func errorBody(t *testing.T, obj map[string]json.RawMessage) core.ErrorBody {
	t.Helper()
	require.Contains(t, obj, "error")
	assert.NotContains(t, obj, "status")
	var body core.ErrorBody
	require.NoError(t, json.Unmarshal(obj["error"], &body))
	return body
}

func TestMalformedInputYieldsVsockError(t *testing.T) {
	inputs := map[string]string{
		"empty":          "",
		"whitespace":     "  \n",
		"not json":       "GET https://example.com",
		"truncated":      `{"method":"GET","url":`,
		"missing url":    `{"method":"GET"}`,
		"missing method": `{"url":"https://example.com"}`,
		"array":          `[1,2,3]`,
		"bad headers":    `{"method":"GET","url":"u","headers":7}`,
	}
	for name, input := range inputs {
		t.Run(name, func(t *testing.T) {
			var out bytes.Buffer
			require.NoError(t, Run(context.Background(), strings.NewReader(input), &out, mustNotFetch(t)))
			body := errorBody(t, decodeOne(t, out.Bytes()))
			assert.Equal(t, "vsock_error", body.Code)
			assert.NotEmpty(t, body.Message)
		})
	}
}

func TestSuccessIsReencoded(t *testing.T) {
	var seen core.WireRequest
	f := fetchFunc(func(_ context.Context, req core.WireRequest) (*client.Result, error) {
		seen = req
		return &client.Result{Attempts: 1, Response: &core.Response{
			Status:  200,
			Headers: core.Headers{{Name: "content-type", Value: "text/html"}},
			Body:    []byte("<html>"),
		}}, nil
	})

	var out bytes.Buffer
	in := `{"method":"GET","url":"https://example.com","headers":{"accept":"*/*"},"body_base64":null}`
	require.NoError(t, Run(context.Background(), strings.NewReader(in), &out, f))

	assert.Equal(t, core.Headers{{Name: "accept", Value: "*/*"}}, seen.Headers)
	assert.Nil(t, seen.BodyBase64)
	assert.JSONEq(t, `{"status":200,"headers":[["content-type","text/html"]],"body_base64":"PGh0bWw+"}`, out.String())
}

func TestDenialPassesThroughVerbatim(t *testing.T) {
	f := fetchFunc(func(context.Context, core.WireRequest) (*client.Result, error) {
		return &client.Result{Attempts: 1}, core.Denied("denied_by_policy", "domain not allowlisted")
	})
	var out bytes.Buffer
	require.NoError(t, Run(context.Background(), strings.NewReader(`{"method":"GET","url":"https://x.test"}`), &out, f))
	assert.JSONEq(t, `{"error":{"code":"denied_by_policy","message":"domain not allowlisted"}}`, out.String())
}

func TestLocalFailuresCollapseToVsockError(t *testing.T) {
	failures := []error{
		core.Wrap(core.KindConnect, "dial vsock://2:4040", errors.New("connection refused")),
		core.Wrap(core.KindTimeout, "read frame", context.DeadlineExceeded),
		core.Wrap(core.KindShortRead, "read frame", core.ErrShortPayload),
		core.Errorf(core.KindParse, "interpret", "missing status"),
		core.Wrap(core.KindBodyDecode, "decode body", errors.New("illegal base64 data at input byte 3")),
	}
	for _, failure := range failures {
		t.Run(core.KindOf(failure).String(), func(t *testing.T) {
			f := fetchFunc(func(context.Context, core.WireRequest) (*client.Result, error) {
				return &client.Result{Attempts: 1}, failure
			})
			var out bytes.Buffer
			require.NoError(t, Run(context.Background(), strings.NewReader(`{"method":"GET","url":"u"}`), &out, f))
			body := errorBody(t, decodeOne(t, out.Bytes()))
			assert.Equal(t, "vsock_error", body.Code)
			assert.Equal(t, failure.Error(), body.Message)
		})
	}
}

func TestUnreachableStub(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	remote := config.Default().Remote
	remote.Transport = "tcp"
	remote.Address = addr
	remote.Timeout = time.Second
	c := client.New(client.NewSession(remote, nil), retry.Once())

	var out bytes.Buffer
	require.NoError(t, Run(context.Background(), strings.NewReader(`{"method":"GET","url":"https://example.com"}`), &out, c))
	body := errorBody(t, decodeOne(t, out.Bytes()))
	assert.Equal(t, "vsock_error", body.Code)
	assert.Contains(t, body.Message, "connect_failure")
}

func TestRoundTripThroughEchoStub(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := ipc.NewServer(ipc.EchoHandler(), nil)
	require.NoError(t, srv.Start(context.Background(), ln))
	t.Cleanup(func() { srv.Stop() })

	remote := config.Default().Remote
	remote.Transport = "tcp"
	remote.Address = ln.Addr().String()
	c := client.New(client.NewSession(remote, nil), retry.Once())

	cases := map[string]string{
		"null body":  `{"method":"GET","url":"https://example.com","headers":[["a","1"],["a","2"]],"body_base64":null}`,
		"empty body": `{"method":"POST","url":"https://example.com","headers":[],"body_base64":""}`,
		"body":       `{"method":"POST","url":"https://example.com","headers":{"b":"2"},"body_base64":"AP+AgQ=="}`,
	}
	want := map[string]string{
		"null body":  `{"status":200,"headers":[["a","1"],["a","2"]],"body_base64":null}`,
		"empty body": `{"status":200,"headers":[],"body_base64":null}`,
		"body":       `{"status":200,"headers":[["b","2"]],"body_base64":"AP+AgQ=="}`,
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			var out bytes.Buffer
			require.NoError(t, Run(context.Background(), strings.NewReader(in), &out, c))
			assert.JSONEq(t, want[name], out.String())
		})
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("closed") }

func TestRunReportsWriteFailure(t *testing.T) {
	err := Run(context.Background(), strings.NewReader(""), failingWriter{}, mustNotFetch(t))
	assert.ErrorContains(t, err, "write response")
}

func TestRunConfiguredReportsConfigError(t *testing.T) {
	var out bytes.Buffer
	cfgErr := errors.New("config: Config.Remote.Transport failed \"oneof\" (value carrier-pigeon)")
	require.NoError(t, RunConfigured(context.Background(), nil, cfgErr, strings.NewReader(`{"method":"GET","url":"u"}`), &out, logging.Nop()))
	body := errorBody(t, decodeOne(t, out.Bytes()))
	assert.Equal(t, "vsock_error", body.Code)
	assert.Contains(t, body.Message, "carrier-pigeon")
}

func TestRunConfiguredJournals(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := ipc.NewServer(ipc.EchoHandler(), nil)
	require.NoError(t, srv.Start(context.Background(), ln))
	t.Cleanup(func() { srv.Stop() })

	cfg := config.Default()
	cfg.Remote.Transport = "tcp"
	cfg.Remote.Address = ln.Addr().String()
	cfg.Journal.Path = filepath.Join(t.TempDir(), "journal.db")

	var out bytes.Buffer
	require.NoError(t, RunConfigured(context.Background(), &cfg, nil, strings.NewReader(`{"method":"GET","url":"https://example.com"}`), &out, logging.Nop()))
	assert.JSONEq(t, `{"status":200,"headers":[],"body_base64":null}`, out.String())

	store, err := client.OpenJournal(context.Background(), cfg.Journal.Path)
	require.NoError(t, err)
	defer store.Close()
	entries, err := store.Recent(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "bridge", entries[0].Mode)
	assert.Equal(t, 200, entries[0].Status)
}
