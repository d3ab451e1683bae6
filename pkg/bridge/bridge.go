// Package bridge implements bridge mode: one JSON request on the input,
// exactly one JSON object on the output, whatever happens in between.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/rexliu/vsockpep/pkg/client"
	"github.com/rexliu/vsockpep/pkg/core"
)

// Fetcher performs the exchange. *client.Client satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, req core.WireRequest) (*client.Result, error)
}

// Run reads a request from in, fetches it with f and writes the outcome to
// out. Local failures of any kind, malformed input included, are reported
// under the single vsock_error code; stub denials keep their own code and
// message. The returned error concerns only writing to out.
func Run(ctx context.Context, in io.Reader, out io.Writer, f Fetcher) error {
	return write(out, Respond(ctx, in, f))
}

// Respond computes the object Run would write.
func Respond(ctx context.Context, in io.Reader, f Fetcher) any {
	data, err := io.ReadAll(in)
	if err != nil {
		return localFailure(core.Wrap(core.KindInvalidRequest, "read input", err))
	}
	req, err := core.ParseRequest(data)
	if err != nil {
		return localFailure(err)
	}
	result, err := f.Fetch(ctx, req)
	if err != nil {
		if core.KindOf(err) == core.KindRemoteDenied {
			return core.Envelope(nil, err)
		}
		return localFailure(err)
	}
	return core.Envelope(result.Response, nil)
}

func localFailure(err error) core.ErrorEnvelope {
	return core.ErrorEnvelope{Error: core.ErrorBody{Code: core.CodeVsockError, Message: err.Error()}}
}

func write(out io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		// Output must stay a single valid object.
		data, _ = json.Marshal(localFailure(err))
	}
	if _, err := out.Write(data); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}
