package transport

import (
	"context"
	"net"

	"github.com/mdlayher/vsock"
)

// dialVsock races vsock.Dial, which takes no context, against ctx. A
// connection that completes after ctx is done is closed, not leaked.
func dialVsock(ctx context.Context, cid, port uint32) (net.Conn, error) {
	type result struct {
		conn *vsock.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := vsock.Dial(cid, port, nil)
		done <- result{conn: conn, err: err}
	}()
	select {
	case res := <-done:
		if res.err != nil {
			return nil, res.err
		}
		return res.conn, nil
	case <-ctx.Done():
		go func() {
			if res := <-done; res.conn != nil {
				res.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

func listenVsock(cid, port uint32) (net.Listener, error) {
	var (
		ln  *vsock.Listener
		err error
	)
	if cid == 0 {
		ln, err = vsock.Listen(port, nil)
	} else {
		ln, err = vsock.ListenContextID(cid, port, nil)
	}
	if err != nil {
		return nil, err
	}
	return ln, nil
}
