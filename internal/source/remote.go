package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"time"
)

// errIdleTimeout cancels a remote read that made no progress for the
// fetcher's timeout.
var errIdleTimeout = errors.New("read timeout")

func (f *Fetcher) openRemote(ctx context.Context, u RemoteURL) (Stream, error) {
	origin := u.Describe()

	parsed, err := url.Parse(string(u))
	if err != nil {
		return nil, acquisitionError(origin, "parse", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, acquisitionError(origin, "parse", fmt.Errorf("unsupported scheme %q", parsed.Scheme))
	}

	client := f.httpClient()
	return f.start(origin, func() (body, error) {
		return f.fetch(ctx, client, parsed.String(), origin)
	})
}

// fetch issues one GET from byte zero. Every rewind calls it again; nothing
// from earlier passes is cached.
func (f *Fetcher) fetch(ctx context.Context, client *http.Client, target, origin string) (body, error) {
	reqCtx, cancel := context.WithCancelCause(ctx)

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
	if err != nil {
		cancel(nil)
		return body{}, acquisitionError(origin, "request", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		cancel(nil)
		return body{}, acquisitionError(origin, "get", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		cancel(nil)
		return body{}, acquisitionError(origin, "get", fmt.Errorf("unexpected status %s", resp.Status))
	}

	if resp.ContentLength >= 0 && f.exceeds(resp.ContentLength) {
		resp.Body.Close()
		cancel(nil)
		return body{}, f.quotaError(origin, resp.ContentLength, false)
	}

	f.logger().Debug("remote origin responded",
		"origin", origin,
		"status", resp.StatusCode,
		"content_length", resp.ContentLength,
	)

	idle := f.timeout()
	rb := &remoteBody{
		body:   resp.Body,
		ctx:    reqCtx,
		cancel: cancel,
		chunk:  f.chunkSize(),
		idle:   idle,
		timer:  time.AfterFunc(idle, func() { cancel(errIdleTimeout) }),
	}
	rb.timer.Stop()
	return body{
		ReadCloser: rb,
		charset:    charsetParam(resp.Header.Get("Content-Type")),
		size:       resp.ContentLength,
	}, nil
}

// remoteBody hands out the response body at most one chunk per Read and
// cancels the request when a read stalls. The timer only runs while Read
// waits on the network; pauses between calls are the caller's.
type remoteBody struct {
	body   io.ReadCloser
	ctx    context.Context
	cancel context.CancelCauseFunc
	chunk  int
	idle   time.Duration
	timer  *time.Timer
}

func (b *remoteBody) Read(p []byte) (int, error) {
	if len(p) > b.chunk {
		p = p[:b.chunk]
	}
	b.timer.Reset(b.idle)
	n, err := b.body.Read(p)
	b.timer.Stop()
	if err != nil && err != io.EOF && b.ctx.Err() != nil {
		err = context.Cause(b.ctx)
	}
	return n, err
}

func (b *remoteBody) Close() error {
	b.timer.Stop()
	err := b.body.Close()
	b.cancel(nil)
	return err
}

func (f *Fetcher) httpClient() *http.Client {
	if f.Client != nil {
		return f.Client
	}
	timeout := f.timeout()
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: timeout}).DialContext,
			TLSHandshakeTimeout:   timeout,
			ResponseHeaderTimeout: timeout,
		},
	}
}

func charsetParam(contentType string) string {
	if contentType == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return params["charset"]
}
