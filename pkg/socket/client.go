package socket

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"
	"github.com/vango-dev/vsock/pkg/protocol"
)

// SchemaParam is the query parameter carrying a schema fingerprint.
const SchemaParam = "schema"

// Dial opens a client connection to rawURL and starts its read loop.
//
// Frames that arrive before a bus is registered with Receive are dropped.
// Subscribe in config.OnOpen to observe frames the server sends on accept.
func Dial(ctx context.Context, rawURL string, schema *protocol.Schema, config *Config, mws ...Middleware) (*Conn, error) {
	config = config.withDefaults()

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &ConnError{Op: "dial", Err: err}
	}
	if config.SendFingerprint && schema != nil {
		q := u.Query()
		q.Set(SchemaParam, schema.Fingerprint())
		u.RawQuery = q.Encode()
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: config.HandshakeTimeout,
	}
	ws, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusConflict {
			err = fmt.Errorf("%w: %s", ErrSchemaMismatch, resp.Status)
		}
		return nil, &ConnError{Op: "dial", Err: err}
	}

	c := NewConn(NewWebSocketTransport(ws, config), schema, ParamsFromQuery(u.Query()), config, mws...)
	c.logger.Debug("connected", "url", u.Redacted())
	if config.OnOpen != nil {
		config.OnOpen(c)
	}

	go func() {
		if err := c.Serve(context.Background()); err != nil {
			c.logger.Warn("read loop ended", "error", err)
		}
	}()

	return c, nil
}

// ParamsFromQuery converts query values to Params. For repeated keys the
// last value wins.
func ParamsFromQuery(q url.Values) Params {
	params := make(Params, len(q))
	for k, vs := range q {
		if len(vs) > 0 {
			params[k] = vs[len(vs)-1]
		}
	}
	return params
}

// ParseParams parses the query string of a request URI or URL into Params.
// It returns empty Params if there is no query string or it cannot be
// parsed.
func ParseParams(rawURL string) Params {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Params{}
	}
	q, err := url.ParseQuery(u.RawQuery)
	if err != nil && len(q) == 0 {
		return Params{}
	}
	return ParamsFromQuery(q)
}
