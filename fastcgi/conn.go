package fastcgi

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// exchange tracks one request id's assembly state: the raw PARAMS bytes
// accumulated so far, and once those are complete, the constructed Request
// and Response pair ready to be handed to a Handler.
type exchange struct {
	id    uint16
	role  uint16
	flags uint8

	paramsBuf bytes.Buffer
	ready     bool

	req  *Request
	resp *Response
}

// Conn drives the FastCGI responder state machine for a single accepted
// transport connection: it demultiplexes records by request id, assembles
// each exchange's parameters and body, runs the Handler once an exchange
// is ready, and honors KeepConn across exchanges.
type Conn struct {
	id      uuid.UUID
	netConn net.Conn
	br      *bufio.Reader
	bw      *bufio.Writer
	handler Handler
	logger  *zap.Logger

	pending map[uint16]*exchange
}

var zeroPad [7]byte

// NewConn wraps netConn in a Conn ready to Serve. logger may be nil, in
// which case a no-op logger is used.
func NewConn(netConn net.Conn, handler Handler, logger *zap.Logger) *Conn {
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.New()
	return &Conn{
		id:      id,
		netConn: netConn,
		br:      bufio.NewReader(netConn),
		bw:      bufio.NewWriter(netConn),
		handler: handler,
		logger:  logger.With(zap.String("conn_id", id.String())),
		pending: make(map[uint16]*exchange),
	}
}

// Serve runs the connection's record dispatch loop until the peer closes
// the transport, a protocol error occurs, or the last exchange completes
// without KeepConn set. It always closes the underlying transport before
// returning.
func (c *Conn) Serve(ctx context.Context) {
	defer c.netConn.Close()

	for {
		if ex := c.popReadyExchange(); ex != nil {
			c.runExchange(ctx, ex)
			if len(c.pending) == 0 && ex.flags&KeepConn == 0 {
				return
			}
			continue
		}

		if err := c.readOne(); err != nil {
			if err != io.EOF {
				c.logger.Warn("closing connection", zap.Error(err))
			}
			return
		}
	}
}

// popReadyExchange returns an exchange whose parameters are fully
// assembled and whose Handler has not yet run, or nil if none is ready.
// Iteration order over concurrently-ready exchanges is unspecified.
func (c *Conn) popReadyExchange() *exchange {
	for _, ex := range c.pending {
		if ex.ready {
			return ex
		}
	}
	return nil
}

// runExchange invokes the handler for ex, recovering from panics and
// translating both panics and returned errors into app_status=1 on
// END_REQUEST, then removes ex from the pending table.
func (c *Conn) runExchange(ctx context.Context, ex *exchange) {
	logger := c.logger.With(zap.Uint16("request_id", ex.id))
	appStatus := uint32(0)

	func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("handler panic", zap.Any("recover", r))
				appStatus = 1
				_ = ex.resp.SetStatus(500)
			}
		}()
		if err := c.handler.Serve(ctx, ex.req, ex.resp); err != nil {
			logger.Error("handler error", zap.Error(err))
			appStatus = 1
		}
	}()

	if err := ex.resp.close(appStatus, RequestComplete); err != nil {
		if isClosedConnErr(err) {
			logger.Debug("peer went away before response completed", zap.Error(err))
		} else {
			logger.Warn("failed to complete response", zap.Error(err))
		}
	}
	delete(c.pending, ex.id)
}

// pump reads and dispatches wire records until request id has new STDIN
// data available, its stream is marked complete, or an error occurs. It is
// called by Request.Read, which is how a handler blocked mid-body pulls
// further records off the same connection it's being served on; it uses
// readOne, the same record-fetch step Serve's own dispatch loop calls.
func (c *Conn) pump(id uint16) error {
	for {
		ex := c.pending[id]
		if ex == nil || ex.req == nil {
			return ErrUnknownRequestID
		}
		if ex.req.stdinDone || ex.req.stdinBuf.Len() > 0 {
			return nil
		}
		if err := c.readOne(); err != nil {
			return err
		}
	}
}

// readOne reads exactly one record off the wire and dispatches it,
// advancing whichever exchange it belongs to. Records for unknown or
// already-completed request ids are ignored rather than treated as fatal,
// since a slow-to-arrive ABORT_REQUEST or trailing record is harmless.
func (c *Conn) readOne() error {
	hdr, content, err := c.readRecord()
	if err != nil {
		return err
	}

	switch hdr.Type {
	case TypeBeginRequest:
		body := UnmarshalBeginRequestBody(content)
		c.pending[hdr.RequestID] = &exchange{
			id:    hdr.RequestID,
			role:  body.Role,
			flags: body.Flags,
		}

	case TypeParams:
		ex := c.pending[hdr.RequestID]
		if ex == nil || ex.req != nil {
			// Unknown id, or its parameter stream has already ended.
			return nil
		}
		if len(content) == 0 {
			params, err := ReadNameValuePairs(ex.paramsBuf.Bytes())
			if err != nil {
				return err
			}
			ex.req = &Request{
				ID:     ex.id,
				Role:   ex.role,
				Flags:  ex.flags,
				params: params,
				conn:   c,
			}
			ex.resp = newResponse(ex.req, c)
			ex.ready = true
		} else {
			ex.paramsBuf.Write(content)
		}

	case TypeStdin, TypeData:
		ex := c.pending[hdr.RequestID]
		if ex == nil || ex.req == nil {
			return nil
		}
		ex.req.deliverStdin(content)

	case TypeAbortRequest:
		ex := c.pending[hdr.RequestID]
		if ex != nil && ex.req != nil {
			ex.req.aborted = true
			ex.req.stdinDone = true
		}

	default:
		// GET_VALUES / GET_VALUES_RESULT / UNKNOWN_TYPE and any other
		// management record: accepted on the wire, never acted on.
	}

	return nil
}

// readRecord reads one full record (header, content, padding) off the
// wire. A clean close before any header bytes arrive is reported as
// io.EOF; anything else short of a full record is ErrProtocolTruncation.
func (c *Conn) readRecord() (Header, []byte, error) {
	var hb [HeaderLen]byte
	if _, err := io.ReadFull(c.br, hb[:]); err != nil {
		if err == io.EOF {
			return Header{}, nil, io.EOF
		}
		return Header{}, nil, wrap(ErrProtocolTruncation, "read record header", err)
	}

	hdr := UnmarshalHeader(hb[:])
	if hdr.Version != Version1 {
		return Header{}, nil, wrap(ErrProtocolVersion, fmt.Sprintf("version %d", hdr.Version), nil)
	}

	total := int(hdr.ContentLength) + int(hdr.PaddingLength)
	if total == 0 {
		return hdr, nil, nil
	}
	buf := make([]byte, total)
	if _, err := io.ReadFull(c.br, buf); err != nil {
		return Header{}, nil, wrap(ErrProtocolTruncation, "read record body", err)
	}
	return hdr, buf[:hdr.ContentLength], nil
}

// writeRecord writes a single record with the given type, request id, and
// content (which must not exceed MaxLength bytes; writeStdout enforces
// that for STDOUT specifically).
func (c *Conn) writeRecord(recType uint8, id uint16, content []byte) error {
	hdr := newHeader(recType, id, len(content))
	hb := hdr.Marshal()

	if _, err := c.bw.Write(hb[:]); err != nil {
		return wrap(ErrTransport, "write record header", err)
	}
	if len(content) > 0 {
		if _, err := c.bw.Write(content); err != nil {
			return wrap(ErrTransport, "write record content", err)
		}
	}
	if hdr.PaddingLength > 0 {
		if _, err := c.bw.Write(zeroPad[:hdr.PaddingLength]); err != nil {
			return wrap(ErrTransport, "write record padding", err)
		}
	}
	return wrapFlush(c.bw)
}

func wrapFlush(bw *bufio.Writer) error {
	if err := bw.Flush(); err != nil {
		return wrap(ErrTransport, "flush connection", err)
	}
	return nil
}

// writeStdout emits content as one or more STDOUT records, each capped at
// MaxLength bytes. A nil/empty content emits the single terminal
// zero-length STDOUT record that signals end of output.
func (c *Conn) writeStdout(id uint16, content []byte) error {
	if len(content) == 0 {
		return c.writeRecord(TypeStdout, id, nil)
	}
	for len(content) > 0 {
		n := len(content)
		if n > MaxLength {
			n = MaxLength
		}
		if err := c.writeRecord(TypeStdout, id, content[:n]); err != nil {
			return err
		}
		content = content[n:]
	}
	return nil
}

// endRequest emits the END_REQUEST record closing out request id.
func (c *Conn) endRequest(id uint16, appStatus uint32, protocolStatus uint8) error {
	body := EndRequestBody{AppStatus: appStatus, ProtocolStatus: protocolStatus}.Marshal()
	return c.writeRecord(TypeEndRequest, id, body[:])
}
