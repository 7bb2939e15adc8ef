package fastcgi

import (
	"fmt"
	"strings"

	"github.com/valyala/bytebufferpool"
)

// responseState tracks where a Response sits in its COLLECTING -> STREAMING
// -> CLOSED lifecycle.
type responseState uint8

const (
	stateCollecting responseState = iota
	stateStreaming
	stateClosed
)

var bufPool bytebufferpool.Pool

// Response is one FastCGI exchange's outbound half: an HTTP-style status
// and header block followed by a body, both delivered over STDOUT records
// chunked to MaxLength bytes, terminated by a zero-length STDOUT record
// and an END_REQUEST.
//
// While COLLECTING, SetStatus/SetHeader may still be called; the first
// Write or Flush locks the header block and transitions to STREAMING.
type Response struct {
	req  *Request
	conn *Conn

	status      int
	headerOrder []string
	headers     map[string][]byte

	state responseState
	buf   *bytebufferpool.ByteBuffer
}

func newResponse(req *Request, conn *Conn) *Response {
	return &Response{
		req:     req,
		conn:    conn,
		status:  200,
		headers: make(map[string][]byte),
		buf:     bufPool.Get(),
	}
}

// SetStatus sets the response status line. It is only valid while
// COLLECTING; once the header block has been sent it returns
// ErrResponseClosed.
func (resp *Response) SetStatus(code int) error {
	if resp.state != stateCollecting {
		return ErrResponseClosed
	}
	resp.status = code
	return nil
}

// SetHeaderBytes sets a response header from raw bytes. Like SetStatus,
// only valid while COLLECTING. Setting the same key twice overwrites the
// earlier value but keeps its original position in the header block.
func (resp *Response) SetHeaderBytes(key string, value []byte) error {
	if resp.state != stateCollecting {
		return ErrResponseClosed
	}
	if _, exists := resp.headers[key]; !exists {
		resp.headerOrder = append(resp.headerOrder, key)
	}
	resp.headers[key] = value
	return nil
}

// SetHeader is SetHeaderBytes with a lossy UTF-8 conversion applied; use
// SetHeaderBytes when the value must be sent byte-for-byte.
func (resp *Response) SetHeader(key, value string) error {
	return resp.SetHeaderBytes(key, []byte(strings.ToValidUTF8(value, "�")))
}

// Write appends p to the response body, serializing the header block into
// the buffer ahead of it if this is the first write. Nothing is sent until
// Flush or the end of the exchange. It returns ErrResponseClosed once the
// response has been closed.
func (resp *Response) Write(p []byte) (int, error) {
	if resp.state == stateClosed {
		return 0, ErrResponseClosed
	}
	if resp.state == stateCollecting {
		resp.writeHeaderBlock()
		resp.state = stateStreaming
	}
	return resp.buf.Write(p)
}

// Flush sends any buffered body bytes as STDOUT records, chunked to
// MaxLength. Calling Flush with nothing written yet still sends the header
// block, which is useful for empty-body responses (e.g. 204, redirects).
func (resp *Response) Flush() error {
	if resp.state == stateClosed {
		return ErrResponseClosed
	}
	if resp.state == stateCollecting {
		resp.writeHeaderBlock()
		resp.state = stateStreaming
	}
	if resp.buf.Len() == 0 {
		return nil
	}
	if err := resp.conn.writeStdout(resp.req.ID, resp.buf.Bytes()); err != nil {
		return err
	}
	resp.buf.Reset()
	return nil
}

// writeHeaderBlock serializes the status line and headers into resp.buf as
// the first bytes of the body stream, matching the plain-text
// "Status: <code>\r\n<Key>: <Value>\r\n...\r\n" header block a CGI
// responder emits.
func (resp *Response) writeHeaderBlock() {
	fmt.Fprintf(resp.buf, "Status: %d\r\n", resp.status)
	for _, key := range resp.headerOrder {
		resp.buf.WriteString(key)
		resp.buf.WriteString(": ")
		resp.buf.Write(resp.headers[key])
		resp.buf.WriteString("\r\n")
	}
	resp.buf.WriteString("\r\n")
}

// close flushes any remaining body, emits the terminal zero-length STDOUT
// record and END_REQUEST, and releases the pooled buffer. Called by Conn
// once the handler returns (or panics), never by handler code directly.
func (resp *Response) close(appStatus uint32, protocolStatus uint8) error {
	if resp.state == stateClosed {
		return nil
	}
	if resp.state == stateCollecting {
		resp.writeHeaderBlock()
		resp.state = stateStreaming
	}
	if resp.buf.Len() > 0 {
		if err := resp.conn.writeStdout(resp.req.ID, resp.buf.Bytes()); err != nil {
			resp.state = stateClosed
			bufPool.Put(resp.buf)
			return err
		}
	}
	resp.state = stateClosed
	bufPool.Put(resp.buf)

	if err := resp.conn.writeStdout(resp.req.ID, nil); err != nil {
		return err
	}
	return resp.conn.endRequest(resp.req.ID, appStatus, protocolStatus)
}
