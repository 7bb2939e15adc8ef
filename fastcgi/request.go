package fastcgi

import (
	"bytes"
	"io"
	"strings"
)

// Request is one FastCGI exchange's inbound half: the parameters sent in
// PARAMS records and the body delivered via STDIN (or DATA, for the Filter
// role). Header/param values are kept as raw bytes; HeaderString does the
// lossy UTF-8 conversion at the edge for callers that want a string.
type Request struct {
	ID    uint16
	Role  uint16
	Flags uint8

	params map[string][]byte

	conn *Conn

	stdinBuf  bytes.Buffer
	stdinDone bool
	aborted   bool
}

// KeepAlive reports whether the peer asked to keep the connection open
// after this exchange completes (the BEGIN_REQUEST KeepConn flag).
func (r *Request) KeepAlive() bool {
	return r.Flags&KeepConn != 0
}

// Header returns the raw bytes of a PARAMS entry and whether it was present.
func (r *Request) Header(name string) ([]byte, bool) {
	v, ok := r.params[name]
	return v, ok
}

// HeaderString is Header with a lossy UTF-8 conversion applied; use Header
// when the raw bytes matter (e.g. binary-safe CGI values).
func (r *Request) HeaderString(name string) (string, bool) {
	v, ok := r.params[name]
	if !ok {
		return "", false
	}
	return strings.ToValidUTF8(string(v), "�"), true
}

// Params returns the full decoded parameter set. Callers must not mutate
// the returned map.
func (r *Request) Params() map[string][]byte {
	return r.params
}

// Aborted reports whether an ABORT_REQUEST record has been received for
// this exchange. A handler observing Aborted should stop producing output.
func (r *Request) Aborted() bool {
	return r.aborted
}

// Read implements io.Reader over the STDIN stream. It drains any body
// bytes already assembled by the connection's dispatch loop and, once
// exhausted, pulls further records directly off the wire — routing records
// addressed to other request ids back into the connection's pending table
// — until either more STDIN content arrives, the stream's terminal
// zero-length STDIN record is seen, or an error occurs.
func (r *Request) Read(p []byte) (int, error) {
	for {
		if r.stdinBuf.Len() > 0 {
			return r.stdinBuf.Read(p)
		}
		if r.stdinDone {
			return 0, io.EOF
		}
		if err := r.conn.pump(r.ID); err != nil {
			return 0, err
		}
	}
}

// deliverStdin is called by Conn when a STDIN (or DATA) record addressed to
// this request arrives. A zero-length content marks the stream complete.
func (r *Request) deliverStdin(content []byte) {
	if len(content) == 0 {
		r.stdinDone = true
		return
	}
	r.stdinBuf.Write(content)
}
