package fastcgi

import (
	"bufio"
	"context"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRequestHeaderAccessors(t *testing.T) {
	req := &Request{
		ID:     7,
		Flags:  KeepConn,
		params: map[string][]byte{"REQUEST_METHOD": []byte("POST")},
	}

	if !req.KeepAlive() {
		t.Error("KeepAlive() = false, want true")
	}

	raw, ok := req.Header("REQUEST_METHOD")
	if !ok || string(raw) != "POST" {
		t.Errorf("Header(REQUEST_METHOD) = %q, %v, want POST, true", raw, ok)
	}

	s, ok := req.HeaderString("REQUEST_METHOD")
	if !ok || s != "POST" {
		t.Errorf("HeaderString(REQUEST_METHOD) = %q, %v, want POST, true", s, ok)
	}

	if _, ok := req.Header("MISSING"); ok {
		t.Error("Header(MISSING) ok = true, want false")
	}
}

// TestRequestReadRoutesStrayRecordsToOtherExchange starts request id 1's
// handler reading its body before request id 2's BEGIN_REQUEST has even
// arrived, then interleaves id 2's records ahead of id 1's STDIN. Request 1's
// blocked Read must keep pumping the wire — routing id 2's records into its
// own pending exchange — until id 1's own STDIN finally shows up.
func TestRequestReadRoutesStrayRecordsToOtherExchange(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	var req2Body string
	done := make(chan struct{})
	handler := HandlerFunc(func(ctx context.Context, req *Request, resp *Response) error {
		body, err := io.ReadAll(req)
		require.NoError(t, err)
		if req.ID == 1 {
			_, err = resp.Write(body)
			close(done)
			return err
		}
		req2Body = string(body)
		_, err = resp.Write(body)
		return err
	})

	conn := NewConn(serverConn, handler, nil)
	go conn.Serve(context.Background())

	testBeginAndParams(t, clientConn, 1, KeepConn, map[string][]byte{})
	testBeginAndParams(t, clientConn, 2, KeepConn, map[string][]byte{})
	testWriteRecord(t, clientConn, TypeStdin, 2, []byte("two"))
	testWriteRecord(t, clientConn, TypeStdin, 2, nil)
	testWriteRecord(t, clientConn, TypeStdin, 1, []byte("one"))
	testWriteRecord(t, clientConn, TypeStdin, 1, nil)

	r := bufio.NewReader(clientConn)
	seen := map[uint16]bool{}
	for len(seen) < 2 {
		hdr, _ := testReadRecord(t, r)
		if hdr.Type == TypeEndRequest {
			seen[hdr.RequestID] = true
		}
	}

	<-done
	require.Equal(t, "two", req2Body)
}
