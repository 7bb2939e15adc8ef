package fastcgi

import (
	"bytes"
	"testing"
)

func TestHeaderMarshalRoundTrip(t *testing.T) {
	hdr := Header{
		Version:       Version1,
		Type:          TypeStdout,
		RequestID:     42,
		ContentLength: 512,
		PaddingLength: 3,
		Reserved:      0,
	}

	buf := hdr.Marshal()
	if len(buf) != HeaderLen {
		t.Fatalf("marshaled header length = %d, want %d", len(buf), HeaderLen)
	}

	got := UnmarshalHeader(buf[:])
	if got != hdr {
		t.Errorf("UnmarshalHeader(Marshal(hdr)) = %+v, want %+v", got, hdr)
	}
}

func TestNewHeaderPadding(t *testing.T) {
	cases := []struct {
		contentLen int
		wantPad    uint8
	}{
		{0, 0},
		{1, 7},
		{7, 1},
		{8, 0},
		{9, 7},
		{65535, 1},
	}

	for _, tc := range cases {
		hdr := newHeader(TypeStdout, 1, tc.contentLen)
		if hdr.PaddingLength != tc.wantPad {
			t.Errorf("newHeader(%d) padding = %d, want %d", tc.contentLen, hdr.PaddingLength, tc.wantPad)
		}
		if (tc.contentLen+int(hdr.PaddingLength))%8 != 0 {
			t.Errorf("newHeader(%d): content+padding not 8-aligned", tc.contentLen)
		}
	}
}

func TestBeginRequestBodyRoundTrip(t *testing.T) {
	body := BeginRequestBody{Role: RoleResponder, Flags: KeepConn}
	buf := body.Marshal()

	got := UnmarshalBeginRequestBody(buf[:])
	if got.Role != body.Role || got.Flags != body.Flags {
		t.Errorf("UnmarshalBeginRequestBody(Marshal(body)) = %+v, want %+v", got, body)
	}
}

func TestEndRequestBodyRoundTrip(t *testing.T) {
	body := EndRequestBody{AppStatus: 1, ProtocolStatus: RequestComplete}
	buf := body.Marshal()

	got := UnmarshalEndRequestBody(buf[:])
	if got.AppStatus != body.AppStatus || got.ProtocolStatus != body.ProtocolStatus {
		t.Errorf("UnmarshalEndRequestBody(Marshal(body)) = %+v, want %+v", got, body)
	}
}

func TestHeaderMarshalFieldOrder(t *testing.T) {
	hdr := Header{Version: 1, Type: 4, RequestID: 0x0102, ContentLength: 0x0304, PaddingLength: 5, Reserved: 6}
	buf := hdr.Marshal()

	want := []byte{1, 4, 0x01, 0x02, 0x03, 0x04, 5, 6}
	if !bytes.Equal(buf[:], want) {
		t.Errorf("Marshal() = % x, want % x", buf, want)
	}
}
