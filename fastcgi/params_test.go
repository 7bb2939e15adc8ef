package fastcgi

import (
	"bytes"
	"errors"
	"testing"
)

func TestNameValuePairsRoundTrip(t *testing.T) {
	in := map[string][]byte{
		"SCRIPT_NAME": []byte("/index.php"),
		"REQUEST_METHOD": []byte("GET"),
	}

	encoded := WriteNameValuePairs(in)
	got, err := ReadNameValuePairs(encoded)
	if err != nil {
		t.Fatalf("ReadNameValuePairs: %v", err)
	}

	if len(got) != len(in) {
		t.Fatalf("got %d pairs, want %d", len(got), len(in))
	}
	for k, v := range in {
		gv, ok := got[k]
		if !ok {
			t.Errorf("missing key %q", k)
			continue
		}
		if !bytes.Equal(gv, v) {
			t.Errorf("key %q = %q, want %q", k, gv, v)
		}
	}
}

func TestNameValuePairsLongLength(t *testing.T) {
	longValue := bytes.Repeat([]byte("x"), 200)
	in := map[string][]byte{"BODY": longValue}

	encoded := WriteNameValuePairs(in)
	got, err := ReadNameValuePairs(encoded)
	if err != nil {
		t.Fatalf("ReadNameValuePairs: %v", err)
	}
	if !bytes.Equal(got["BODY"], longValue) {
		t.Errorf("long value round trip mismatch, got len %d want len %d", len(got["BODY"]), len(longValue))
	}
}

func TestNameValuePairsTruncated(t *testing.T) {
	// A name-length byte claiming 10 bytes of name but none present.
	truncated := []byte{10}

	_, err := ReadNameValuePairs(truncated)
	if !errors.Is(err, ErrParamTruncation) {
		t.Errorf("ReadNameValuePairs(truncated) err = %v, want ErrParamTruncation", err)
	}
}

func TestNameValuePairsEmpty(t *testing.T) {
	got, err := ReadNameValuePairs(nil)
	if err != nil {
		t.Fatalf("ReadNameValuePairs(nil): %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d pairs from empty input, want 0", len(got))
	}
}

func TestReadLengthEncodingBoundary(t *testing.T) {
	r := bytes.NewReader([]byte{127})
	n, err := readLength(r)
	if err != nil || n != 127 {
		t.Fatalf("readLength(127) = %d, %v, want 127, nil", n, err)
	}

	var buf bytes.Buffer
	writeLength(&buf, 128)
	n, err = readLength(bytes.NewReader(buf.Bytes()))
	if err != nil || n != 128 {
		t.Fatalf("readLength(writeLength(128)) = %d, %v, want 128, nil", n, err)
	}
}
