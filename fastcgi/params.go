package fastcgi

import (
	"bytes"
	"encoding/binary"
	"io"
)

// ReadNameValuePairs decodes a stream of FastCGI name-value pairs (the
// concatenated content of one or more PARAMS records) into a map keyed by
// name. A truncated length prefix or a pair whose declared length runs
// past the end of data is reported as ErrParamTruncation.
func ReadNameValuePairs(data []byte) (map[string][]byte, error) {
	params := make(map[string][]byte)
	r := bytes.NewReader(data)

	for r.Len() > 0 {
		nameLen, err := readLength(r)
		if err != nil {
			return nil, wrapParamErr(err)
		}

		valueLen, err := readLength(r)
		if err != nil {
			return nil, wrapParamErr(err)
		}

		name := make([]byte, nameLen)
		if _, err := io.ReadFull(r, name); err != nil {
			return nil, wrapParamErr(err)
		}

		value := make([]byte, valueLen)
		if _, err := io.ReadFull(r, value); err != nil {
			return nil, wrapParamErr(err)
		}

		params[string(name)] = value
	}

	return params, nil
}

// WriteNameValuePairs encodes params into the FastCGI name-value pair wire
// format, ready to be chunked into PARAMS records by the caller.
func WriteNameValuePairs(params map[string][]byte) []byte {
	var buf bytes.Buffer

	for name, value := range params {
		writeLength(&buf, len(name))
		writeLength(&buf, len(value))
		buf.WriteString(name)
		buf.Write(value)
	}

	return buf.Bytes()
}

// wrapParamErr normalizes any short-read error from the length/name/value
// decode loop into ErrParamTruncation, preserving the underlying cause.
func wrapParamErr(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return wrap(ErrParamTruncation, "decode name-value pairs", err)
	}
	return err
}

// readLength reads a FastCGI variable-length integer: one byte if the high
// bit is clear, four big-endian bytes (high bit masked off) otherwise.
func readLength(r io.Reader) (int, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}

	if b[0]&0x80 == 0 {
		return int(b[0]), nil
	}

	var rest [3]byte
	if _, err := io.ReadFull(r, rest[:]); err != nil {
		return 0, io.ErrUnexpectedEOF
	}

	length := uint32(b[0]&0x7f)<<24 | uint32(rest[0])<<16 | uint32(rest[1])<<8 | uint32(rest[2])
	return int(length), nil
}

// writeLength writes length using the same 1-byte/4-byte encoding readLength
// decodes.
func writeLength(w io.Writer, length int) {
	if length < 128 {
		w.Write([]byte{byte(length)})
		return
	}
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(length)|0x80000000)
	w.Write(buf[:])
}
