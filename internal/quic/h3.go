package quic

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/quic-go/qpack"
	quicgo "github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/quicvarint"
)

// HTTP/3 frame types (RFC 9114 §7.2). Only DATA and HEADERS are needed
// for a basic request/response exchange; anything else encountered on
// the wire is skipped per the "unknown frame types MUST be ignored"
// requirement.
const (
	frameTypeData    = 0x0
	frameTypeHeaders = 0x1
)

// Exchange is a single HTTP/3 request/response carried on its own QUIC
// bidirectional stream. Unlike h1pool.Exchange, QUIC streams are cheap
// and not a shared scarce resource, so each Exchange owns its stream for
// its entire lifetime rather than being handed back to a pool.
type Exchange struct {
	stream quicStream
}

// quicStream is the subset of quic.Stream an Exchange needs; narrowed
// for easy faking in tests.
type quicStream interface {
	io.Reader
	io.Writer
	io.Closer
	CancelRead(code quicgo.StreamErrorCode)
	CancelWrite(code quicgo.StreamErrorCode)
}

func newExchange(stream quicStream) *Exchange {
	return &Exchange{stream: stream}
}

// Do writes req as a HEADERS frame (optionally followed by one DATA
// frame carrying the body), closes the send side, and reads the
// response HEADERS frame back.
func (e *Exchange) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	errCh := make(chan error, 1)
	go func() { errCh <- e.writeRequest(req) }()

	select {
	case err := <-errCh:
		if err != nil {
			return nil, err
		}
	case <-ctx.Done():
		e.stream.CancelWrite(0)
		return nil, ctx.Err()
	}

	return readResponse(e.stream, req)
}

func (e *Exchange) writeRequest(req *http.Request) error {
	if err := writeRequestHeaders(e.stream, req); err != nil {
		return err
	}
	if req.Body != nil {
		defer req.Body.Close()
		if err := writeDataFrame(e.stream, req.Body); err != nil {
			return err
		}
	}
	return e.stream.Close()
}

func writeRequestHeaders(w io.Writer, req *http.Request) error {
	var headerBuf bytes.Buffer
	enc := qpack.NewEncoder(&headerBuf)
	path := req.URL.RequestURI()
	if path == "" {
		path = "/"
	}
	authority := req.Host
	if authority == "" {
		authority = req.URL.Host
	}

	pseudo := []qpack.HeaderField{
		{Name: ":method", Value: req.Method},
		{Name: ":scheme", Value: "https"},
		{Name: ":authority", Value: authority},
		{Name: ":path", Value: path},
	}
	for _, f := range pseudo {
		if err := enc.WriteField(f); err != nil {
			return err
		}
	}
	for name, values := range req.Header {
		for _, v := range values {
			if err := enc.WriteField(qpack.HeaderField{Name: strings.ToLower(name), Value: v}); err != nil {
				return err
			}
		}
	}
	return writeFrame(w, frameTypeHeaders, headerBuf.Bytes())
}

func writeDataFrame(w io.Writer, body io.Reader) error {
	buf, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if len(buf) == 0 {
		return nil
	}
	return writeFrame(w, frameTypeData, buf)
}

func writeFrame(w io.Writer, frameType uint64, payload []byte) error {
	var buf bytes.Buffer
	quicvarint.Write(&buf, frameType)
	quicvarint.Write(&buf, uint64(len(payload)))
	buf.Write(payload)
	_, err := w.Write(buf.Bytes())
	return err
}

func readFrame(br *bufio.Reader) (frameType uint64, payload []byte, err error) {
	frameType, err = quicvarint.Read(br)
	if err != nil {
		return 0, nil, err
	}
	length, err := quicvarint.Read(br)
	if err != nil {
		return 0, nil, err
	}
	payload = make([]byte, length)
	if _, err := io.ReadFull(br, payload); err != nil {
		return 0, nil, err
	}
	return frameType, payload, nil
}

func readResponse(r io.Reader, req *http.Request) (*http.Response, error) {
	br := bufio.NewReader(r)
	for {
		frameType, payload, err := readFrame(br)
		if err != nil {
			return nil, err
		}
		switch frameType {
		case frameTypeHeaders:
			return decodeResponseHeaders(payload, req, br)
		case frameTypeData:
			return nil, fmt.Errorf("h3: server sent DATA before HEADERS")
		default:
			continue
		}
	}
}

func decodeResponseHeaders(payload []byte, req *http.Request, body io.Reader) (*http.Response, error) {
	var fields []qpack.HeaderField
	decoder := qpack.NewDecoder(func(hf qpack.HeaderField) {
		fields = append(fields, hf)
	})
	if _, err := decoder.Write(payload); err != nil {
		return nil, err
	}

	resp := &http.Response{
		Proto:      "HTTP/3.0",
		ProtoMajor: 3,
		Request:    req,
		Header:     http.Header{},
	}
	for _, f := range fields {
		if f.Name == ":status" {
			code, err := strconv.Atoi(f.Value)
			if err != nil {
				return nil, fmt.Errorf("h3: malformed :status %q: %w", f.Value, err)
			}
			resp.StatusCode = code
			resp.Status = strconv.Itoa(code) + " " + http.StatusText(code)
			continue
		}
		resp.Header.Add(f.Name, f.Value)
	}
	if resp.StatusCode == 0 {
		return nil, fmt.Errorf("h3: response missing :status pseudo-header")
	}
	resp.Body = io.NopCloser(&frameBodyReader{br: br})
	return resp, nil
}

// frameBodyReader adapts the remaining DATA frames on a response stream
// to a plain io.Reader, skipping any interleaved non-DATA frame types.
type frameBodyReader struct {
	br     *bufio.Reader
	remain int
}

func (r *frameBodyReader) Read(p []byte) (int, error) {
	for r.remain == 0 {
		frameType, length, err := r.nextFrameHeader()
		if err != nil {
			return 0, err
		}
		if frameType == frameTypeData {
			r.remain = length
			continue
		}
		if _, err := io.CopyN(io.Discard, r.br, int64(length)); err != nil {
			return 0, err
		}
	}
	n := len(p)
	if n > r.remain {
		n = r.remain
	}
	n, err := r.br.Read(p[:n])
	r.remain -= n
	return n, err
}

func (r *frameBodyReader) nextFrameHeader() (frameType uint64, length int, err error) {
	frameType, err = quicvarint.Read(r.br)
	if err != nil {
		return 0, 0, err
	}
	l, err := quicvarint.Read(r.br)
	if err != nil {
		return 0, 0, err
	}
	return frameType, int(l), nil
}
