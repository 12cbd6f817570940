package urlrequest

import (
	"compress/flate"
	"compress/gzip"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
)

// acceptEncoding builds the Accept-Encoding value this engine advertises
// on every outgoing request: gzip and deflate unconditionally, with br
// appended only when brotli support is enabled at build time.
func acceptEncoding(enableBrotli bool) string {
	if enableBrotli {
		return "gzip, deflate, br"
	}
	return "gzip, deflate"
}

// decodeContentEncoding transparently undoes whatever Content-Encoding
// the server applied, the response-side half of the Accept-Encoding this
// engine advertises in buildHTTPRequest. Callers (the cache, deliverBody)
// never see compressed bytes; Content-Encoding and Content-Length — no
// longer accurate once decompressed — are stripped so nothing downstream
// records stale metadata about the body it's about to read.
func decodeContentEncoding(resp *http.Response) error {
	enc := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	if enc == "" || enc == "identity" {
		return nil
	}

	var decoded io.Reader
	switch enc {
	case "gzip":
		gr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return err
		}
		decoded = gr
	case "deflate":
		decoded = flate.NewReader(resp.Body)
	case "br":
		decoded = brotli.NewReader(resp.Body)
	default:
		// Unrecognized encoding: leave the body as-is rather than guess.
		return nil
	}

	resp.Body = &decodingBody{Reader: decoded, orig: resp.Body}
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	return nil
}

// decodingBody pairs a decompressing io.Reader with the original
// (compressed) body so Close still releases the underlying connection
// back to its pool rather than leaking it.
type decodingBody struct {
	io.Reader
	orig io.ReadCloser
}

func (d *decodingBody) Close() error { return d.orig.Close() }
