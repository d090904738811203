package http

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/martian/v3/har"

	"github.com/arashal/flowcap/mempool"
	"github.com/arashal/flowcap/parser"
)

// Parser accumulates each direction's raw bytes and repeatedly attempts a
// synchronous net/http parse, since nothing downstream reassembles
// out-of-order TCP segments for it. This trades the teacher's
// goroutine-plus-pipe approach for a buffer-and-retry loop, the form a
// single-threaded caller needs.
type Parser struct {
	pool mempool.BufferPool

	reqRaw  bytes.Buffer
	respRaw bytes.Buffer

	req      *http.Request
	reqBody  mempool.Buffer
	reqDone  bool

	resp     *http.Response
	respBody mempool.Buffer
	respDone bool
}

// NewFactory returns the registry factory for this protocol. Response
// bodies are buffered through pool.
func NewFactory(pool mempool.BufferPool) parser.Factory {
	return factory{pool: pool}
}

type factory struct{ pool mempool.BufferPool }

func (f factory) Name() string          { return Name }
func (f factory) Build() parser.Parser { return &Parser{pool: f.pool} }

func (p *Parser) Parse(payload []byte, dir parser.Direction) parser.Status {
	if dir == parser.ToServer {
		return p.parseRequest(payload)
	}
	return p.parseResponse(payload)
}

func (p *Parser) parseRequest(payload []byte) parser.Status {
	if p.reqDone {
		return parser.Ok
	}
	if p.reqRaw.Len()+len(payload) > maxHeaderSection_bytes && p.req == nil {
		return parser.Fail
	}
	p.reqRaw.Write(payload)

	br := bufio.NewReader(bytes.NewReader(p.reqRaw.Bytes()))
	req, err := http.ReadRequest(br)
	if err != nil {
		if isIncomplete(err) {
			return parser.Ok
		}
		return parser.Fail
	}

	body := p.pool.NewBuffer()
	if req.Body != nil {
		_, bodyErr := io.Copy(body, req.Body)
		req.Body.Close()
		if bodyErr != nil && isIncomplete(bodyErr) {
			body.Release()
			return parser.Ok
		}
	}

	p.req = req
	p.reqBody = body
	p.reqDone = true
	return parser.Ok
}

func (p *Parser) parseResponse(payload []byte) parser.Status {
	if p.respDone {
		return parser.Ok
	}
	if p.respRaw.Len()+len(payload) > maxHeaderSection_bytes && p.resp == nil {
		return parser.Fail
	}
	p.respRaw.Write(payload)

	br := bufio.NewReader(bytes.NewReader(p.respRaw.Bytes()))
	resp, err := http.ReadResponse(br, nil)
	if err != nil {
		if isIncomplete(err) {
			return parser.Ok
		}
		return parser.Fail
	}

	body := p.pool.NewBuffer()
	if resp.Body != nil {
		_, bodyErr := io.Copy(body, resp.Body)
		resp.Body.Close()
		if bodyErr != nil && isIncomplete(bodyErr) {
			body.Release()
			return parser.Ok
		}
	}

	p.resp = resp
	p.respBody = body
	p.respDone = true
	return parser.Ok
}

func isIncomplete(err error) bool {
	return errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, mempool.ErrEmptyPool)
}

func (p *Parser) Keys() []string {
	var keys []string
	if p.reqDone {
		keys = append(keys, "method", "url")
	}
	if p.respDone {
		keys = append(keys, "status_code")
	}
	if p.reqDone && p.respDone {
		keys = append(keys, "har_entry")
	}
	return keys
}

func (p *Parser) Get(key string) (interface{}, bool) {
	switch key {
	case "method":
		return p.req.Method, p.reqDone
	case "url":
		if !p.reqDone {
			return nil, false
		}
		return p.req.URL.String(), true
	case "status_code":
		return p.resp.StatusCode, p.respDone
	case "har_entry":
		return p.exportHAR()
	}
	return nil, false
}

// exportHAR builds a single HAR entry from the completed request/response
// pair. It is the reverse of turning a HAR file back into requests: here we
// construct one from a live decode instead of replaying a capture.
func (p *Parser) exportHAR() (*har.Entry, bool) {
	if !p.reqDone || !p.respDone {
		return nil, false
	}

	reqBody := bodyBytes(p.reqBody)
	entry := &har.Entry{
		StartedDateTime: time.Time{},
		Request: &har.Request{
			Method:      p.req.Method,
			URL:         p.req.URL.String(),
			HTTPVersion: p.req.Proto,
			Headers:     harHeaders(p.req.Header),
			HeadersSize: -1,
			BodySize:    int64(len(reqBody)),
		},
		Response: &har.Response{
			Status:      p.resp.StatusCode,
			StatusText:  p.resp.Status,
			HTTPVersion: p.resp.Proto,
			Headers:     harHeaders(p.resp.Header),
			Content: &har.Content{
				Size:     int64(bodyLen(p.respBody)),
				MimeType: p.resp.Header.Get("Content-Type"),
				Text:     bodyBytes(p.respBody),
			},
			HeadersSize: -1,
			BodySize:    int64(bodyLen(p.respBody)),
		},
	}
	if len(reqBody) > 0 {
		entry.Request.PostData = &har.PostData{
			MimeType: p.req.Header.Get("Content-Type"),
			Text:     string(reqBody),
		}
	}
	return entry, true
}

func harHeaders(h http.Header) []har.Header {
	out := make([]har.Header, 0, len(h))
	for name, values := range h {
		for _, v := range values {
			out = append(out, har.Header{Name: name, Value: v})
		}
	}
	return out
}

func bodyBytes(b mempool.Buffer) []byte {
	if b == nil {
		return nil
	}
	view := b.Bytes()
	return []byte(view.String())
}

func bodyLen(b mempool.Buffer) int {
	if b == nil {
		return 0
	}
	return b.Len()
}
