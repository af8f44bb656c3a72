package proxy

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

var errHeaderTooLarge = errors.New("request header too large")

// HeaderField is one header line as the client sent it.
type HeaderField struct {
	Name  string
	Value string
}

// request is a client's request head. Header keeps the client's field order
// and name spelling.
type request struct {
	Method string
	Target string
	Proto  string
	Header []HeaderField

	// head is the raw header block including the terminating blank line.
	head []byte
}

// Get returns the value of the first field named name, compared
// case-insensitively.
func (r *request) Get(name string) string {
	for _, f := range r.Header {
		if strings.EqualFold(f.Name, name) {
			return f.Value
		}
	}
	return ""
}

// readRequest reads a request head from br. Bytes after the blank line stay
// buffered in br.
func readRequest(br *bufio.Reader) (*request, error) {
	head, err := readHead(br, http.DefaultMaxHeaderBytes)
	if err != nil {
		return nil, err
	}
	return parseHead(head)
}

func readHead(br *bufio.Reader, limit int) ([]byte, error) {
	var head []byte
	lineStart := 0
	for {
		chunk, err := br.ReadSlice('\n')
		head = append(head, chunk...)
		if len(head) > limit {
			return nil, errHeaderTooLarge
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err == io.EOF && len(head) > 0 {
			return nil, io.ErrUnexpectedEOF
		}
		if err != nil {
			return nil, err
		}

		line := head[lineStart:]
		if len(bytes.TrimRight(line, "\r\n")) == 0 {
			if lineStart == 0 {
				// Tolerate empty lines before the request line.
				head = head[:0]
				continue
			}
			return head, nil
		}
		lineStart = len(head)
	}
}

func parseHead(head []byte) (*request, error) {
	lines := strings.Split(strings.TrimRight(string(head), "\r\n"), "\n")
	for i := range lines {
		lines[i] = strings.TrimSuffix(lines[i], "\r")
	}

	method, rest, ok1 := strings.Cut(lines[0], " ")
	target, proto, ok2 := strings.Cut(rest, " ")
	if !ok1 || !ok2 || method == "" || target == "" {
		return nil, fmt.Errorf("malformed request line %q", lines[0])
	}
	if _, _, ok := http.ParseHTTPVersion(proto); !ok {
		return nil, fmt.Errorf("malformed HTTP version %q", proto)
	}

	r := &request{
		Method: method,
		Target: target,
		Proto:  proto,
		Header: make([]HeaderField, 0, len(lines)-1),
		head:   head,
	}
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		if line[0] == ' ' || line[0] == '\t' {
			return nil, fmt.Errorf("obsolete header line folding: %q", line)
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok || name == "" || strings.ContainsAny(name, " \t") {
			return nil, fmt.Errorf("malformed header line %q", line)
		}
		r.Header = append(r.Header, HeaderField{Name: name, Value: strings.Trim(value, " \t")})
	}
	return r, nil
}
