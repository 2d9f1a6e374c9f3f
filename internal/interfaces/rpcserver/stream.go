package rpcserver

import (
	"bufio"
	"encoding/json"
	"io"
	"sync"
)

// ndjsonStream is a jsonrpc2.ObjectStream that frames each JSON-RPC
// object as exactly one line, rather than jsonrpc2's built-in
// Content-Length framing (the wire shape LSP servers use). §6 fixes
// the transport as "newline-delimited JSON-RPC 2.0 over a full-duplex
// byte stream (conventionally stdin/stdout)", so the framing has to
// be supplied here rather than reused from the library.
type ndjsonStream struct {
	scanner *bufio.Scanner

	writeMu sync.Mutex
	w       io.Writer
}

// newNDJSONStream wraps r/w as a newline-delimited object stream.
// maxLineBytes bounds a single frame; 0 uses bufio's default.
func newNDJSONStream(r io.Reader, w io.Writer, maxLineBytes int) *ndjsonStream {
	scanner := bufio.NewScanner(r)
	if maxLineBytes > 0 {
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	}
	return &ndjsonStream{scanner: scanner, w: w}
}

// ReadObject reads the next line and unmarshals it into v.
func (s *ndjsonStream) ReadObject(v interface{}) error {
	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			return err
		}
		return io.EOF
	}
	return json.Unmarshal(s.scanner.Bytes(), v)
}

// WriteObject marshals v and writes it followed by a single newline.
// Serialized against concurrent writers: jsonrpc2.Conn calls
// WriteObject from whichever goroutine is sending at the time
// (request dispatch and notification emission run concurrently).
func (s *ndjsonStream) WriteObject(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err = s.w.Write(data)
	return err
}

// Close closes the underlying writer if it supports it. The reader
// side (stdin) is left open for the process to manage.
func (s *ndjsonStream) Close() error {
	if c, ok := s.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
