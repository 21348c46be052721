// File: protocol/request.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/momentics/hioload-accel/api"
)

// Request is one decoded controller command.
type Request struct {
	Op        Opcode
	Namespace string
	Budget    api.Budget
	Socket    int32
}

// MarshalBinary encodes r into the fixed request layout.
func (r *Request) MarshalBinary() ([]byte, error) {
	if len(r.Namespace) >= api.MaxNamespaceLen {
		return nil, fmt.Errorf("%w: namespace too long", api.ErrInvalidArgument)
	}
	buf := make([]byte, RequestSize)
	binary.LittleEndian.PutUint32(buf[0:], uint32(r.Op))
	copy(buf[4:4+api.MaxNamespaceLen], r.Namespace)
	off := 4 + api.MaxNamespaceLen
	for i, pages := range r.Budget {
		binary.LittleEndian.PutUint32(buf[off+4*i:], pages)
	}
	off += 4 * api.MaxSockets
	binary.LittleEndian.PutUint32(buf[off:], uint32(r.Socket))
	return buf, nil
}

// UnmarshalBinary decodes the fixed request layout.
func (r *Request) UnmarshalBinary(buf []byte) error {
	if len(buf) < RequestSize {
		return fmt.Errorf("%w: short request (%d bytes)", api.ErrInvalidArgument, len(buf))
	}
	r.Op = Opcode(binary.LittleEndian.Uint32(buf[0:]))
	r.Namespace = cString(buf[4 : 4+api.MaxNamespaceLen])
	off := 4 + api.MaxNamespaceLen
	for i := range r.Budget {
		r.Budget[i] = binary.LittleEndian.Uint32(buf[off+4*i:])
	}
	off += 4 * api.MaxSockets
	r.Socket = int32(binary.LittleEndian.Uint32(buf[off:]))
	return nil
}

// WriteRequest sends r as one fixed-size record.
func WriteRequest(w io.Writer, r *Request) error {
	buf, err := r.MarshalBinary()
	if err != nil {
		return err
	}
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("%w: send request: %w", api.ErrTransport, err)
	}
	return nil
}

// ReadRequest reads one fixed-size record. io.EOF is returned unwrapped when
// the peer closed the stream between requests.
func ReadRequest(rd io.Reader) (*Request, error) {
	buf := make([]byte, RequestSize)
	if _, err := io.ReadFull(rd, buf); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: receive request: %w", api.ErrTransport, err)
	}
	r := &Request{}
	if err := r.UnmarshalBinary(buf); err != nil {
		return nil, err
	}
	return r, nil
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
