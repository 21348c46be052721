// File: protocol/response.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/momentics/hioload-accel/api"
)

// Response is a status byte plus the opcode-typed payload.
type Response struct {
	Status  Status
	Code    api.ErrorCode // set for StatusNG
	PID     int64         // GET_PID
	Value   uint64        // GET_AVAIL, GET_LIMIT
	Records []api.ArenaRecord
}

// OK builds a bare success response.
func OK() *Response { return &Response{Status: StatusOK} }

// NG builds a failure response classifying err.
func NG(err error) *Response {
	code := api.CodeOf(err)
	if code == api.ErrCodeOK {
		code = api.ErrCodeInternal
	}
	return &Response{Status: StatusNG, Code: code}
}

// Err converts a non-OK response into an error carrying the sentinel of its code.
func (r *Response) Err(op Opcode) error {
	switch r.Status {
	case StatusOK, StatusQuit:
		return nil
	case StatusInit:
		return &api.Error{Code: api.ErrCodeAlreadyActive, Message: op.String() + ": namespace already active"}
	case StatusNG:
		return &api.Error{Code: r.Code, Message: fmt.Sprintf("%s: controller returned NG (code %d)", op, r.Code)}
	default:
		return fmt.Errorf("%w: %s: unknown status %d", api.ErrTransport, op, r.Status)
	}
}

// WriteResponse encodes r for a request with opcode op.
func WriteResponse(w io.Writer, op Opcode, r *Response) error {
	buf := []byte{byte(r.Status)}
	switch {
	case r.Status == StatusNG:
		buf = append(buf, byte(r.Code))
	case r.Status != StatusOK:
	case op == OpGetPID:
		buf = binary.LittleEndian.AppendUint64(buf, uint64(r.PID))
	case op == OpGetAvail || op == OpGetLimit:
		buf = binary.LittleEndian.AppendUint64(buf, r.Value)
	case op == OpGetInfo:
		if len(r.Records) > MaxInfoRecords {
			return fmt.Errorf("%w: %d records exceeds %d", api.ErrInvalidArgument, len(r.Records), MaxInfoRecords)
		}
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(r.Records)))
		for i := range r.Records {
			buf = appendRecord(buf, &r.Records[i])
		}
	}
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("%w: send response: %w", api.ErrTransport, err)
	}
	return nil
}

// ReadResponse decodes the response to a request with opcode op.
func ReadResponse(rd io.Reader, op Opcode) (*Response, error) {
	var hdr [1]byte
	if _, err := io.ReadFull(rd, hdr[:]); err != nil {
		return nil, fmt.Errorf("%w: receive status: %w", api.ErrTransport, err)
	}
	r := &Response{Status: Status(hdr[0])}
	switch {
	case r.Status == StatusNG:
		var code [1]byte
		if _, err := io.ReadFull(rd, code[:]); err != nil {
			return nil, fmt.Errorf("%w: receive error code: %w", api.ErrTransport, err)
		}
		r.Code = api.ErrorCode(code[0])
	case r.Status != StatusOK:
	case op == OpGetPID, op == OpGetAvail, op == OpGetLimit:
		var v [8]byte
		if _, err := io.ReadFull(rd, v[:]); err != nil {
			return nil, fmt.Errorf("%w: receive %s payload: %w", api.ErrTransport, op, err)
		}
		if op == OpGetPID {
			r.PID = int64(binary.LittleEndian.Uint64(v[:]))
		} else {
			r.Value = binary.LittleEndian.Uint64(v[:])
		}
	case op == OpGetInfo:
		var n [4]byte
		if _, err := io.ReadFull(rd, n[:]); err != nil {
			return nil, fmt.Errorf("%w: receive record count: %w", api.ErrTransport, err)
		}
		count := binary.LittleEndian.Uint32(n[:])
		if count > MaxInfoRecords {
			return nil, fmt.Errorf("%w: record count %d exceeds %d", api.ErrInconsistentState, count, MaxInfoRecords)
		}
		raw := make([]byte, int(count)*RecordSize)
		if _, err := io.ReadFull(rd, raw); err != nil {
			return nil, fmt.Errorf("%w: receive records: %w", api.ErrTransport, err)
		}
		r.Records = make([]api.ArenaRecord, count)
		for i := range r.Records {
			decodeRecord(raw[i*RecordSize:(i+1)*RecordSize], &r.Records[i])
		}
	}
	return r, nil
}

// Record layout: namespace [64]byte, pid int64, budget [8]uint32, state uint8, version [31]byte.
func appendRecord(buf []byte, rec *api.ArenaRecord) []byte {
	var raw [RecordSize]byte
	copy(raw[:api.MaxNamespaceLen-1], rec.Namespace)
	off := api.MaxNamespaceLen
	binary.LittleEndian.PutUint64(raw[off:], uint64(rec.PID))
	off += 8
	for i, pages := range rec.Budget {
		binary.LittleEndian.PutUint32(raw[off+4*i:], pages)
	}
	off += 4 * api.MaxSockets
	raw[off] = byte(rec.State)
	off++
	copy(raw[off:off+versionLen-1], rec.Version)
	return append(buf, raw[:]...)
}

func decodeRecord(raw []byte, rec *api.ArenaRecord) {
	rec.Namespace = cString(raw[:api.MaxNamespaceLen])
	off := api.MaxNamespaceLen
	rec.PID = int(int64(binary.LittleEndian.Uint64(raw[off:])))
	off += 8
	for i := range rec.Budget {
		rec.Budget[i] = binary.LittleEndian.Uint32(raw[off+4*i:])
	}
	off += 4 * api.MaxSockets
	rec.State = api.ArenaState(raw[off])
	off++
	rec.Version = cString(raw[off : off+versionLen])
}
