// File: protocol/crash.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Crash-notification message: a NUL-padded namespace, acknowledged by one
// status byte.

package protocol

import (
	"fmt"
	"io"

	"github.com/momentics/hioload-accel/api"
)

// WriteCrashNotice sends the namespace of an arena whose peer crashed.
func WriteCrashNotice(w io.Writer, namespace string) error {
	if err := api.ValidateNamespace(namespace); err != nil {
		return err
	}
	var buf [api.MaxNamespaceLen]byte
	copy(buf[:], namespace)
	if _, err := w.Write(buf[:]); err != nil {
		return fmt.Errorf("%w: send crash notice: %w", api.ErrTransport, err)
	}
	return nil
}

// ReadCrashNotice receives one crash notice.
func ReadCrashNotice(rd io.Reader) (string, error) {
	var buf [api.MaxNamespaceLen]byte
	if _, err := io.ReadFull(rd, buf[:]); err != nil {
		return "", fmt.Errorf("%w: receive crash notice: %w", api.ErrTransport, err)
	}
	ns := cString(buf[:])
	if err := api.ValidateNamespace(ns); err != nil {
		return "", err
	}
	return ns, nil
}

// WriteStatus sends a bare status byte.
func WriteStatus(w io.Writer, s Status) error {
	if _, err := w.Write([]byte{byte(s)}); err != nil {
		return fmt.Errorf("%w: send status: %w", api.ErrTransport, err)
	}
	return nil
}

// ReadStatus receives a bare status byte.
func ReadStatus(rd io.Reader) (Status, error) {
	var b [1]byte
	if _, err := io.ReadFull(rd, b[:]); err != nil {
		return 0, fmt.Errorf("%w: receive status: %w", api.ErrTransport, err)
	}
	return Status(b[0]), nil
}
