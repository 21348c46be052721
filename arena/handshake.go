// File: arena/handshake.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package arena

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/momentics/hioload-accel/api"
)

const (
	handshakeOK   = "OK"
	handshakeFail = "FAIL"
)

// WriteHandshake publishes the outcome of manager initialization. The file
// is written to a temporary name and renamed so the controller never reads
// a partial record.
func WriteHandshake(path string, initErr error) error {
	body := handshakeOK
	if initErr != nil {
		body = handshakeFail + " " + initErr.Error()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("handshake dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(body), 0o644); err != nil {
		return fmt.Errorf("handshake write: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("handshake publish: %w", err)
	}
	return nil
}

// ReadHandshake reports whether a handshake has been published and, if so,
// whether it reported failure.
func ReadHandshake(path string) (done bool, err error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("handshake read: %w", err)
	}
	body := strings.TrimSpace(string(raw))
	if body == handshakeOK {
		return true, nil
	}
	msg := strings.TrimSpace(strings.TrimPrefix(body, handshakeFail))
	if msg == "" {
		msg = "manager reported failure"
	}
	return true, fmt.Errorf("%w: %s", api.ErrInitFailed, msg)
}
