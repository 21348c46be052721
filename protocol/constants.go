// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Arena wire protocol constants.

package protocol

import "fmt"

// Opcode selects the controller command.
type Opcode uint32

const (
	OpStart Opcode = iota + 1
	OpStartDefault
	OpStop
	OpGetPID
	OpGetAvail
	OpGetLimit
	OpGetInfo
	OpPing
	OpFinishAll
)

var opcodeNames = map[Opcode]string{
	OpStart:        "START",
	OpStartDefault: "START_DEFAULT",
	OpStop:         "STOP",
	OpGetPID:       "GET_PID",
	OpGetAvail:     "GET_AVAIL",
	OpGetLimit:     "GET_LIMIT",
	OpGetInfo:      "GET_INFO",
	OpPing:         "PING",
	OpFinishAll:    "FINISH_ALL",
}

func (o Opcode) String() string {
	if s, ok := opcodeNames[o]; ok {
		return s
	}
	return fmt.Sprintf("Opcode(%d)", uint32(o))
}

// Valid reports whether o is a known opcode.
func (o Opcode) Valid() bool {
	_, ok := opcodeNames[o]
	return ok
}

// Status is the one-byte response header.
type Status uint8

const (
	StatusOK   Status = 0
	StatusNG   Status = 1
	StatusInit Status = 2 // namespace already served by a live manager
	StatusQuit Status = 3 // controller finished all arenas and is exiting
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusNG:
		return "NG"
	case StatusInit:
		return "INIT"
	case StatusQuit:
		return "QUIT"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// Layout sizes.
const (
	RequestSize    = 128
	RecordSize     = 136
	versionLen     = 31
	MaxInfoRecords = 4096
)

// Default listen endpoints.
const (
	DefaultControlAddr = "127.0.0.1:17600"
	DefaultCrashAddr   = "127.0.0.1:17601"
)
