// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Wire format of the arena control channel and the crash-notification channel.
//
// A request is a fixed 128-byte little-endian record:
//
//	0   opcode     uint32
//	4   namespace  [64]byte, NUL padded
//	68  budget     [8]uint32 pages per NUMA socket
//	100 socket     int32 (GET_AVAIL / GET_LIMIT)
//	104 reserved   [24]byte
//
// A response is one status byte (OK, NG, INIT, QUIT). OK may be followed by a
// payload typed by the request opcode; NG is always followed by one
// api.ErrorCode byte.
package protocol
