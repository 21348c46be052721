// File: api/channel.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

import "fmt"

// Direction of a DMA channel.
type Direction uint8

const (
	// HostToCard moves data from host memory to the device (TX).
	HostToCard Direction = iota
	// CardToHost moves data from the device into host memory (RX).
	CardToHost
)

func (d Direction) String() string {
	switch d {
	case HostToCard:
		return "h2c"
	case CardToHost:
		return "c2h"
	default:
		return fmt.Sprintf("dir(%d)", uint8(d))
	}
}

// ChannelKey identifies one hardware channel.
type ChannelKey struct {
	Device    int
	Direction Direction
	Channel   int
}

func (k ChannelKey) String() string {
	return fmt.Sprintf("dev%d/%s/%d", k.Device, k.Direction, k.Channel)
}
