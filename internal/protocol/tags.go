package protocol

import "fmt"

// Tag is the leading byte of every frame.
type Tag uint8

// Tag ranges. Control tags never overlap application tags.
const (
	notifyLast   Tag = 0x3F
	rpcFirst     Tag = 0x40
	rpcLast      Tag = 0x7F
	controlFirst Tag = 0xF0
)

// Application fire-and-forget tags.
const (
	TagRGBSet      Tag = 0x01
	TagColorUpdate Tag = 0x02
	TagPCMFrame    Tag = 0x03
	TagAudioColor  Tag = 0x04
	TagModeChanged Tag = 0x05
	TagAudioStart  Tag = 0x06
	TagAudioStop   Tag = 0x07
	TagGPIOWrite   Tag = 0x08
)

// Application RPC tags.
const (
	TagAuthenticate  Tag = 0x40
	TagGetState      Tag = 0x41
	TagSetMode       Tag = 0x42
	TagSetBrightness Tag = 0x43
	TagPing          Tag = 0x44
	TagListPeers     Tag = 0x45
)

// Control tags. Connect and Disconnect name local lifecycle events and are
// never valid on the wire.
const (
	TagConnect     Tag = 0xF0
	TagDisconnect  Tag = 0xF1
	TagRejectCall  Tag = 0xF2
	TagResolveCall Tag = 0xF3
	TagCall        Tag = 0xF4
)

var tagNames = map[Tag]string{
	TagRGBSet:        "rgb_set",
	TagColorUpdate:   "color_update",
	TagPCMFrame:      "pcm_frame",
	TagAudioColor:    "audio_color",
	TagModeChanged:   "mode_changed",
	TagAudioStart:    "audio_start",
	TagAudioStop:     "audio_stop",
	TagGPIOWrite:     "gpio_write",
	TagAuthenticate:  "authenticate",
	TagGetState:      "get_state",
	TagSetMode:       "set_mode",
	TagSetBrightness: "set_brightness",
	TagPing:          "ping",
	TagListPeers:     "list_peers",
	TagConnect:       "connect",
	TagDisconnect:    "disconnect",
	TagRejectCall:    "reject_call",
	TagResolveCall:   "resolve_call",
	TagCall:          "call",
}

func (t Tag) String() string {
	if name, ok := tagNames[t]; ok {
		return name
	}
	return fmt.Sprintf("tag(0x%02x)", uint8(t))
}

// IsNotify reports whether t is in the fire-and-forget range.
func (t Tag) IsNotify() bool { return t <= notifyLast }

// IsRPC reports whether t is in the application RPC range.
func (t Tag) IsRPC() bool { return t >= rpcFirst && t <= rpcLast }

// IsControl reports whether t is in the reserved control range.
func (t Tag) IsControl() bool { return t >= controlFirst }

// IsApplication reports whether t may carry application payloads.
func (t Tag) IsApplication() bool { return !t.IsControl() }
