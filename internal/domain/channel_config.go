package domain

import "strings"

// Channel is a side-effect mechanism used to alert the user.
type Channel string

const (
	ChannelSound  Channel = "sound"
	ChannelHaptic Channel = "haptic"
	ChannelPush   Channel = "push"
	ChannelToast  Channel = "toast"
)

// Channels lists every delivery channel in dispatch order.
var Channels = []Channel{ChannelToast, ChannelSound, ChannelHaptic, ChannelPush}

// KeyLiveEnabled is the global live-delivery toggle.
const KeyLiveEnabled = "liveEnabled"

// ChannelConfig is the user's flat delivery preference map.
//
// Keys understood:
//
//	liveEnabled                  global live delivery (absent = off)
//	<channel>Enabled             e.g. soundEnabled; only an explicit false vetoes
//	<category>Enabled            e.g. chatEnabled; gates every channel of a category
//	<category><Channel>Enabled   e.g. chatSoundEnabled; most specific, wins
//
// Lookups are case-insensitive so maps loaded through viper (which lower-cases
// keys) behave the same as hand-built ones.
type ChannelConfig map[string]bool

// LiveEnabled reports the global live-delivery toggle.
func (c ChannelConfig) LiveEnabled() bool {
	v, _ := c.lookup(KeyLiveEnabled)
	return v
}

// Allows reports whether ch may fire for a notification of category cat.
// A category with no keys at all allows toast only.
func (c ChannelConfig) Allows(ch Channel, cat Category) bool {
	if !c.LiveEnabled() {
		return false
	}
	if v, ok := c.lookup(string(ch) + "Enabled"); ok && !v {
		return false
	}
	if cat != "" {
		if v, ok := c.lookup(string(cat) + capitalize(string(ch)) + "Enabled"); ok {
			return v
		}
		if v, ok := c.lookup(string(cat) + "Enabled"); ok {
			return v
		}
	}
	return ch == ChannelToast
}

// Clone returns an independent copy.
func (c ChannelConfig) Clone() ChannelConfig {
	out := make(ChannelConfig, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

func (c ChannelConfig) lookup(key string) (bool, bool) {
	if v, ok := c[key]; ok {
		return v, true
	}
	v, ok := c[strings.ToLower(key)]
	return v, ok
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
