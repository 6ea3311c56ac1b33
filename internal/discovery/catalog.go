// Package discovery is the protocol discovery harness: it empirically
// determines a working initialization sequence for a machine by trying
// catalogued combinations of init protocol and inter-command delay against
// a live connection and reporting the timings.
package discovery

import (
	"time"

	"github.com/nick-groenke/Project-Phoenix-MP-sub001/internal/protocol"
)

// InitProtocol is one candidate initialization sequence.
type InitProtocol int

const (
	ProtocolStandard InitProtocol = iota
	ProtocolInitOnly
	ProtocolPresetOnly
	ProtocolReversed
	ProtocolDoubleInit
	ProtocolInitConfigure
	ProtocolTripleHandshake
)

func (p InitProtocol) String() string {
	switch p {
	case ProtocolStandard:
		return "standard"
	case ProtocolInitOnly:
		return "init-only"
	case ProtocolPresetOnly:
		return "preset-only"
	case ProtocolReversed:
		return "reversed"
	case ProtocolDoubleInit:
		return "double-init"
	case ProtocolInitConfigure:
		return "init-configure"
	case ProtocolTripleHandshake:
		return "triple-handshake"
	default:
		return "unknown"
	}
}

// Frames returns the init sequence for this protocol variant, in send
// order.
func (p InitProtocol) Frames() [][]byte {
	switch p {
	case ProtocolInitOnly:
		return [][]byte{protocol.EncodeInit()}
	case ProtocolPresetOnly:
		return [][]byte{protocol.EncodeInitPreset()}
	case ProtocolReversed:
		return [][]byte{protocol.EncodeInitPreset(), protocol.EncodeInit()}
	case ProtocolDoubleInit:
		return [][]byte{protocol.EncodeInit(), protocol.EncodeInit(), protocol.EncodeInitPreset()}
	case ProtocolInitConfigure:
		// Some firmware revisions only wake up once they see a program.
		return [][]byte{
			protocol.EncodeInit(),
			protocol.EncodeInitPreset(),
			protocol.EncodeProgramParameters(protocol.ProgramParameters{}),
		}
	case ProtocolTripleHandshake:
		return [][]byte{
			protocol.EncodeInit(),
			protocol.EncodeInitPreset(),
			protocol.EncodeInitPreset(),
		}
	default:
		return [][]byte{protocol.EncodeInit(), protocol.EncodeInitPreset()}
	}
}

// DelayVariant is the pause applied after connecting and between init
// frames.
type DelayVariant time.Duration

const (
	DelayStandard DelayVariant = DelayVariant(100 * time.Millisecond)
	DelayLong     DelayVariant = DelayVariant(250 * time.Millisecond)
	DelayNone     DelayVariant = 0
	DelayShort    DelayVariant = DelayVariant(50 * time.Millisecond)
	DelayExtended DelayVariant = DelayVariant(500 * time.Millisecond)
)

func (d DelayVariant) Duration() time.Duration {
	return time.Duration(d)
}

// initProtocols and delayVariants are ordered by prior likelihood of
// success; the catalog inherits that order so tier prefixes try the most
// promising combinations first.
var initProtocols = []InitProtocol{
	ProtocolStandard,
	ProtocolInitOnly,
	ProtocolPresetOnly,
	ProtocolReversed,
	ProtocolDoubleInit,
	ProtocolInitConfigure,
	ProtocolTripleHandshake,
}

var delayVariants = []DelayVariant{
	DelayStandard,
	DelayLong,
	DelayNone,
	DelayShort,
	DelayExtended,
}

// TestConfig is one catalog entry: a protocol/delay pair plus the per-test
// connection timeout.
type TestConfig struct {
	Index    int
	Protocol InitProtocol
	Delay    DelayVariant
	Timeout  time.Duration
}

// Tier selects how much of the catalog a run covers.
type Tier int

const (
	TierQuick       Tier = 3
	TierRecommended Tier = 7
	TierFull        Tier = 35
)

func (t Tier) String() string {
	switch t {
	case TierQuick:
		return "Quick"
	case TierRecommended:
		return "Recommended"
	case TierFull:
		return "Full"
	default:
		return "Custom"
	}
}

const defaultTestTimeout = 10 * time.Second

// Catalog returns the full ordered catalog of protocol/delay combinations.
// Tiers are prefixes of this one list.
func Catalog() []TestConfig {
	configs := make([]TestConfig, 0, len(initProtocols)*len(delayVariants))
	for _, p := range initProtocols {
		for _, d := range delayVariants {
			configs = append(configs, TestConfig{
				Index:    len(configs),
				Protocol: p,
				Delay:    d,
				Timeout:  defaultTestTimeout,
			})
		}
	}
	return configs
}

// TierConfigs returns the catalog prefix covered by the tier.
func TierConfigs(tier Tier) []TestConfig {
	configs := Catalog()
	n := int(tier)
	if n < 1 || n > len(configs) {
		n = len(configs)
	}
	return configs[:n]
}
