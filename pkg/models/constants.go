package models

import "time"

// Exchange constraints.
const (
	MaxFeeBps      uint16 = 1000 // 10% maximum fee
	MinTickSize    uint64 = 1
	MinOrderSize   uint64 = 1
	BpsDenominator uint64 = 10_000

	// MaxCrankIterations bounds the work of one matching invocation.
	MaxCrankIterations = 10
)

// PriceDecimals is the base-unit scale: one whole unit is 10^6 base units.
const PriceDecimals = 6

// Fee tiers by cumulative volume.
const (
	FeeTierRetail  uint8 = 0
	FeeTierVolume1 uint8 = 1
	FeeTierVolume2 uint8 = 2
	FeeTierVIP     uint8 = 3
)

// Cumulative-volume thresholds (base units) for the upgrade to each tier.
const (
	FeeTierVolume1Threshold uint64 = 1_000_000_000_000   // 1M units
	FeeTierVolume2Threshold uint64 = 10_000_000_000_000  // 10M units
	FeeTierVIPThreshold     uint64 = 100_000_000_000_000 // 100M units
)

// Escrow time constraints.
const (
	MinEscrowDuration     = time.Minute
	MaxEscrowDuration     = 30 * 24 * time.Hour
	DefaultEscrowDuration = time.Hour
)
