package pressure

import (
	"fmt"
	"time"

	"depthbook/internal/types"

	"github.com/shopspring/decimal"
)

const maxIntensity = 10

var (
	maxIntensityDec  = decimal.NewFromInt(maxIntensity)
	maxDensityFactor = decimal.NewFromInt(2)
	twoDec           = decimal.NewFromInt(2)
)

// Config controls zone sensitivity. PriceRangePercent is reserved for
// merging zones by price proximity and is only validated.
type Config struct {
	VolumeThresholdMultiplier float64 `yaml:"volume_threshold_multiplier"`
	PriceRangePercent         float64 `yaml:"price_range_percent"`
	MinLevelsForZone          int     `yaml:"min_levels_for_zone"`
}

// DefaultConfig returns multiplier 2.5, range 0.1% and 3 levels per zone
func DefaultConfig() Config {
	return Config{
		VolumeThresholdMultiplier: 2.5,
		PriceRangePercent:         0.1,
		MinLevelsForZone:          3,
	}
}

// Validate checks the configuration values
func (c Config) Validate() error {
	if c.VolumeThresholdMultiplier <= 0 {
		return fmt.Errorf("volume threshold multiplier must be positive, got %g", c.VolumeThresholdMultiplier)
	}
	if c.PriceRangePercent < 0 {
		return fmt.Errorf("price range percent must not be negative, got %g", c.PriceRangePercent)
	}
	if c.MinLevelsForZone < 1 {
		return fmt.Errorf("min levels for zone must be at least 1, got %d", c.MinLevelsForZone)
	}
	return nil
}

// Zone is a contiguous band of levels with unusually large resting volume
type Zone struct {
	Price      decimal.Decimal    `json:"price"`
	PriceRange [2]decimal.Decimal `json:"priceRange"`
	Volume     decimal.Decimal    `json:"volume"`
	Side       types.Side         `json:"type"`
	Intensity  decimal.Decimal    `json:"intensity"`
	Levels     int                `json:"levels"`
}

// Detector finds pressure zones in book snapshots. It holds no state
// between calls and is safe for concurrent use.
type Detector struct {
	cfg        Config
	multiplier decimal.Decimal
	minLevels  decimal.Decimal
}

// NewDetector creates a detector. Invalid values fall back to defaults.
func NewDetector(cfg Config) *Detector {
	def := DefaultConfig()
	if cfg.VolumeThresholdMultiplier <= 0 {
		cfg.VolumeThresholdMultiplier = def.VolumeThresholdMultiplier
	}
	if cfg.MinLevelsForZone < 1 {
		cfg.MinLevelsForZone = def.MinLevelsForZone
	}
	return &Detector{
		cfg:        cfg,
		multiplier: decimal.NewFromFloat(cfg.VolumeThresholdMultiplier),
		minLevels:  decimal.NewFromInt(int64(cfg.MinLevelsForZone)),
	}
}

// Detect returns bid zones followed by ask zones, each in book order
func (d *Detector) Detect(snapshot types.BookSnapshot) []Zone {
	zones := d.DetectSide(snapshot.Bids, types.Bid)
	return append(zones, d.DetectSide(snapshot.Asks, types.Ask)...)
}

// DetectSide scans one side from the best price outward
func (d *Detector) DetectSide(levels []types.OrderLevel, side types.Side) []Zone {
	if len(levels) < d.cfg.MinLevelsForZone {
		return nil
	}

	total := decimal.Zero
	for _, lvl := range levels {
		total = total.Add(lvl.Quantity)
	}
	average := total.Div(decimal.NewFromInt(int64(len(levels))))
	if average.Sign() <= 0 {
		return nil
	}
	threshold := average.Mul(d.multiplier)

	var zones []Zone
	start := -1
	flush := func(end int) {
		if start < 0 {
			return
		}
		if end-start >= d.cfg.MinLevelsForZone {
			zones = append(zones, d.buildZone(levels[start:end], side, average))
		}
		start = -1
	}

	for i, lvl := range levels {
		if lvl.Quantity.GreaterThanOrEqual(threshold) {
			if start < 0 {
				start = i
			}
			continue
		}
		flush(i)
	}
	flush(len(levels))

	return zones
}

func (d *Detector) buildZone(run []types.OrderLevel, side types.Side, average decimal.Decimal) Zone {
	volume := decimal.Zero
	low, high := run[0].Price, run[0].Price
	for _, lvl := range run {
		volume = volume.Add(lvl.Quantity)
		low = decimal.Min(low, lvl.Price)
		high = decimal.Max(high, lvl.Price)
	}

	length := decimal.NewFromInt(int64(len(run)))
	density := decimal.Min(length.Div(d.minLevels), maxDensityFactor)
	intensity := volume.Div(average.Mul(length)).Mul(density)
	intensity = decimal.Min(intensity, maxIntensityDec)

	return Zone{
		Price:      low.Add(high).Div(twoDec),
		PriceRange: [2]decimal.Decimal{low, high},
		Volume:     volume,
		Side:       side,
		Intensity:  intensity,
		Levels:     len(run),
	}
}

// Report bundles the analytics derived from one snapshot
type Report struct {
	Exchange   string          `json:"exchange"`
	Symbol     string          `json:"symbol"`
	SequenceID int64           `json:"sequenceId"`
	Timestamp  time.Time       `json:"timestamp"`
	BestBid    decimal.Decimal `json:"bestBid"`
	BestAsk    decimal.Decimal `json:"bestAsk"`
	MidPrice   decimal.Decimal `json:"midPrice"`
	Zones      []Zone          `json:"zones"`
	Balance    Balance         `json:"balance"`
}

// Report runs detection and balance analysis over snapshot
func (d *Detector) Report(snapshot types.BookSnapshot) Report {
	zones := d.Detect(snapshot)
	if zones == nil {
		zones = []Zone{}
	}
	return Report{
		Exchange:   snapshot.Exchange,
		Symbol:     snapshot.Symbol,
		SequenceID: snapshot.SequenceID,
		Timestamp:  snapshot.Timestamp,
		BestBid:    snapshot.Stats.BestBid,
		BestAsk:    snapshot.Stats.BestAsk,
		MidPrice:   snapshot.Stats.MidPrice,
		Zones:      zones,
		Balance:    Analyze(zones),
	}
}
