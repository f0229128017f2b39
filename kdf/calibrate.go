package kdf

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// CalibrationThreshold is the per-derivation latency bound.
const CalibrationThreshold = 100 * time.Millisecond

var ErrCalibrationInconclusive = errors.New("kdf: no cost exponent reached the calibration threshold")

var (
	benchPassword = []byte("pangea")
	benchSalt     = []byte("signkit-kdf-calibration-salt-v1")
)

// CostSource yields the cost exponent for new encryptions.
type CostSource interface {
	LogN(ctx context.Context) int
}

// FixedCost is a CostSource that never calibrates.
type FixedCost int

func (c FixedCost) LogN(context.Context) int { return int(c) }

// Calibrator measures the scrypt cost once and caches it for its lifetime.
// It is safe for concurrent use.
type Calibrator struct {
	// Store optionally persists the result across processes.
	Store CostStore
	// Now defaults to time.Now.
	Now func() time.Time
	Log *log.Entry

	bench func(ctx context.Context, logN int) error

	mu     sync.Mutex
	cached int
}

func NewCalibrator(store CostStore) *Calibrator {
	return &Calibrator{Store: store}
}

// Calibrate scans cost exponents from 1 to MaxLogN and returns the exponent just
// below the first one whose derivation takes longer than CalibrationThreshold.
// If exponent 1 already exceeds the threshold, 1 is returned.
func (c *Calibrator) Calibrate(ctx context.Context) (int, error) {
	now := c.now()
	for logN := 1; logN <= MaxLogN; logN++ {
		start := now()
		if err := c.run(ctx, logN); err != nil {
			return 0, err
		}
		if now().Sub(start) > CalibrationThreshold {
			if logN > 1 {
				return logN - 1, nil
			}
			return logN, nil
		}
	}
	return 0, ErrCalibrationInconclusive
}

// LogN returns the cached cost exponent, loading it from Store or calibrating on
// first use. Failures fall back to DefaultLogN.
func (c *Calibrator) LogN(ctx context.Context) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cached > 0 {
		return c.cached
	}

	logger := c.logger()
	if c.Store != nil {
		n, ok, err := c.Store.LoadCost()
		switch {
		case err != nil:
			logger.WithError(err).Warn("calibration cache unreadable, recalibrating")
		case ok && n >= 1 && n <= MaxLogN:
			c.cached = n
			return n
		}
	}

	n, err := c.Calibrate(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return DefaultLogN
		}
		logger.WithError(err).Warnf("calibration failed, using default cost 2^%d", DefaultLogN)
		c.cached = DefaultLogN
		return c.cached
	}
	logger.WithField("log_n", n).Debug("scrypt cost calibrated")
	c.cached = n
	if c.Store != nil {
		if err := c.Store.SaveCost(n); err != nil {
			logger.WithError(err).Warn("could not persist calibration")
		}
	}
	return n
}

// Reset drops the cached value so the next LogN call calibrates again.
func (c *Calibrator) Reset() {
	c.mu.Lock()
	c.cached = 0
	c.mu.Unlock()
}

func (c *Calibrator) run(ctx context.Context, logN int) error {
	if c.bench != nil {
		return c.bench(ctx, logN)
	}
	key, err := Derive(ctx, benchPassword, benchSalt, ParamsForLogN(logN))
	if err != nil {
		return err
	}
	clear(key)
	return nil
}

func (c *Calibrator) now() func() time.Time {
	if c.Now != nil {
		return c.Now
	}
	return time.Now
}

func (c *Calibrator) logger() *log.Entry {
	if c.Log != nil {
		return c.Log
	}
	return log.WithField("component", "kdf")
}
