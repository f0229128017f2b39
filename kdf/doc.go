// Package kdf turns passwords into symmetric keys with scrypt and calibrates the
// scrypt cost to the local machine.
//
// Derivation is deterministic for identical inputs; that is how an encrypted
// record is reopened without storing its key. Calibration picks the largest cost
// exponent whose derivation stays under CalibrationThreshold and is computed at
// most once per Calibrator.
package kdf
