package kdf

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const costRecordID = "logN"

// CostStore persists a calibration result outside the process.
type CostStore interface {
	LoadCost() (logN int, ok bool, err error)
	SaveCost(logN int) error
}

// FileCostStore keeps the calibrated exponent in a small JSON file.
// The file is a cache: it is rewritten in place when calibration runs again.
type FileCostStore struct {
	Path string
}

type costRecord struct {
	ID   string `json:"id"`
	Cost int    `json:"cost"`
}

func (s FileCostStore) LoadCost() (int, bool, error) {
	b, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, false, nil
		}
		return 0, false, err
	}
	var rec costRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return 0, false, fmt.Errorf("kdf: parse %s: %w", filepath.Base(s.Path), err)
	}
	if rec.ID != costRecordID || rec.Cost < 1 || rec.Cost > MaxLogN {
		return 0, false, nil
	}
	return rec.Cost, true, nil
}

func (s FileCostStore) SaveCost(logN int) error {
	if logN < 1 || logN > MaxLogN {
		return fmt.Errorf("%w: cost exponent %d out of range", ErrInvalidParams, logN)
	}
	b, err := json.Marshal(costRecord{ID: costRecordID, Cost: logN})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.Path), ".calibration-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.Path)
}
