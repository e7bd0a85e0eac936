/*
Copyright 2026 The Conductor Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package budget implements C3: an append-only cost ledger with daily
// aggregation and a threshold gate. The ledger itself is append-only and
// needs no mutual exclusion beyond the OS's guarantee that O_APPEND
// writes below PIPE_BUF are atomic; Record serializes writers with a
// lightweight in-process mutex only to keep a single torn write from
// ever reaching disk from this process.
package budget

import (
	"bufio"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/conductorhq/conductor/internal/apperrors"
	"go.uber.org/zap"
)

// Entry is one ledger row (§6, cost ledger record shape).
type Entry struct {
	Time      time.Time
	Worker    string
	Feature   string
	TokensIn  int64
	TokensOut int64
	Cost      float64
}

// Ledger is C3: the append-only cost ledger and daily cap gate.
type Ledger struct {
	path               string
	costPerInputToken  float64
	costPerOutputToken float64
	maxDailyCost       float64
	logger             *zap.Logger

	mu sync.Mutex
}

// New creates a Ledger persisting to path, pricing tokens per the given
// static per-token costs (never hard-coded — see Config), and gating
// within_budget at maxDailyCost.
func New(path string, costPerInputToken, costPerOutputToken, maxDailyCost float64, logger *zap.Logger) *Ledger {
	return &Ledger{
		path:               path,
		costPerInputToken:  costPerInputToken,
		costPerOutputToken: costPerOutputToken,
		maxDailyCost:       maxDailyCost,
		logger:             logger,
	}
}

// Record computes cost under the configured static per-token prices and
// appends one row to the ledger.
func (l *Ledger) Record(worker, feature string, tokensIn, tokensOut int64) (Entry, error) {
	e := Entry{
		Time:      time.Now().UTC(),
		Worker:    worker,
		Feature:   feature,
		TokensIn:  tokensIn,
		TokensOut: tokensOut,
		Cost:      float64(tokensIn)*l.costPerInputToken + float64(tokensOut)*l.costPerOutputToken,
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return Entry{}, apperrors.Wrapf(err, apperrors.KindExternal, "create ledger directory for %s", l.path)
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return Entry{}, apperrors.Wrapf(err, apperrors.KindExternal, "open ledger %s", l.path)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	row := []string{
		e.Time.Format(time.RFC3339),
		e.Worker,
		e.Feature,
		strconv.FormatInt(e.TokensIn, 10),
		strconv.FormatInt(e.TokensOut, 10),
		strconv.FormatFloat(e.Cost, 'f', -1, 64),
	}
	if err := w.Write(row); err != nil {
		return Entry{}, apperrors.Wrap(err, apperrors.KindExternal, "write ledger row")
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return Entry{}, apperrors.Wrap(err, apperrors.KindExternal, "flush ledger row")
	}

	if l.logger != nil {
		l.logger.Debug("ledger entry recorded",
			zap.String("worker", worker), zap.String("feature", feature),
			zap.Int64("tokens_in", tokensIn), zap.Int64("tokens_out", tokensOut),
			zap.Float64("cost", e.Cost))
	}
	return e, nil
}

// Entries reads every row currently on disk. A missing ledger file reads
// as empty rather than an error — there is simply no spend yet.
func (l *Ledger) Entries() ([]Entry, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperrors.Wrapf(err, apperrors.KindExternal, "open ledger %s", l.path)
	}
	defer f.Close()

	r := csv.NewReader(bufio.NewReader(f))
	r.FieldsPerRecord = 6
	var out []Entry
	for {
		rec, err := r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			// A malformed row is a corrupt ledger, not a transient
			// external failure: surface it loudly rather than silently
			// under-counting spend.
			return nil, apperrors.Wrapf(err, apperrors.KindUnrecoverable, "parse ledger %s", l.path)
		}
		t, err := time.Parse(time.RFC3339, rec[0])
		if err != nil {
			return nil, apperrors.Wrapf(err, apperrors.KindUnrecoverable, "parse ledger timestamp in %s", l.path)
		}
		tokensIn, _ := strconv.ParseInt(rec[3], 10, 64)
		tokensOut, _ := strconv.ParseInt(rec[4], 10, 64)
		cost, _ := strconv.ParseFloat(rec[5], 64)
		out = append(out, Entry{
			Time: t, Worker: rec[1], Feature: rec[2],
			TokensIn: tokensIn, TokensOut: tokensOut, Cost: cost,
		})
	}
	return out, nil
}

// DailyTotal sums today's (UTC calendar day) ledger entries.
func (l *Ledger) DailyTotal() (float64, error) {
	entries, err := l.Entries()
	if err != nil {
		return 0, err
	}
	today := time.Now().UTC().Format("2006-01-02")
	var total float64
	for _, e := range entries {
		if e.Time.Format("2006-01-02") == today {
			total += e.Cost
		}
	}
	return total, nil
}

// Cap returns the configured daily cost cap, so callers that need to
// report an over-budget condition (e.g. notify.Notifier.NotifyCost) have
// both sides of the comparison without re-reading config themselves.
func (l *Ledger) Cap() float64 {
	return l.maxDailyCost
}

// WithinBudget reports whether today's spend is still under the
// configured daily cap. Workers and the reaper both consult this before
// any expensive external call; when it is false they suspend rather
// than exit, resuming once the ledger rolls over to a new day or the
// operator raises the cap.
func (l *Ledger) WithinBudget() (bool, error) {
	total, err := l.DailyTotal()
	if err != nil {
		return false, err
	}
	return total < l.maxDailyCost, nil
}
