// Package store implements the engine's persisted-state contract (spec
// §6): two flat JSON files under a data directory, positions and
// performance, each rewritten in full on every save. A corrupted file
// on load starts the engine with defaults and logs the event rather
// than failing initialisation. Grounded on the teacher's
// internal/db/db.go pool pattern for the additive Postgres/Redis
// layers in postgres.go and feecache.go; the JSON contract itself has
// no teacher analogue since cryptofunk persists everything to Postgres
// — it is grounded directly on original_source's
// PersistenceManager::savePositions/loadPositions (state.cpp), which
// writes the same two-file JSON shape.
package store

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/fundingbot/fundingbot/internal/arb"
	"github.com/fundingbot/fundingbot/internal/perf"
)

const (
	positionsFile  = "positions.json"
	performanceFile = "performance.json"
)

// FileStore persists positions and performance stats as flat JSON files
// under Dir, matching spec §6 exactly.
type FileStore struct {
	dir string
	log zerolog.Logger
}

// NewFileStore builds a FileStore rooted at dir, creating it if absent.
func NewFileStore(dir string, log zerolog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir, log: log.With().Str("component", "store").Logger()}, nil
}

// positionsEnvelope is the on-disk shape for the positions file.
type positionsEnvelope struct {
	Positions []arb.ArbitragePosition `json:"positions"`
}

// SavePositions rewrites the positions file in full (no partial
// mutation); writeJSON writes a temporary file and renames it over the
// old one.
func (s *FileStore) SavePositions(positions []arb.ArbitragePosition) error {
	return writeJSON(filepath.Join(s.dir, positionsFile), positionsEnvelope{Positions: positions})
}

// rawPositionsEnvelope mirrors positionsEnvelope but decodes
// strategy_index through a pointer so a null or absent field is
// distinguishable from an explicit 0, per spec §6's "unknown or null
// strategy_index normalises to -1" rule.
type rawPositionsEnvelope struct {
	Positions []struct {
		arb.ArbitragePosition
		Opportunity struct {
			arb.ArbitrageOpportunity
			StrategyIndex *int `json:"strategy_index"`
		} `json:"opportunity"`
	} `json:"positions"`
}

// LoadPositions reads the positions file. A missing file yields an
// empty slice (fresh start); a corrupted file logs the event and also
// starts empty, per spec §6.
func (s *FileStore) LoadPositions() []arb.ArbitragePosition {
	var raw rawPositionsEnvelope
	path := filepath.Join(s.dir, positionsFile)
	if err := readJSON(path, &raw); err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn().Err(err).Str("path", path).Msg("positions file unreadable, starting with defaults")
		}
		return nil
	}

	out := make([]arb.ArbitragePosition, len(raw.Positions))
	for i, p := range raw.Positions {
		pos := p.ArbitragePosition
		pos.Opportunity = p.Opportunity.ArbitrageOpportunity
		if p.Opportunity.StrategyIndex != nil {
			pos.Opportunity.StrategyIndex = *p.Opportunity.StrategyIndex
		} else {
			pos.Opportunity.StrategyIndex = -1
		}
		out[i] = pos
	}
	return out
}

// SavePerformance rewrites the performance file in full.
func (s *FileStore) SavePerformance(stats perf.Stats) error {
	return writeJSON(filepath.Join(s.dir, performanceFile), stats)
}

// LoadPerformance reads the performance file, returning the zero value
// (and false) when absent or corrupted.
func (s *FileStore) LoadPerformance() (perf.Stats, bool) {
	var stats perf.Stats
	path := filepath.Join(s.dir, performanceFile)
	if err := readJSON(path, &stats); err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn().Err(err).Str("path", path).Msg("performance file unreadable, starting with defaults")
		}
		return perf.Stats{}, false
	}
	return stats, true
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
