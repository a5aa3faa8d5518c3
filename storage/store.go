package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"swave/core/types"
	"swave/native/collateral"
	"swave/native/loan"
)

// Key prefixes. Records are keyed by owner address; liquidation events are
// append-only under a per-owner prefix with the event id as suffix.
const (
	accountPrefix     = "account:"
	loanPrefix        = "loan:"
	positionPrefix    = "position:"
	assetPrefix       = "asset:"
	liquidationPrefix = "liquidation:"
	loanStatsKey      = "stats:loan"
	collateralKey     = "stats:collateral"
)

// Store persists accounts, loans, collateral positions, asset registry entries
// and liquidation events in a single LevelDB database. It backs the state
// interfaces of the ledger, the loan engine and the collateral custodian.
type Store struct {
	db *leveldb.DB
}

// Open creates or opens the database at path.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{})
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) get(key string, out any) (bool, error) {
	raw, err := s.db.Get([]byte(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("storage: get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("storage: decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) put(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("storage: encode %s: %w", key, err)
	}
	if err := s.db.Put([]byte(key), raw, nil); err != nil {
		return fmt.Errorf("storage: put %s: %w", key, err)
	}
	return nil
}

// GetAccount loads the token account for the address. A missing account
// resolves to nil without error.
func (s *Store) GetAccount(addr common.Address) (*types.Account, error) {
	var account types.Account
	ok, err := s.get(accountPrefix+addr.Hex(), &account)
	if err != nil || !ok {
		return nil, err
	}
	account.EnsureDefaults()
	return &account, nil
}

// PutAccount stores the token account for the address.
func (s *Store) PutAccount(addr common.Address, account *types.Account) error {
	return s.put(accountPrefix+addr.Hex(), account)
}

// GetLoan loads the loan record for the borrower. A missing record resolves to
// nil without error.
func (s *Store) GetLoan(borrower common.Address) (*loan.Loan, error) {
	var record loan.Loan
	ok, err := s.get(loanPrefix+borrower.Hex(), &record)
	if err != nil || !ok {
		return nil, err
	}
	record.EnsureDefaults()
	return &record, nil
}

// PutLoan stores the loan record keyed by borrower.
func (s *Store) PutLoan(record *loan.Loan) error {
	if record == nil {
		return fmt.Errorf("storage: nil loan")
	}
	return s.put(loanPrefix+record.Borrower.Hex(), record)
}

// ForEachLoan iterates all stored loans. Returning an error from fn stops the
// iteration.
func (s *Store) ForEachLoan(fn func(record *loan.Loan) error) error {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(loanPrefix)), nil)
	defer iter.Release()
	for iter.Next() {
		var record loan.Loan
		if err := json.Unmarshal(iter.Value(), &record); err != nil {
			return fmt.Errorf("storage: decode %s: %w", iter.Key(), err)
		}
		record.EnsureDefaults()
		if err := fn(&record); err != nil {
			return err
		}
	}
	return iter.Error()
}

// LoanStats loads the lending aggregates. Missing stats resolve to nil.
func (s *Store) LoanStats() (*loan.GlobalStats, error) {
	var stats loan.GlobalStats
	ok, err := s.get(loanStatsKey, &stats)
	if err != nil || !ok {
		return nil, err
	}
	stats.EnsureDefaults()
	return &stats, nil
}

// PutLoanStats stores the lending aggregates.
func (s *Store) PutLoanStats(stats *loan.GlobalStats) error {
	return s.put(loanStatsKey, stats)
}

// RecomputeLoanStats derives the lending aggregates from the stored loan set.
// The maintained counters are advisory; this is the authoritative view.
func (s *Store) RecomputeLoanStats() (*loan.GlobalStats, error) {
	stats := &loan.GlobalStats{}
	stats.EnsureDefaults()
	err := s.ForEachLoan(func(record *loan.Loan) error {
		switch record.State {
		case loan.StateActive:
			stats.TotalLoans++
			stats.ActiveLoans++
			stats.TotalVolume.Add(stats.TotalVolume, record.Principal)
		case loan.StateRepaid:
			stats.TotalLoans++
			stats.TotalVolume.Add(stats.TotalVolume, record.Principal)
		case loan.StateLiquidated:
			stats.TotalLoans++
			stats.TotalVolume.Add(stats.TotalVolume, record.Principal)
			stats.TotalLiquidations++
		}
		stats.TotalRepaid.Add(stats.TotalRepaid, record.TotalPayments)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// GetPosition loads the collateral position for the owner. A missing record
// resolves to nil without error.
func (s *Store) GetPosition(owner common.Address) (*collateral.Position, error) {
	var position collateral.Position
	ok, err := s.get(positionPrefix+owner.Hex(), &position)
	if err != nil || !ok {
		return nil, err
	}
	position.EnsureDefaults()
	return &position, nil
}

// PutPosition stores the collateral position keyed by owner.
func (s *Store) PutPosition(position *collateral.Position) error {
	if position == nil {
		return fmt.Errorf("storage: nil position")
	}
	return s.put(positionPrefix+position.Owner.Hex(), position)
}

// ForEachPosition iterates all stored positions. Returning an error from fn
// stops the iteration.
func (s *Store) ForEachPosition(fn func(position *collateral.Position) error) error {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(positionPrefix)), nil)
	defer iter.Release()
	for iter.Next() {
		var position collateral.Position
		if err := json.Unmarshal(iter.Value(), &position); err != nil {
			return fmt.Errorf("storage: decode %s: %w", iter.Key(), err)
		}
		position.EnsureDefaults()
		if err := fn(&position); err != nil {
			return err
		}
	}
	return iter.Error()
}

// GetAsset loads an asset registry entry by code. A missing entry resolves to
// nil without error.
func (s *Store) GetAsset(code string) (*collateral.Asset, error) {
	var asset collateral.Asset
	ok, err := s.get(assetPrefix+code, &asset)
	if err != nil || !ok {
		return nil, err
	}
	return &asset, nil
}

// PutAsset stores an asset registry entry keyed by code.
func (s *Store) PutAsset(asset *collateral.Asset) error {
	if asset == nil {
		return fmt.Errorf("storage: nil asset")
	}
	return s.put(assetPrefix+asset.Code, asset)
}

// AppendLiquidation writes a liquidation event record. Events are append-only
// and never overwritten: the event id makes the key unique per seizure.
func (s *Store) AppendLiquidation(event *collateral.LiquidationEvent) error {
	if event == nil {
		return fmt.Errorf("storage: nil liquidation event")
	}
	key := liquidationPrefix + event.Owner.Hex() + ":" + event.ID
	return s.put(key, event)
}

// LiquidationsFor returns every liquidation event recorded for the owner.
func (s *Store) LiquidationsFor(owner common.Address) ([]*collateral.LiquidationEvent, error) {
	prefix := liquidationPrefix + owner.Hex() + ":"
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()
	var out []*collateral.LiquidationEvent
	for iter.Next() {
		var event collateral.LiquidationEvent
		if err := json.Unmarshal(iter.Value(), &event); err != nil {
			return nil, fmt.Errorf("storage: decode %s: %w", iter.Key(), err)
		}
		out = append(out, &event)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return out, nil
}

// CollateralStats loads the custody aggregates. Missing stats resolve to nil.
func (s *Store) CollateralStats() (*collateral.GlobalStats, error) {
	var stats collateral.GlobalStats
	ok, err := s.get(collateralKey, &stats)
	if err != nil || !ok {
		return nil, err
	}
	stats.EnsureDefaults()
	return &stats, nil
}

// PutCollateralStats stores the custody aggregates.
func (s *Store) PutCollateralStats(stats *collateral.GlobalStats) error {
	return s.put(collateralKey, stats)
}

// RecomputeCollateralStats derives the custody aggregates from the stored
// position set.
func (s *Store) RecomputeCollateralStats() (*collateral.GlobalStats, error) {
	stats := &collateral.GlobalStats{}
	stats.EnsureDefaults()
	err := s.ForEachPosition(func(position *collateral.Position) error {
		if position.Status.Terminal() {
			stats.TotalPositions++
			if position.Status == collateral.StatusLiquidated {
				stats.TotalLiquidations++
			}
			return nil
		}
		stats.TotalPositions++
		stats.ActivePositions++
		stats.TotalLockedUSD.Add(stats.TotalLockedUSD, position.CurrentValueUSD)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}
