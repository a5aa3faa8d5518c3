package credit

import (
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Scoring thresholds. Each satisfied factor contributes twenty points on top
// of the twenty point base, capping the score at one hundred.
const (
	BaseScore              = 20
	MaxScore               = 100
	FactorPoints           = 20
	WalletAgeThresholdDays = 90
	TxCountThreshold       = 10
	AssetDiversityMinimum  = 3
)

// HighVolumeThreshold is the lifetime transaction volume, in 7-decimal
// fixed-point units, above which the volume factor is awarded.
var HighVolumeThreshold = big.NewInt(100_000_000_000)

var ErrProfileNotFound = errors.New("credit: profile not found")

// Scorer computes a credit score in [0, 100] for an account. Loan origination
// calls the scorer synchronously inside the same transaction; any failure
// aborts origination.
type Scorer interface {
	Score(owner common.Address) (uint8, error)
}

// Profile captures the observable on-chain behaviour that feeds the factor
// scorer.
type Profile struct {
	WalletAgeDays  uint64
	TxCount        uint64
	AssetDiversity uint32
	TotalVolume    *big.Int
}

// ProfileSource resolves the behavioural profile for an account.
type ProfileSource interface {
	Profile(owner common.Address) (Profile, error)
}

// ProfileScorer derives a deterministic score from a behavioural profile:
// twenty base points plus twenty for each satisfied factor (wallet age,
// transaction count, asset diversity, lifetime volume).
type ProfileScorer struct {
	source ProfileSource
}

// NewProfileScorer constructs a scorer backed by the provided profile source.
func NewProfileScorer(source ProfileSource) *ProfileScorer {
	return &ProfileScorer{source: source}
}

// Score implements the Scorer interface.
func (s *ProfileScorer) Score(owner common.Address) (uint8, error) {
	if s == nil || s.source == nil {
		return 0, errors.New("credit: profile source not configured")
	}
	profile, err := s.source.Profile(owner)
	if err != nil {
		return 0, err
	}
	score := uint32(BaseScore)
	if profile.WalletAgeDays >= WalletAgeThresholdDays {
		score += FactorPoints
	}
	if profile.TxCount >= TxCountThreshold {
		score += FactorPoints
	}
	if profile.AssetDiversity >= AssetDiversityMinimum {
		score += FactorPoints
	}
	if profile.TotalVolume != nil && profile.TotalVolume.Cmp(HighVolumeThreshold) >= 0 {
		score += FactorPoints
	}
	if score > MaxScore {
		score = MaxScore
	}
	return uint8(score), nil
}

// StaticScorer returns fixed scores per account. It backs tests and manual
// underwriting overrides.
type StaticScorer struct {
	mu      sync.RWMutex
	scores  map[common.Address]uint8
	missing error
}

// NewStaticScorer constructs an empty static scorer. Unknown accounts resolve
// to ErrProfileNotFound.
func NewStaticScorer() *StaticScorer {
	return &StaticScorer{scores: make(map[common.Address]uint8), missing: ErrProfileNotFound}
}

// Set records the score for an account, clamping at MaxScore.
func (s *StaticScorer) Set(owner common.Address, score uint8) {
	if s == nil {
		return
	}
	if score > MaxScore {
		score = MaxScore
	}
	s.mu.Lock()
	s.scores[owner] = score
	s.mu.Unlock()
}

// Score implements the Scorer interface.
func (s *StaticScorer) Score(owner common.Address) (uint8, error) {
	if s == nil {
		return 0, ErrProfileNotFound
	}
	s.mu.RLock()
	score, ok := s.scores[owner]
	s.mu.RUnlock()
	if !ok {
		return 0, s.missing
	}
	return score, nil
}
