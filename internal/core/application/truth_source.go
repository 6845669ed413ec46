package application

import (
	"encoding/base64"
	"sync"

	"github.com/google/uuid"

	"github.com/escrownet/escrowd/internal/core/domain"
)

// truthSourceKey is the composite in-memory key of an entity: its ID as
// Base64 of the raw bytes plus the chain ID as decimal string, matching the
// persistent store's keying.
func truthSourceKey(id uuid.UUID, chainID interface{ String() string }) string {
	return base64.StdEncoding.EncodeToString(id[:]) + "/" + chainID.String()
}

// entityLocks serializes mutation per entity key so no two concurrent
// action attempts touch the same entity's action state at once.
type entityLocks struct {
	mtx   sync.Mutex
	locks map[string]*sync.Mutex
}

func newEntityLocks() *entityLocks {
	return &entityLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *entityLocks) forKey(key string) *sync.Mutex {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	lock, ok := l.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[key] = lock
	}
	return lock
}

// OfferTruthSource is the in-memory authoritative view of the offers the
// node tracks.
type OfferTruthSource struct {
	mtx    sync.RWMutex
	offers map[string]*domain.Offer
}

func NewOfferTruthSource() *OfferTruthSource {
	return &OfferTruthSource{offers: make(map[string]*domain.Offer)}
}

func (s *OfferTruthSource) Get(key string) *domain.Offer {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return s.offers[key]
}

func (s *OfferTruthSource) Put(key string, offer *domain.Offer) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.offers[key] = offer
}

func (s *OfferTruthSource) Delete(key string) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	delete(s.offers, key)
}

// Find returns the first tracked offer matching the predicate, with its key.
func (s *OfferTruthSource) Find(match func(*domain.Offer) bool) (string, *domain.Offer) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	for key, offer := range s.offers {
		if match(offer) {
			return key, offer
		}
	}
	return "", nil
}

// SwapTruthSource is the in-memory authoritative view of the swaps the node
// is party to.
type SwapTruthSource struct {
	mtx   sync.RWMutex
	swaps map[string]*domain.Swap
}

func NewSwapTruthSource() *SwapTruthSource {
	return &SwapTruthSource{swaps: make(map[string]*domain.Swap)}
}

func (s *SwapTruthSource) Get(key string) *domain.Swap {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return s.swaps[key]
}

func (s *SwapTruthSource) Put(key string, swap *domain.Swap) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.swaps[key] = swap
}

func (s *SwapTruthSource) Find(match func(*domain.Swap) bool) (string, *domain.Swap) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	for key, swap := range s.swaps {
		if match(swap) {
			return key, swap
		}
	}
	return "", nil
}

// DisputeTruthSource is the in-memory authoritative view of the disputed
// swaps the node serves as an agent for.
type DisputeTruthSource struct {
	mtx      sync.RWMutex
	disputes map[string]*domain.SwapAndDispute
}

func NewDisputeTruthSource() *DisputeTruthSource {
	return &DisputeTruthSource{disputes: make(map[string]*domain.SwapAndDispute)}
}

func (s *DisputeTruthSource) Get(key string) *domain.SwapAndDispute {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return s.disputes[key]
}

func (s *DisputeTruthSource) Put(key string, sad *domain.SwapAndDispute) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.disputes[key] = sad
}
