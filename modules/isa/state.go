package isa

import (
	"sync"

	"github.com/aukilabs/raido/mapper"
)

type State struct {
	scanMutex sync.RWMutex
	scans     uint64
	rays      uint64
	last      mapper.Summary
}

func (s *State) CountScan(sum mapper.Summary) {
	s.scanMutex.Lock()
	defer s.scanMutex.Unlock()

	s.scans++
	s.rays += uint64(sum.Rays)
	s.last = sum
}

func (s *State) Scans() uint64 {
	s.scanMutex.RLock()
	defer s.scanMutex.RUnlock()

	return s.scans
}

func (s *State) Rays() uint64 {
	s.scanMutex.RLock()
	defer s.scanMutex.RUnlock()

	return s.rays
}

func (s *State) LastSummary() mapper.Summary {
	s.scanMutex.RLock()
	defer s.scanMutex.RUnlock()

	return s.last
}
