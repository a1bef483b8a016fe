package kenaz

import (
	"sync"

	"github.com/aukilabs/raido/voxel"
)

type State struct {
	traceMutex sync.RWMutex
	traces     map[voxel.Algorithm]uint64
}

func (s *State) CountTrace(algo voxel.Algorithm) {
	s.traceMutex.Lock()
	defer s.traceMutex.Unlock()

	if s.traces == nil {
		s.traces = make(map[voxel.Algorithm]uint64)
	}
	s.traces[algo]++
}

func (s *State) TraceCount(algo voxel.Algorithm) uint64 {
	s.traceMutex.RLock()
	defer s.traceMutex.RUnlock()

	return s.traces[algo]
}

func (s *State) TraceCounts() map[voxel.Algorithm]uint64 {
	s.traceMutex.RLock()
	defer s.traceMutex.RUnlock()

	counts := make(map[voxel.Algorithm]uint64, len(s.traces))
	for algo, n := range s.traces {
		counts[algo] = n
	}
	return counts
}
