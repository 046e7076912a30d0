package main

import (
	"context"
	"sync"

	"github.com/fcnvmf/target/internal/nvmfshim"
)

// simSubsystem is a minimal nvmfshim.Subsystem: one allowed host NQN, and
// just enough state to observe the pause/add/resume bracketing an NPort
// create/delete drives.
type simSubsystem struct {
	mu          sync.Mutex
	nqn         string
	allowedHost string
	listens     []nvmfshim.ListenAddress
	paused      bool
}

func newSimSubsystem(nqn, allowedHost string) *simSubsystem {
	return &simSubsystem{nqn: nqn, allowedHost: allowedHost}
}

func (s *simSubsystem) NQN() string                  { return s.nqn }
func (s *simSubsystem) AllowsHost(host string) bool   { return host == s.allowedHost }
func (s *simSubsystem) Pause(context.Context) error   { s.mu.Lock(); s.paused = true; s.mu.Unlock(); return nil }
func (s *simSubsystem) Resume(context.Context) error  { s.mu.Lock(); s.paused = false; s.mu.Unlock(); return nil }

func (s *simSubsystem) AddListenAddress(_ context.Context, addr nvmfshim.ListenAddress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listens = append(s.listens, addr)
	return nil
}

func (s *simSubsystem) RemoveListenAddress(_ context.Context, addr nvmfshim.ListenAddress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, l := range s.listens {
		if l == addr {
			s.listens = append(s.listens[:i], s.listens[i+1:]...)
			break
		}
	}
	return nil
}

// simGeneric is a minimal nvmfshim.GenericLayer: one fixed subsystem, Connect
// always accepts, ExecuteRequest always completes successfully with no data.
type simGeneric struct {
	mu   sync.Mutex
	subs map[string]*simSubsystem
}

func newSimGeneric(subs ...*simSubsystem) *simGeneric {
	g := &simGeneric{subs: make(map[string]*simSubsystem)}
	for _, s := range subs {
		g.subs[s.NQN()] = s
	}
	return g
}

func (g *simGeneric) Resolve(subNQN string) (nvmfshim.Subsystem, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.subs[subNQN]
	return s, ok
}

func (g *simGeneric) All() []nvmfshim.Subsystem {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]nvmfshim.Subsystem, 0, len(g.subs))
	for _, s := range g.subs {
		out = append(out, s)
	}
	return out
}

func (g *simGeneric) Connect(_ context.Context, req nvmfshim.ConnectRequest) (<-chan nvmfshim.ConnectResult, error) {
	ch := make(chan nvmfshim.ConnectResult, 1)
	ch <- nvmfshim.ConnectResult{ControllerID: 1, Accepted: true}
	close(ch)
	return ch, nil
}

func (g *simGeneric) NewQueuePair(context.Context, nvmfshim.QueuePair) error { return nil }

func (g *simGeneric) ExecuteRequest(_ context.Context, req nvmfshim.Request, complete nvmfshim.CompleteFunc) error {
	complete(nvmfshim.Completion{})
	return nil
}

func (g *simGeneric) DestroyQueuePair(context.Context, uint64) error { return nil }
