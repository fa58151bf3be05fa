/*
   Copyright The containerd Authors.

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

package attach

import (
	"sync"

	"github.com/containers/conmonrs/internal/stream"
)

// LazySink is a stream.Sink placeholder registered with a container's pump
// at create time, before any client has issued AttachContainer. It drops
// every segment until Attach binds a real Hub, matching "a subscriber only
// receives output from the moment it subscribes" — there is nothing to
// subscribe to before the first attach.
type LazySink struct {
	mu  sync.RWMutex
	hub *Hub
}

func NewLazySink() *LazySink {
	return &LazySink{}
}

func (s *LazySink) Enqueue(seg stream.Segment) {
	s.mu.RLock()
	hub := s.hub
	s.mu.RUnlock()
	if hub != nil {
		hub.Enqueue(seg)
	}
}

// Attach binds hub as the sink's target. Safe to call once; a second call
// replaces the target, which callers should avoid.
func (s *LazySink) Attach(hub *Hub) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hub = hub
}

// Hub returns the currently bound hub, or nil if none has attached yet.
func (s *LazySink) Hub() *Hub {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hub
}
