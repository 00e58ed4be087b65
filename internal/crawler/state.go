package crawler

import (
	"net/url"
	"sync"

	"github.com/nao1215/harvest/internal/model"
)

// task is one page waiting in the frontier.
type task struct {
	url   *url.URL
	key   string
	depth int
}

// State is the bookkeeping of a single crawl: the visited set and the
// frontier of claimed pages not yet expanded.
//
// The visited set only grows. A URL enters it through Claim, which is the
// only way to schedule a page, so no page is fetched twice in one crawl even
// when pages link to each other. A State must not be reused across crawls.
type State struct {
	mu       sync.Mutex
	seed     *url.URL
	seedKey  string
	visited  model.URLSet
	frontier []task
}

// NewState creates the state for a crawl starting at seed. The seed is
// pre-marked visited and is the only entry of the frontier.
func NewState(seed *url.URL) *State {
	key := model.NormalizeURL(seed)
	return &State{
		seed:     seed,
		seedKey:  key,
		visited:  model.NewURLSet(key),
		frontier: []task{{url: seed, key: key, depth: 0}},
	}
}

// Seed returns the normalized seed URL.
func (s *State) Seed() string {
	return s.seedKey
}

// Claim marks u visited. It reports true only for the first caller claiming
// u; every later claim of the same URL returns false.
func (s *State) Claim(u string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visited.Add(u)
}

// IsVisited reports whether u has been claimed.
func (s *State) IsVisited(u string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visited.Has(u)
}

// Visited returns the claimed URLs in lexical order.
func (s *State) Visited() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visited.Sorted()
}

// Pending returns the number of claimed pages not yet expanded.
func (s *State) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frontier)
}

func (s *State) push(t task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frontier = append(s.frontier, t)
}

// pop removes the most recently pushed task, giving depth-first order.
func (s *State) pop() (task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frontier) == 0 {
		return task{}, false
	}
	last := len(s.frontier) - 1
	t := s.frontier[last]
	s.frontier[last] = task{}
	s.frontier = s.frontier[:last]
	return t, true
}
