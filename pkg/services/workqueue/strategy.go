package workqueue

import "sync"

// Lane is the resource class a task occupies while it runs.
type Lane int

const (
	// LaneData covers warehouse and graph store work.
	LaneData Lane = iota
	// LaneLLM covers tasks that call a language model.
	LaneLLM
)

func (l Lane) String() string {
	if l == LaneLLM {
		return "llm"
	}
	return "data"
}

func laneOf(t Task) Lane {
	if t.RequiresLLM() {
		return LaneLLM
	}
	return LaneData
}

// ConcurrencyStrategy decides whether another task may start in a lane.
// The queue calls it with its own lock held, so implementations only need
// their own synchronization if they are shared between queues.
type ConcurrencyStrategy interface {
	CanStart(lane Lane) bool
	OnStart(lane Lane)
	OnComplete(lane Lane)
}

// laneLimits caps the number of running tasks per lane.
type laneLimits struct {
	mu      sync.Mutex
	limit   [2]int
	running [2]int
}

func (l *laneLimits) CanStart(lane Lane) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running[lane] < l.limit[lane]
}

func (l *laneLimits) OnStart(lane Lane) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.running[lane]++
}

func (l *laneLimits) OnComplete(lane Lane) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running[lane] > 0 {
		l.running[lane]--
	}
}

// SerializedStrategy runs one LLM task and one data task at a time. The two
// lanes still run in parallel with each other.
type SerializedStrategy struct {
	laneLimits
}

func NewSerializedStrategy() *SerializedStrategy {
	s := &SerializedStrategy{}
	s.limit = [2]int{LaneData: 1, LaneLLM: 1}
	return s
}

// ThrottledLLMStrategy runs up to maxConcurrent LLM tasks at once. Data tasks
// stay serialized: the warehouse and the graph store each take one writer.
type ThrottledLLMStrategy struct {
	laneLimits
}

func NewThrottledLLMStrategy(maxConcurrent int) *ThrottledLLMStrategy {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	s := &ThrottledLLMStrategy{}
	s.limit = [2]int{LaneData: 1, LaneLLM: maxConcurrent}
	return s
}

// MaxConcurrentLLM reports the LLM lane limit.
func (s *ThrottledLLMStrategy) MaxConcurrentLLM() int {
	return s.limit[LaneLLM]
}
