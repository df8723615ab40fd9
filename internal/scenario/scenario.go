// Package scenario builds the mothership's mission queues and generator
// for the four startup scenarios of spec.md §6, and the operator-facing
// manual mission queue of spec.md §4.8.
package scenario

import (
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/PedroArgainha/rovermesh/internal/mission"
)

// ManualTaskNumberBase is the first task_number handed to an
// operator-injected manual mission. It is chosen high enough that it
// never collides with automatic task numbers, which are drawn from a
// much smaller range by scenario 3's generator or assigned sequentially
// for scenarios 2/4 (spec.md §4.8).
const ManualTaskNumberBase = 1 << 15

// Queues holds the automatic mission queue (populated at startup) and the
// per-rover manual mission queues (populated by operator injections).
// Every queue method takes q.mu and NextManualTaskNumber uses an atomic
// counter, so all of them are safe to call concurrently; the pusher uses
// AppendManual and NextManualTaskNumber, the ML dispatcher the rest
// (spec.md §5's "thread-safe append" rule).
type Queues struct {
	mu        sync.Mutex
	automatic []mission.Descriptor
	manual    map[uint8][]mission.Descriptor

	manualTaskNumber uint32
}

// NewQueues creates an empty queue set seeded with automatic.
func NewQueues(automatic []mission.Descriptor) *Queues {
	return &Queues{
		automatic:        automatic,
		manual:           make(map[uint8][]mission.Descriptor),
		manualTaskNumber: ManualTaskNumberBase,
	}
}

// PeekManual returns the head of roverID's manual queue without removing
// it.
func (q *Queues) PeekManual(roverID uint8) (mission.Descriptor, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	list := q.manual[roverID]
	if len(list) == 0 {
		return mission.Descriptor{}, false
	}
	return list[0], true
}

// PopManualFront removes the head of roverID's manual queue, deleting the
// queue entirely when it becomes empty.
func (q *Queues) PopManualFront(roverID uint8) {
	q.mu.Lock()
	defer q.mu.Unlock()
	list := q.manual[roverID]
	if len(list) == 0 {
		return
	}
	if len(list) == 1 {
		delete(q.manual, roverID)
		return
	}
	q.manual[roverID] = list[1:]
}

// AppendManual appends a priority mission to roverID's manual queue. Safe
// to call concurrently with the dispatcher's own queue operations.
func (q *Queues) AppendManual(roverID uint8, m mission.Descriptor) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.manual[roverID] = append(q.manual[roverID], m)
}

// NextManualTaskNumber returns a fresh, collision-free task_number for an
// operator-injected mission.
func (q *Queues) NextManualTaskNumber() uint16 {
	return uint16(atomic.AddUint32(&q.manualTaskNumber, 1) - 1)
}

// PeekAutomatic returns the front of the automatic queue without popping
// it (scenarios 1/2/4).
func (q *Queues) PeekAutomatic() (mission.Descriptor, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.automatic) == 0 {
		return mission.Descriptor{}, false
	}
	return q.automatic[0], true
}

// PopAutomaticFront removes the front of the automatic queue.
func (q *Queues) PopAutomaticFront() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.automatic) == 0 {
		return
	}
	q.automatic = q.automatic[1:]
}

// Generator synthesizes fresh missions on demand for scenario 3. Peek is
// idempotent with respect to the current task counter: repeated calls
// before Advance return the identical descriptor, so a retried READY
// observes the same candidate mission (the pending-reply cache then keeps
// the actual wire bytes identical across retries on top of this).
type Generator struct {
	mu          sync.Mutex
	taskCounter uint16
	rng         *rand.Rand
	have        bool
	cachedFor   uint16
	cached      mission.Descriptor
}

// NewGenerator creates a scenario-3 mission generator.
func NewGenerator(seed int64) *Generator {
	return &Generator{rng: rand.New(rand.NewSource(seed))}
}

// Peek returns the next candidate mission for task_counter+1, generating
// it once and caching it until Advance is called.
func (g *Generator) Peek() mission.Descriptor {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.have && g.cachedFor == g.taskCounter {
		return g.cached
	}
	g.cached = mission.Descriptor{
		MissionID:  mission.Kind(1 + g.rng.Intn(6)),
		TaskNumber: g.taskCounter + 1,
		X:          float32(g.rng.Intn(201) - 100),
		Y:          float32(g.rng.Intn(201) - 100),
		Radius:     2,
		Duration:   float32(30 + g.rng.Intn(90)),
	}
	g.cachedFor = g.taskCounter
	g.have = true
	return g.cached
}

// Advance increments the task counter once the generated mission's
// assignment has been ACKed, and invalidates the cached candidate.
func (g *Generator) Advance() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.taskCounter++
	g.have = false
}

// Build constructs the mission queues (and, for scenario 3, the
// generator) for the given scenario id (1..4), per spec.md §6.
func Build(scenarioID int, seed int64) (*Queues, *Generator) {
	switch scenarioID {
	case 1:
		return NewQueues([]mission.Descriptor{
			{MissionID: mission.Survey, TaskNumber: 1, X: 50, Y: 50, Radius: 2, Duration: 180},
		}), nil

	case 2:
		rng := rand.New(rand.NewSource(seed))
		return NewQueues([]mission.Descriptor{
			randomMission(rng, 1),
			randomMission(rng, 2),
		}), nil

	case 3:
		return NewQueues(nil), NewGenerator(seed)

	case 4:
		return NewQueues([]mission.Descriptor{
			{MissionID: mission.Survey, TaskNumber: 1, X: 10, Y: 10, Radius: 2, Duration: 60},
			{MissionID: mission.Excavate, TaskNumber: 2, X: -10, Y: 10, Radius: 2, Duration: 90},
			{MissionID: mission.Sample, TaskNumber: 3, X: -10, Y: -10, Radius: 2, Duration: 45},
			{MissionID: mission.Recharge, TaskNumber: 4, X: 10, Y: -10, Radius: 2, Duration: 30},
		}), nil

	default:
		return NewQueues(nil), nil
	}
}

func randomMission(rng *rand.Rand, taskNumber uint16) mission.Descriptor {
	return mission.Descriptor{
		MissionID:  mission.Kind(1 + rng.Intn(6)),
		TaskNumber: taskNumber,
		X:          float32(rng.Intn(101) - 50),
		Y:          float32(rng.Intn(101) - 50),
		Radius:     2,
		Duration:   float32(20 + rng.Intn(40)),
	}
}
