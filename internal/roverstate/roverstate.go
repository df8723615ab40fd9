// Package roverstate implements the rover state model of spec.md §3 and
// its step function (§4.3): current pose, battery, destination, assigned
// mission, progress counter, and the dirty/version tracking the snapshot
// pusher reads.
package roverstate

import (
	"math"
	"math/rand"
	"sync"

	"github.com/PedroArgainha/rovermesh/internal/mission"
)

// State is the rover's coarse activity state.
type State uint8

const (
	Idle State = iota
	Working
	Moving
	ErrorState
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Working:
		return "working"
	case Moving:
		return "moving"
	case ErrorState:
		return "error"
	default:
		return "unknown"
	}
}

// Tunables. Exact rates are not part of the wire protocol (spec.md §9
// note iii) so they live here as named constants rather than scattered
// literals.
const (
	// BatteryDrainPerTick is the battery percentage lost on each
	// simulation tick spent moving.
	BatteryDrainPerTick = 0.05
	// VelocityJitterRange bounds the per-tick random velocity drift.
	VelocityJitterRange = 1.0
	// MetricJitterMax bounds the randomized proc_use/storage/sensors
	// telemetry values.
	MetricJitterMax = 100
)

// Vec3 is a position/destination triple.
type Vec3 struct {
	X, Y, Z float64
}

// Rover is one rover's full state, mirrored on both the rover process and
// the mothership's per-rover record.
type Rover struct {
	mu sync.RWMutex

	ID          uint8
	Position    Vec3
	Destination Vec3
	Velocity    float64
	Heading     float64
	BatteryPct  float64
	State       State

	ProcUse int
	Storage int
	Sensors int

	TickSeconds float64

	AssignedMissionID mission.Kind
	ProgressPct       int
	WorkElapsed       float64 // seconds of on-target work accrued
	DurationRequired  float64 // seconds required for current mission

	version uint64
	rng     *rand.Rand
}

// New creates a rover at the given starting position with destination
// equal to position, per spec.md §3.
func New(id uint8, start Vec3, velocity, tickSeconds float64) *Rover {
	return &Rover{
		ID:          id,
		Position:    start,
		Destination: start,
		Velocity:    velocity,
		BatteryPct:  100,
		State:       Idle,
		TickSeconds: tickSeconds,
		rng:         rand.New(rand.NewSource(int64(id) + 1)),
	}
}

// Version returns the current observable-change version, used by the
// snapshot pusher to detect whether a rover is dirty since its last
// published version.
func (r *Rover) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

func (r *Rover) touch() {
	r.version++
}

// Step advances the simulation by one tick, mutating position, battery,
// and progress counters per spec.md §4.3.
func (r *Rover) Step() {
	r.mu.Lock()
	defer r.mu.Unlock()

	// progress_pct == 100 ⇒ state transitions to IDLE on next step.
	if r.ProgressPct == 100 {
		r.AssignedMissionID = 0
		r.ProgressPct = 0
		r.WorkElapsed = 0
		r.DurationRequired = 0
		r.State = Idle
		r.touch()
		return
	}

	if r.Position == r.Destination {
		if r.AssignedMissionID != 0 {
			r.State = Working
			r.WorkElapsed += r.TickSeconds
			pct := 100
			if r.DurationRequired > 0 {
				pct = int(math.Floor(r.WorkElapsed / r.DurationRequired * 100))
			}
			if pct > 100 {
				pct = 100
			}
			if pct < 0 {
				pct = 0
			}
			r.ProgressPct = pct
			r.touch()
			return
		}
		if r.State != Idle {
			r.State = Idle
			r.touch()
		}
		return
	}

	dx := r.Destination.X - r.Position.X
	dy := r.Destination.Y - r.Position.Y
	dz := r.Destination.Z - r.Position.Z
	dist := math.Sqrt(dx*dx + dy*dy + dz*dz)

	if dist > 0 {
		r.Heading = math.Atan2(dy, dx) * 180 / math.Pi
	}

	step := r.Velocity * r.TickSeconds
	if step >= dist || dist == 0 {
		r.Position = r.Destination
	} else {
		r.Position.X += dx / dist * step
		r.Position.Y += dy / dist * step
		r.Position.Z += dz / dist * step
	}

	r.BatteryPct -= BatteryDrainPerTick
	if r.BatteryPct < 0 {
		r.BatteryPct = 0
	}
	r.State = Moving

	r.Velocity += (r.rng.Float64()*2 - 1) * VelocityJitterRange
	if r.Velocity < 0 {
		r.Velocity = 0
	}
	r.ProcUse = r.rng.Intn(MetricJitterMax)
	r.Storage = r.rng.Intn(MetricJitterMax)
	r.Sensors = r.rng.Intn(MetricJitterMax)

	r.touch()
}

// Snapshot is an immutable point-in-time copy of a Rover's fields, used
// by the TS/ML layers and the telemetry pusher without holding the lock.
type Snapshot struct {
	ID                uint8
	Position          Vec3
	Destination       Vec3
	Velocity          float64
	Heading           float64
	BatteryPct        float64
	State             State
	ProcUse           int
	Storage           int
	Sensors           int
	AssignedMissionID mission.Kind
	ProgressPct       int
	Version           uint64
}

// Snapshot returns a copy of the rover's current state.
func (r *Rover) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Snapshot{
		ID:                r.ID,
		Position:          r.Position,
		Destination:       r.Destination,
		Velocity:          r.Velocity,
		Heading:           r.Heading,
		BatteryPct:        r.BatteryPct,
		State:             r.State,
		ProcUse:           r.ProcUse,
		Storage:           r.Storage,
		Sensors:           r.Sensors,
		AssignedMissionID: r.AssignedMissionID,
		ProgressPct:       r.ProgressPct,
		Version:           r.version,
	}
}

// ApplyTelemetry updates the mothership-side mirror fields carried over
// the wire by a TS INFO frame, preserving fields the wire does not carry
// (assigned mission id) and reporting whether anything observable changed.
func (r *Rover) ApplyTelemetry(battery, posX, posY, posZ float64, state State, procUse, storage, sensors int, velocity, heading float64, progress int, destX, destY, destZ float64) (changed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	newPosition := Vec3{posX, posY, posZ}
	newDestination := Vec3{destX, destY, destZ}

	same := r.BatteryPct == battery && r.Position == newPosition &&
		r.State == state && r.ProcUse == procUse && r.Storage == storage &&
		r.Sensors == sensors && r.Velocity == velocity && r.Heading == heading &&
		r.ProgressPct == progress && r.Destination == newDestination

	r.BatteryPct = battery
	r.Position = newPosition
	r.State = state
	r.ProcUse = procUse
	r.Storage = storage
	r.Sensors = sensors
	r.Velocity = velocity
	r.Heading = heading
	r.ProgressPct = progress
	r.Destination = newDestination

	if !same {
		r.touch()
		return true
	}
	return false
}

// SetAssignedMission records the mission id assigned to this rover by the
// ML dispatcher (mothership-side mirror only; the wire TS protocol does
// not carry this field).
func (r *Rover) SetAssignedMission(id mission.Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.AssignedMissionID != id {
		r.AssignedMissionID = id
		r.touch()
	}
}

// ClearMission resets mission/progress fields, used when a DONE is
// accepted for this rover's mirror record on the mothership.
func (r *Rover) ClearMission() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.AssignedMissionID != 0 || r.ProgressPct != 0 {
		r.AssignedMissionID = 0
		r.ProgressPct = 0
		r.touch()
	}
}

// AssignMission sets the destination and mission bookkeeping fields on
// the rover side when a MISSION is accepted, per spec.md §4.7 step 3.
func (r *Rover) AssignMission(m mission.Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Destination = Vec3{X: float64(m.X), Y: float64(m.Y), Z: r.Position.Z}
	r.AssignedMissionID = m.MissionID
	r.DurationRequired = float64(m.Duration)
	r.ProgressPct = 0
	r.WorkElapsed = 0
	r.State = Working
	r.touch()
}

// ResetAfterDone clears mission fields on the rover side after a DONE
// round-trip completes, returning the rover to IDLE per spec.md §4.7
// step 5.
func (r *Rover) ResetAfterDone() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.AssignedMissionID = 0
	r.ProgressPct = 0
	r.WorkElapsed = 0
	r.DurationRequired = 0
	r.State = Idle
	r.touch()
}

// DistanceTo2D returns the Euclidean distance from the rover's current
// position to (x, y), ignoring Z — used by the ML rover agent's PROGRESS
// loop exit check. spec.md §9 note (i) calls out a source bug that
// multiplied dz by 999*2 instead of squaring it; this implementation uses
// standard Euclidean distance.
func (r *Rover) DistanceTo2D(x, y float64) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dx := r.Position.X - x
	dy := r.Position.Y - y
	return math.Sqrt(dx*dx + dy*dy)
}
