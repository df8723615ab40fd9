package fleet

import "testing"

func TestGetOrCreateReturnsSameRoverOnRepeatedCalls(t *testing.T) {
	table := NewTable()
	r1 := table.GetOrCreate(3)
	r2 := table.GetOrCreate(3)
	if r1 != r2 {
		t.Fatalf("GetOrCreate(3) returned different records: %p != %p", r1, r2)
	}
}

func TestGetReportsUnknownRover(t *testing.T) {
	table := NewTable()
	if _, ok := table.Get(5); ok {
		t.Fatalf("Get on an unreferenced rover id should report false")
	}
	table.GetOrCreate(5)
	if _, ok := table.Get(5); !ok {
		t.Fatalf("Get should report true once the rover has been created")
	}
}

func TestAllReturnsEveryKnownRover(t *testing.T) {
	table := NewTable()
	table.GetOrCreate(1)
	table.GetOrCreate(2)
	table.GetOrCreate(3)

	all := table.All()
	if len(all) != 3 {
		t.Fatalf("All() returned %d rovers, want 3", len(all))
	}
}
