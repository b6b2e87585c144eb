package schedule

import (
	"reflect"
	"testing"
	"time"
)

func TestAssignStopsAtCampaignEnd(t *testing.T) {
	// Five items, two-hour campaign, 30 minute spacing: only four slots
	// fit (08:00, 08:30, 09:00, 09:30). The 10:00 slot would sit on the
	// exclusive end boundary, so the fifth item stays unassigned.
	p := Plan{
		Start:    at(8, 0),
		End:      at(10, 0),
		Interval: 30 * time.Minute,
	}
	got := Assign(p, DefaultWindow(), []int64{1, 2, 3, 4, 5})

	want := Assignment{
		1: at(8, 0),
		2: at(8, 30),
		3: at(9, 0),
		4: at(9, 30),
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Assign = %v, want %v", got, want)
	}
	if _, ok := got[5]; ok {
		t.Fatal("fifth item must not receive a slot")
	}
}

func TestAssignRollsPastInactiveHours(t *testing.T) {
	p := Plan{
		Start:    at(23, 30),
		End:      at(23, 30).AddDate(0, 0, 2),
		Interval: 30 * time.Minute,
	}
	got := Assign(p, DefaultWindow(), []int64{1, 2})

	if !got[1].Equal(at(23, 30)) {
		t.Fatalf("slot 1 = %s, want 23:30", got[1])
	}
	// 23:30 + 30m = 00:00, outside the window; the slot moves to the
	// next day's window start.
	wantSecond := at(8, 0).AddDate(0, 0, 1)
	if !got[2].Equal(wantSecond) {
		t.Fatalf("slot 2 = %s, want %s", got[2], wantSecond)
	}
}

func TestAssignStartBeforeWindow(t *testing.T) {
	p := Plan{
		Start:    at(5, 0),
		End:      at(23, 0),
		Interval: time.Hour,
	}
	got := Assign(p, DefaultWindow(), []int64{1})
	if !got[1].Equal(at(8, 0)) {
		t.Fatalf("slot = %s, want window start 08:00", got[1])
	}
}

func TestAssignDeterministic(t *testing.T) {
	p := Plan{Start: at(8, 0), End: at(20, 0), Interval: 45 * time.Minute}
	ids := []int64{3, 1, 7, 2}
	a := Assign(p, DefaultWindow(), ids)
	b := Assign(p, DefaultWindow(), ids)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("same inputs produced different plans: %v vs %v", a, b)
	}
}

func TestAssignDegenerate(t *testing.T) {
	ids := []int64{1, 2}
	if got := Assign(Plan{Start: at(8, 0), End: at(10, 0)}, DefaultWindow(), ids); len(got) != 0 {
		t.Fatalf("zero interval: got %v, want empty", got)
	}
	if got := Assign(Plan{Start: at(10, 0), End: at(8, 0), Interval: time.Hour}, DefaultWindow(), ids); len(got) != 0 {
		t.Fatalf("inverted bounds: got %v, want empty", got)
	}
}
