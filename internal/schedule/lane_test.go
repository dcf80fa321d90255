package schedule

import (
	"reflect"
	"testing"
)

func TestLaneFromHeader(t *testing.T) {
	tests := []struct {
		header string
		want   Lane
		ok     bool
	}{
		{"BA", Lane{Bachelors, 0}, true},
		{"B.A.", Lane{Bachelors, 0}, true},
		{"BA+15", Lane{Bachelors, 15}, true},
		{"BA + 30", Lane{Bachelors, 30}, true},
		{"B+45", Lane{Bachelors, 45}, true},
		{"MA", Lane{Masters, 0}, true},
		{"M.A.+30", Lane{Masters, 30}, true},
		{"MA30", Lane{Masters, 30}, true},
		{"Masters+60", Lane{Masters, 60}, true},
		{"DOC", Lane{Doctorate, 0}, true},
		{"DOC/CAGS", Lane{Doctorate, 0}, true},
		{"MA+60/CAGS", Lane{Doctorate, 0}, true},
		{"Ph.D.", Lane{Doctorate, 0}, true},
		{"Step", Lane{}, false},
		{"2024-2025", Lane{}, false},
		{"", Lane{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			got, ok := LaneFromHeader(tt.header)
			if ok != tt.ok {
				t.Fatalf("LaneFromHeader(%q) ok = %v, want %v", tt.header, ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("LaneFromHeader(%q) = %v, want %v", tt.header, got, tt.want)
			}
		})
	}
}

func TestFallbackOrder(t *testing.T) {
	all := []Lane{
		{Bachelors, 0}, {Bachelors, 15}, {Bachelors, 30},
		{Masters, 0}, {Masters, 15}, {Masters, 30}, {Masters, 45},
		{Doctorate, 0},
	}

	tests := []struct {
		name   string
		target Lane
		want   []Lane
	}{
		{
			name:   "bachelor's+15 prefers bachelor's+0 before master's+0",
			target: Lane{Bachelors, 15},
			want: []Lane{
				{Bachelors, 0}, {Bachelors, 30},
				{Masters, 15}, {Masters, 0}, {Masters, 30}, {Masters, 45},
				{Doctorate, 0},
			},
		},
		{
			name:   "master's+15 prefers master's+0 over bachelor's+30",
			target: Lane{Masters, 15},
			want: []Lane{
				{Masters, 0}, {Masters, 30}, {Masters, 45},
				{Bachelors, 15}, {Bachelors, 0}, {Bachelors, 30},
				{Doctorate, 0},
			},
		},
		{
			name:   "doctorate falls back to the nearest master's lane",
			target: Lane{Doctorate, 0},
			want: []Lane{
				{Masters, 0}, {Masters, 15}, {Masters, 30}, {Masters, 45},
				{Bachelors, 0}, {Bachelors, 15}, {Bachelors, 30},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FallbackOrder(tt.target, all)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("FallbackOrder(%v) =\n  %v\nwant\n  %v", tt.target, got, tt.want)
			}
		})
	}
}

func TestNearestLaneIsDeterministic(t *testing.T) {
	avail := []Lane{{Masters, 30}, {Bachelors, 0}, {Masters, 0}}
	for i := 0; i < 10; i++ {
		got, ok := NearestLane(Lane{Masters, 15}, avail)
		if !ok || got != (Lane{Masters, 0}) {
			t.Fatalf("NearestLane() = %v, %v, want Master's+0", got, ok)
		}
	}
	if _, ok := NearestLane(Lane{Masters, 15}, []Lane{{Masters, 15}}); ok {
		t.Error("NearestLane should not return the target itself")
	}
}

func TestParseLane(t *testing.T) {
	l, err := ParseLane("Master's+30")
	if err != nil {
		t.Fatalf("ParseLane: %v", err)
	}
	if l != (Lane{Masters, 30}) {
		t.Errorf("ParseLane = %v, want Master's+30", l)
	}
	if l.String() != "Master's+30" {
		t.Errorf("String() = %q", l.String())
	}
	if _, err := ParseLane("Associate+0"); err == nil {
		t.Error("expected error for unknown education")
	}
}
