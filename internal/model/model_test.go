package model

import (
	"testing"
	"time"
)

func TestClampScore(t *testing.T) {
	cases := []struct {
		in, want float64
	}{
		{-0.5, 0},
		{0, 0},
		{0.42, 0.42},
		{1, 1},
		{1.7, 1},
	}
	for _, tc := range cases {
		if got := ClampScore(tc.in); got != tc.want {
			t.Errorf("ClampScore(%f) = %f, want %f", tc.in, got, tc.want)
		}
	}
}

func TestTypeValidation(t *testing.T) {
	for _, et := range []EntityType{EntityPerson, EntityOrganization, EntityProject, EntityConcept, EntityLocation} {
		if !et.IsValid() {
			t.Errorf("entity type %s should be valid", et)
		}
	}
	if EntityType("robot").IsValid() {
		t.Error("unknown entity type accepted")
	}

	for _, mt := range []MemoryType{MemoryFact, MemoryPreference, MemoryObservation, MemoryCommitment, MemoryPattern} {
		if !mt.IsValid() {
			t.Errorf("memory type %s should be valid", mt)
		}
	}
	if MemoryType("opinion").IsValid() {
		t.Error("unknown memory type accepted")
	}
}

func TestRelationshipActive(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 6, 0)

	open := Relationship{ValidAt: start}
	closed := Relationship{ValidAt: start, InvalidAt: &end}

	if open.Active(start.Add(-time.Hour)) {
		t.Error("not yet valid should be inactive")
	}
	if !open.Active(start.AddDate(5, 0, 0)) {
		t.Error("open-ended relationship should stay active")
	}
	if !closed.Active(start.AddDate(0, 3, 0)) {
		t.Error("should be active inside the window")
	}
	if closed.Active(end.Add(time.Hour)) {
		t.Error("should be inactive after invalid_at")
	}
}
