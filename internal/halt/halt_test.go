package halt

import "testing"

func TestIsTargetHalted_DefaultsToFalse(t *testing.T) {
	m := New()
	if m.IsTargetHalted("inngest") {
		t.Fatalf("expected nothing halted on a fresh Manager")
	}
}

func TestHaltThenResume(t *testing.T) {
	m := New()
	m.Halt("inngest")
	if !m.IsTargetHalted("inngest") {
		t.Fatalf("expected inngest to be halted")
	}
	m.Resume("inngest")
	if m.IsTargetHalted("inngest") {
		t.Fatalf("expected inngest to no longer be halted after Resume")
	}
}

func TestWildcardHaltsEverything(t *testing.T) {
	m := New()
	m.Halt("*")
	if !m.IsTargetHalted("inngest") {
		t.Fatalf("expected wildcard halt to cover an unrelated target")
	}
	if !m.IsTargetHalted("channels") {
		t.Fatalf("expected wildcard halt to cover a different unrelated target")
	}
}

func TestResumeIsIndependentPerTarget(t *testing.T) {
	m := New()
	m.Halt("inngest")
	m.Halt("channels")
	m.Resume("inngest")
	if m.IsTargetHalted("inngest") {
		t.Fatalf("expected inngest to be resumed")
	}
	if !m.IsTargetHalted("channels") {
		t.Fatalf("expected channels to remain halted")
	}
}
