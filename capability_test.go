package odal

import (
	"errors"
	"testing"
)

func TestCapabilitySetSupports(t *testing.T) {
	s := NewCapabilitySet(CapRead, CapList)
	if !s.Supports(CapRead) || !s.Supports(CapList) {
		t.Error("declared capabilities should be supported")
	}
	if s.Supports(CapWrite) {
		t.Error("undeclared capability should not be supported")
	}
}

func TestAllCapabilitiesExcept(t *testing.T) {
	s := AllCapabilitiesExcept(CapGlob, CapMove)
	if s.Len() != AllCapabilities().Len()-2 {
		t.Errorf("Len = %d", s.Len())
	}
	if s.Supports(CapGlob) || s.Supports(CapMove) {
		t.Error("excluded capabilities should be absent")
	}
	if !s.Supports(CapAtomicWrite) {
		t.Error("remaining capabilities should be present")
	}
}

func TestRequire(t *testing.T) {
	s := NewCapabilitySet(CapRead)
	if err := s.Require("mem", CapRead); err != nil {
		t.Errorf("Require(read): %v", err)
	}
	err := s.Require("mem", CapCopy)
	if !errors.Is(err, ErrCapabilityNotSupported) {
		t.Fatalf("err = %v, want ErrCapabilityNotSupported", err)
	}
	var oerr *Error
	if !errors.As(err, &oerr) {
		t.Fatal("expected *Error")
	}
	if oerr.Backend != "mem" || oerr.Capability != CapCopy {
		t.Errorf("context = %q/%q", oerr.Backend, oerr.Capability)
	}
}

func TestListSorted(t *testing.T) {
	got := NewCapabilitySet(CapWrite, CapCopy, CapRead).List()
	want := []Capability{CapCopy, CapRead, CapWrite}
	if len(got) != len(want) {
		t.Fatalf("List = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("List[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
