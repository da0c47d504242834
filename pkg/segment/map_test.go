package segment

import (
	"bytes"
	"testing"
)

func TestGapsContiguous(t *testing.T) {
	m := New()
	m.Insert(0, []byte{1, 2, 3})
	m.Insert(3, []byte{4, 5})
	if gaps := m.Gaps(5); len(gaps) != 0 {
		t.Fatalf("expected no gaps, got %v", gaps)
	}
}

func TestGapsSingleSegment(t *testing.T) {
	m := New()
	m.Insert(2, []byte{1, 2, 3})
	gaps := m.Gaps(10)
	want := []Gap{{Start: 0, End: 2}, {Start: 5, End: 10}}
	if len(gaps) != len(want) || gaps[0] != want[0] || gaps[1] != want[1] {
		t.Fatalf("got %v, want %v", gaps, want)
	}
}

func TestAssembleContiguous(t *testing.T) {
	m := New()
	m.Insert(0, []byte{0x48})
	m.Insert(1, []byte{0x49})
	out, err := m.Assemble(2)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, []byte{0x48, 0x49}) {
		t.Fatalf("got %v", out)
	}
}

func TestAssembleGapFails(t *testing.T) {
	m := New()
	m.Insert(0, []byte{1})
	m.Insert(5, []byte{2})
	if _, err := m.Assemble(6); err != ErrGapDetected {
		t.Fatalf("expected ErrGapDetected, got %v", err)
	}
}

func TestDuplicateOffsetReplaces(t *testing.T) {
	m := New()
	m.Insert(0, []byte{1, 2})
	m.Insert(0, []byte{9, 9})
	out, err := m.Assemble(2)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, []byte{9, 9}) {
		t.Fatalf("expected duplicate insert to replace, got %v", out)
	}
}
