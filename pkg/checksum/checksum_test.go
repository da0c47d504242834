package checksum

import "testing"

func TestModularDeterministic(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x04, 0x05}
	m := Modular{}
	if m.Sum(data) != m.Sum(data) {
		t.Fatal("modular checksum is not deterministic")
	}
}

func TestModularEmpty(t *testing.T) {
	if (Modular{}).Sum(nil) != 0 {
		t.Fatal("modular checksum over empty buffer must be 0")
	}
}

func TestModularPaddedLastWord(t *testing.T) {
	// 0x01020300 per spec.md §8 scenario 2.
	got := (Modular{}).Sum([]byte{0x01, 0x02, 0x03})
	if want := uint32(0x01020300); got != want {
		t.Fatalf("got %08x, want %08x", got, want)
	}
}

func TestModularTwoBytes(t *testing.T) {
	// 0x48490000 per spec.md §8 scenario 1.
	got := (Modular{}).Sum([]byte{0x48, 0x49})
	if want := uint32(0x48490000); got != want {
		t.Fatalf("got %08x, want %08x", got, want)
	}
}

func TestCRC32Empty(t *testing.T) {
	if (CRC32{}).Sum(nil) != 0 {
		t.Fatal("crc32 over empty buffer must be 0")
	}
}

func TestCRC32KnownVector(t *testing.T) {
	// "123456789" -> 0xCBF43926 is the standard CRC-32 check value.
	got := (CRC32{}).Sum([]byte("123456789"))
	if want := uint32(0xCBF43926); got != want {
		t.Fatalf("got %08x, want %08x", got, want)
	}
}

func TestCRC32CKnownVector(t *testing.T) {
	// "123456789" -> 0xE3069283 is the standard CRC-32C check value.
	got := (CRC32C{}).Sum([]byte("123456789"))
	if want := uint32(0xE3069283); got != want {
		t.Fatalf("got %08x, want %08x", got, want)
	}
}

func TestNullIsZero(t *testing.T) {
	if (Null{}).Sum([]byte{1, 2, 3}) != 0 {
		t.Fatal("null checksum must be 0")
	}
}
