package wire

import "testing"

func TestAlign4(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, 0}, {1, 4}, {2, 4}, {3, 4}, {4, 4}, {5, 8}, {20, 20}, {21, 24},
	}
	for _, tt := range tests {
		if got := Align4(tt.in); got != tt.want {
			t.Errorf("Align4(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestWriterReaderRoundTrip(t *testing.T) {
	buf := make([]byte, 64)
	w := NewWriter(buf)
	if err := w.U16BE(0xBEEF); err != nil {
		t.Fatalf("U16BE: %v", err)
	}
	if err := w.U8(0x7F); err != nil {
		t.Fatalf("U8: %v", err)
	}
	if err := w.U32BE(0xCAFEBABE); err != nil {
		t.Fatalf("U32BE: %v", err)
	}
	if err := w.U64LE(1_700_000_000_000); err != nil {
		t.Fatalf("U64LE: %v", err)
	}
	start := w.Pos
	if err := w.Bytes([]byte{1, 2, 3}); err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	n, err := w.PadTo4(start)
	if err != nil {
		t.Fatalf("PadTo4: %v", err)
	}
	if n != 1 {
		t.Fatalf("PadTo4 = %d padding bytes, want 1", n)
	}

	r := NewReader(buf[:w.Pos])
	if v, err := r.U16BE(); err != nil || v != 0xBEEF {
		t.Fatalf("U16BE = %#x, %v, want 0xBEEF", v, err)
	}
	if v, err := r.U8(); err != nil || v != 0x7F {
		t.Fatalf("U8 = %#x, %v, want 0x7F", v, err)
	}
	if v, err := r.U32BE(); err != nil || v != 0xCAFEBABE {
		t.Fatalf("U32BE = %#x, %v, want 0xCAFEBABE", v, err)
	}
	if v, err := r.U64LE(); err != nil || v != 1_700_000_000_000 {
		t.Fatalf("U64LE = %d, %v, want 1700000000000", v, err)
	}
	rStart := r.Pos
	b, err := r.Bytes(3)
	if err != nil || b[0] != 1 || b[1] != 2 || b[2] != 3 {
		t.Fatalf("Bytes = %v, %v, want [1 2 3]", b, err)
	}
	if err := r.SkipPad4(rStart); err != nil {
		t.Fatalf("SkipPad4: %v", err)
	}
	if r.Remaining() != 0 {
		t.Fatalf("Remaining = %d, want 0", r.Remaining())
	}
}

func TestWriterBufferTooSmall(t *testing.T) {
	buf := make([]byte, 1)
	w := NewWriter(buf)
	if err := w.U16BE(1); err != ErrBufferTooSmall {
		t.Fatalf("U16BE on 1-byte buffer: got %v, want ErrBufferTooSmall", err)
	}
}

func TestReaderTruncated(t *testing.T) {
	r := NewReader([]byte{0x01})
	if _, err := r.U16BE(); err != ErrTruncated {
		t.Fatalf("U16BE on 1-byte slice: got %v, want ErrTruncated", err)
	}
}

func TestSkipPad4RejectsNonZero(t *testing.T) {
	buf := []byte{1, 2, 3, 0xFF} // 3 bytes of payload + 1 non-zero pad byte
	r := NewReader(buf)
	if _, err := r.Bytes(3); err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if err := r.SkipPad4(0); err != ErrBadAlignment {
		t.Fatalf("SkipPad4 with non-zero padding: got %v, want ErrBadAlignment", err)
	}
}
