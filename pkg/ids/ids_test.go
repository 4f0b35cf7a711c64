package ids

import "testing"

func TestIdFromBytesLengthCheck(t *testing.T) {
	if _, err := IdFromBytes(make([]byte, IDSize-1)); err != ErrInvalidLength {
		t.Fatalf("IdFromBytes short: got %v, want ErrInvalidLength", err)
	}
	if _, err := IdFromBytes(make([]byte, IDSize)); err != nil {
		t.Fatalf("IdFromBytes exact length: %v", err)
	}
}

func TestIdEqual(t *testing.T) {
	var a, b Id
	a[0] = 1
	b[0] = 1
	if !a.Equal(b) {
		t.Fatal("Equal(a, b) = false, want true")
	}
	b[1] = 1
	if a.Equal(b) {
		t.Fatal("Equal(a, b) = true, want false")
	}
}

func TestPrivateKeyPublic(t *testing.T) {
	var sk PrivateKey
	for i := 32; i < 64; i++ {
		sk[i] = byte(i)
	}
	pub := sk.Public()
	for i := 0; i < 32; i++ {
		if pub[i] != byte(i+32) {
			t.Fatalf("Public()[%d] = %d, want %d", i, pub[i], i+32)
		}
	}
}

func TestFromBytesConstructorsRejectWrongLength(t *testing.T) {
	tests := []struct {
		name string
		fn   func([]byte) error
	}{
		{"PublicKey", func(b []byte) error { _, err := PublicKeyFromBytes(b); return err }},
		{"PrivateKey", func(b []byte) error { _, err := PrivateKeyFromBytes(b); return err }},
		{"SecretKey", func(b []byte) error { _, err := SecretKeyFromBytes(b); return err }},
		{"Signature", func(b []byte) error { _, err := SignatureFromBytes(b); return err }},
		{"RequestID", func(b []byte) error { _, err := RequestIDFromBytes(b); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn([]byte{1, 2, 3}); err != ErrInvalidLength {
				t.Errorf("%s: got %v, want ErrInvalidLength", tt.name, err)
			}
		})
	}
}

func TestStringIsHex(t *testing.T) {
	var id Id
	id[0] = 0xAB
	if got, want := id.String()[:2], "ab"; got != want {
		t.Fatalf("String()[:2] = %q, want %q", got, want)
	}
}
