package encoding

import "testing"

func TestRLE_RoundTrip(t *testing.T) {
	in := make([]uint32, 0, 200)
	in = append(in, 1, 1, 1, 2, 2, 3)
	for i := 0; i < 50; i++ {
		in = append(in, 7)
	}
	in = append(in, 0, 0, 1<<31, 0xFFFFFFFF, 10, 10)

	enc := EncodeRLE(in)
	out, err := DecodeRLE(enc, 0)
	if err != nil {
		t.Fatalf("DecodeRLE: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("len mismatch: got %d want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("mismatch at %d: got %d want %d", i, out[i], in[i])
		}
	}
}

func TestRLE_EmptyGridIsSmall(t *testing.T) {
	enc := EncodeRLE(make([]uint32, 32*32*32))
	if len(enc) > 8 {
		t.Fatalf("empty 32^3 grid encoded to %d bytes", len(enc))
	}
	out, err := DecodeRLE(enc, 32*32*32)
	if err != nil || len(out) != 32*32*32 {
		t.Fatalf("decode: len=%d err=%v", len(out), err)
	}
}

func TestRLE_Limit(t *testing.T) {
	enc := EncodeRLE(make([]uint32, 100))
	if _, err := DecodeRLE(enc, 99); err == nil {
		t.Fatalf("expected limit error")
	}
	if _, err := DecodeRLE("!!", 0); err == nil {
		t.Fatalf("expected base64 error")
	}
}
