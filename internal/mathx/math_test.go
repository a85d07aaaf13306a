package mathx

import "testing"

func TestFloorDivMod(t *testing.T) {
	cases := []struct{ a, b, q, m int }{
		{7, 4, 1, 3},
		{-1, 4, -1, 3},
		{-4, 4, -1, 0},
		{-5, 4, -2, 3},
		{0, 32, 0, 0},
	}
	for _, c := range cases {
		if q := FloorDiv(c.a, c.b); q != c.q {
			t.Fatalf("FloorDiv(%d,%d)=%d want %d", c.a, c.b, q, c.q)
		}
		if m := Mod(c.a, c.b); m != c.m {
			t.Fatalf("Mod(%d,%d)=%d want %d", c.a, c.b, m, c.m)
		}
		if FloorDiv(c.a, c.b)*c.b+Mod(c.a, c.b) != c.a {
			t.Fatalf("identity broken for %d,%d", c.a, c.b)
		}
	}
}

func TestHashDeterministic(t *testing.T) {
	if Hash3(42, 1, 2, 3) != Hash3(42, 1, 2, 3) {
		t.Fatalf("Hash3 not deterministic")
	}
	if Hash3(42, 1, 2, 3) == Hash3(43, 1, 2, 3) {
		t.Fatalf("seed ignored")
	}
	if Hash2(7, -1, 5) == Hash2(7, 5, -1) {
		t.Fatalf("Hash2 symmetric in x,z")
	}
}
