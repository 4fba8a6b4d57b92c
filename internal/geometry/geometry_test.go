package geometry

import "testing"

func TestHashSectorsVectors(t *testing.T) {
	cases := []struct {
		n    int64
		want int64
	}{
		{0, 1},
		{128, 3},
		{128 * 128, 131},
	}
	for _, c := range cases {
		got, err := HashSectors(c.n)
		if err != nil {
			t.Fatalf("HashSectors(%d) error: %v", c.n, err)
		}
		if got != c.want {
			t.Errorf("HashSectors(%d) = %d, want %d", c.n, got, c.want)
		}
	}
}

func TestHashSectorsNegativeFails(t *testing.T) {
	if _, err := HashSectors(-1); err == nil {
		t.Fatal("expected error for negative data sector count")
	}
}

func TestHashSectorsMonotone(t *testing.T) {
	prev, err := HashSectors(0)
	if err != nil {
		t.Fatal(err)
	}
	for n := int64(1); n <= 5000; n++ {
		got, err := HashSectors(n)
		if err != nil {
			t.Fatal(err)
		}
		if got < prev {
			t.Fatalf("HashSectors not monotone at n=%d: %d < %d", n, got, prev)
		}
		prev = got
	}
}

func TestFECBytesFormula(t *testing.T) {
	for n := int64(1); n <= 50; n++ {
		bytes := n * DataBlockSize
		var prev int64 = -1
		for r := MinFECRoots; r <= MaxFECRoots; r++ {
			want := ceilDiv(bytes, int64(255-r)) * int64(r)
			got := FECParityBytes(bytes, r)
			if got != want {
				t.Fatalf("FECParityBytes(%d, %d) = %d, want %d", bytes, r, got, want)
			}
			if got <= prev {
				t.Fatalf("FECParityBytes not strictly increasing in r at n=%d r=%d: %d <= %d", n, r, got, prev)
			}
			prev = got
		}
	}
}

func ceilDiv(a, b int64) int64 { return (a + b - 1) / b }

func TestPickProfile(t *testing.T) {
	cases := []struct {
		need int64
		want string
		ok   bool
	}{
		{1, "DVD+R", true},
		{2_295_104, "DVD+R", true},
		{2_295_105, "DVD+R DL", true},
		{48_878_592, "BD-XL TL", true},
		{48_878_593, "", false},
	}
	for _, c := range cases {
		p, ok := PickProfile(c.need)
		if ok != c.ok {
			t.Fatalf("PickProfile(%d) ok = %v, want %v", c.need, ok, c.ok)
		}
		if ok && p.Name != c.want {
			t.Errorf("PickProfile(%d) = %q, want %q", c.need, p.Name, c.want)
		}
	}
}

func TestPickFECRootsTieBreak(t *testing.T) {
	// A huge profile should always admit the maximum roots value.
	r, ok := PickFECRoots(1, 1, 1<<40)
	if !ok || r != MaxFECRoots {
		t.Errorf("PickFECRoots with huge slack = (%d, %v), want (%d, true)", r, ok, MaxFECRoots)
	}
}

func TestPickFECRootsNoneFits(t *testing.T) {
	_, ok := PickFECRoots(1000, 10, 1000)
	if ok {
		t.Fatal("expected no roots value to fit a profile smaller than data+hash alone")
	}
}

func TestFormatBytes(t *testing.T) {
	cases := map[int64]string{
		512:         "512B",
		1024:        "1.00KiB",
		1536:        "1.50KiB",
		1024 * 1024: "1.00MiB",
	}
	for n, want := range cases {
		if got := FormatBytes(n); got != want {
			t.Errorf("FormatBytes(%d) = %q, want %q", n, got, want)
		}
	}
}
