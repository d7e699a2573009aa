package bitcoin

import (
	"math/big"
	"strings"
	"testing"
)

func TestDifficultyToTarget(t *testing.T) {
	one := DifficultyToTarget(1.0)
	if one.Cmp(diff1Target) != 0 {
		t.Errorf("difficulty 1 target = %064x, want %064x", one, diff1Target)
	}

	// The canonical difficulty-1 target is a 64-digit value.
	if got := len(one.Text(16)); got > 64 {
		t.Errorf("difficulty-1 target has %d hex digits, want at most 64", got)
	}

	two := DifficultyToTarget(2.0)
	if want := new(big.Int).Rsh(diff1Target, 1); two.Cmp(want) != 0 {
		t.Errorf("difficulty 2 target = %064x, want %064x", two, want)
	}

	// Higher difficulty means a strictly smaller target.
	prev := one
	for _, d := range []float64{4, 16, 1024, 1e6} {
		cur := DifficultyToTarget(d)
		if cur.Cmp(prev) >= 0 {
			t.Errorf("target for difficulty %g is not smaller", d)
		}
		prev = cur
	}

	// Fractional and non-positive difficulties clamp to difficulty 1.
	if got := DifficultyToTarget(0.5); got.Cmp(diff1Target) != 0 {
		t.Errorf("difficulty 0.5 target = %064x, want clamp to diff1", got)
	}
	if got := DifficultyToTarget(0); got.Cmp(diff1Target) != 0 {
		t.Error("difficulty 0 should yield the difficulty-1 target")
	}
	if got := DifficultyToTarget(-3); got.Cmp(diff1Target) != 0 {
		t.Error("negative difficulty should yield the difficulty-1 target")
	}
}

func TestNetworkTarget(t *testing.T) {
	tmpl := testTemplate(625000000)
	target, err := NetworkTarget(tmpl)
	if err != nil {
		t.Fatalf("NetworkTarget() error = %v", err)
	}
	want, _ := new(big.Int).SetString(tmpl.Target, 16)
	if target.Cmp(want) != 0 {
		t.Errorf("NetworkTarget() = %064x, want %064x", target, want)
	}

	tmpl.Target = ""
	if _, err := NetworkTarget(tmpl); err == nil {
		t.Error("NetworkTarget() should reject an empty target")
	}

	tmpl.Target = strings.Repeat("f", 66)
	if _, err := NetworkTarget(tmpl); err == nil {
		t.Error("NetworkTarget() should reject an oversized target")
	}

	tmpl.Target = "zz"
	if _, err := NetworkTarget(tmpl); err == nil {
		t.Error("NetworkTarget() should reject non-hex targets")
	}
}

func TestHashToBig(t *testing.T) {
	// chainhash displays hashes big-endian; HashToBig must agree with the
	// display form.
	h := mustHash(t, "00000000000000000012a34bc56de78f000000000000000000000000000000ff")
	want, _ := new(big.Int).SetString("00000000000000000012a34bc56de78f000000000000000000000000000000ff", 16)
	if got := HashToBig(h); got.Cmp(want) != 0 {
		t.Errorf("HashToBig() = %064x, want %064x", got, want)
	}
}

func TestHashMeetsTarget(t *testing.T) {
	target, _ := new(big.Int).SetString("00000000ffff0000000000000000000000000000000000000000000000000000", 16)

	below := mustHash(t, "00000000fffe0000000000000000000000000000000000000000000000000000")
	if !HashMeetsTarget(below, target) {
		t.Error("hash below target should meet it")
	}

	equal := mustHash(t, "00000000ffff0000000000000000000000000000000000000000000000000000")
	if !HashMeetsTarget(equal, target) {
		t.Error("hash equal to target should meet it")
	}

	above := mustHash(t, "00000001000000000000000000000000000000000000000000000000000000ff")
	if HashMeetsTarget(above, target) {
		t.Error("hash above target should not meet it")
	}
}

func TestCheckSolution(t *testing.T) {
	tmpl := testTemplate(625000000)
	root := mustHash(t, "f3e94742aca4b5ef85488dc37c06c3282295ffec960994b2c0d5ac2a25a95766")

	// At an absurdly low effective difficulty every hash qualifies; the
	// clamp keeps it at difficulty 1, so instead check both directions by
	// comparing against the recomputed hash directly.
	hash, err := HeaderHash(tmpl, root, "68ac3f40", "00000001")
	if err != nil {
		t.Fatalf("HeaderHash() error = %v", err)
	}

	meets, err := CheckSolution(tmpl, root, "68ac3f40", "00000001", 1.0)
	if err != nil {
		t.Fatalf("CheckSolution() error = %v", err)
	}
	if want := HashMeetsTarget(hash, DifficultyToTarget(1.0)); meets != want {
		t.Errorf("CheckSolution() = %v, want %v", meets, want)
	}

	if _, err := CheckSolution(tmpl, root, "bad", "00000001", 1.0); err == nil {
		t.Error("CheckSolution() should propagate header errors")
	}
}
