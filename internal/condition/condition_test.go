package condition

import (
	"math"
	"math/rand"
	"testing"
)

func TestConditionInverseRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	buf := make([]float64, 4000)
	for i := range buf {
		buf[i] = r.NormFloat64()*5 + 10
	}
	orig := append([]float64(nil), buf...)

	meta, err := Condition(buf, Options{SubtractMean: true, DivideByRMS: true})
	if err != nil {
		t.Fatalf("Condition: %v", err)
	}

	if err := Inverse(buf, meta[:]); err != nil {
		t.Fatalf("Inverse: %v", err)
	}
	for i := range buf {
		if math.Abs(buf[i]-orig[i]) > 1e-8 {
			t.Fatalf("index %d: got %v want %v", i, buf[i], orig[i])
		}
	}
}

func TestConditionMeanOnly(t *testing.T) {
	buf := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	orig := append([]float64(nil), buf...)
	meta, err := Condition(buf, Options{SubtractMean: true})
	if err != nil {
		t.Fatalf("Condition: %v", err)
	}
	if meta[0] != FlagMeanSubtracted {
		t.Errorf("expected FlagMeanSubtracted only, got flags %d", meta[0])
	}
	if err := Inverse(buf, meta[:]); err != nil {
		t.Fatalf("Inverse: %v", err)
	}
	for i := range buf {
		if math.Abs(buf[i]-orig[i]) > 1e-10 {
			t.Fatalf("index %d: got %v want %v", i, buf[i], orig[i])
		}
	}
}

func TestConstantVolumeFlagsMeanOnly(t *testing.T) {
	buf := make([]float64, 512*512)
	for i := range buf {
		buf[i] = 3.1416
	}
	meta, err := Condition(buf, Options{SubtractMean: true})
	if err != nil {
		t.Fatalf("Condition: %v", err)
	}
	if meta[0]&FlagMeanSubtracted == 0 {
		t.Error("expected mean-subtraction flag set")
	}
	for i, v := range buf {
		if math.Abs(v) > 1e-10 {
			t.Fatalf("index %d: expected near-zero after mean subtraction, got %v", i, v)
		}
	}
}

func TestConditionAllZeroRMSError(t *testing.T) {
	buf := make([]float64, 100)
	if _, err := Condition(buf, Options{DivideByRMS: true}); err != ErrAllZero {
		t.Errorf("expected ErrAllZero, got %v", err)
	}
}

func TestConditionEmptyRMSError(t *testing.T) {
	if _, err := Condition(nil, Options{DivideByRMS: true}); err != ErrAllZero {
		t.Errorf("expected ErrAllZero for empty buffer, got %v", err)
	}
}

func TestInverseShortMeta(t *testing.T) {
	buf := []float64{1, 2, 3}
	if err := Inverse(buf, []byte{0x00, 0x01}); err != ErrShortMeta {
		t.Errorf("expected ErrShortMeta, got %v", err)
	}
}

func TestChooseKDividesLength(t *testing.T) {
	for _, n := range []int{0, 1, 100, 2048, 2049, 4096, 1000000, 123456789} {
		k := chooseK(n)
		if n != 0 && n%k != 0 {
			t.Errorf("chooseK(%d) = %d does not evenly divide %d", n, k, n)
		}
	}
}

func TestNoOpOptionsLeavesBufferUnchanged(t *testing.T) {
	buf := []float64{1, 2, 3, 4}
	orig := append([]float64(nil), buf...)
	meta, err := Condition(buf, Options{})
	if err != nil {
		t.Fatalf("Condition: %v", err)
	}
	if meta[0] != 0 {
		t.Errorf("expected no flags set, got %d", meta[0])
	}
	for i := range buf {
		if buf[i] != orig[i] {
			t.Fatalf("index %d: got %v want %v", i, buf[i], orig[i])
		}
	}
}
