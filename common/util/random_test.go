package util

import (
	"strconv"
	"testing"
)

func TestGetRandomNumber(t *testing.T) {
	for i := 0; i < 1000; i++ {
		n := GetRandomNumber()
		if n < 111111 || n >= 999999 {
			t.Fatalf("number out of range: %d", n)
		}
		if len(strconv.Itoa(n)) != 6 {
			t.Fatalf("expected six digits, got %d", n)
		}
	}
}
