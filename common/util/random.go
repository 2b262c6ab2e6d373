package util

import (
	"math/rand"
	"sync"
	"time"
)

var (
	rngMu sync.Mutex
	rng   = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// GetRandomNumber returns a six digit number, used as a document id.
func GetRandomNumber() int {
	min := 111111
	max := 999999

	rngMu.Lock()
	defer rngMu.Unlock()
	return rng.Intn(max-min) + min
}
