package main

import (
	"crypto/rand"
	"encoding/hex"
	"log"
	"os"

	"github.com/google/uuid"
)

var debug = os.Getenv("DEBUG") != ""

// debugf logs only when DEBUG is set
func debugf(format string, args ...any) {
	if debug {
		log.Printf(format, args...)
	}
}

// GenerateID returns a random hex string of the given byte length
func GenerateID(byteLen int) string {
	b := make([]byte, byteLen)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// GenerateUUID returns a random v4 UUID string
func GenerateUUID() string {
	return uuid.NewString()
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
