// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dcc

import (
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

// newFuzzRng creates a new random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

// randomPacket builds a random valid command packet
func randomPacket(rng *rand.Rand) Packet {
	addr := Address(rng.Intn(int(MaxLongAddress)) + 1)
	var p Packet
	var err error
	switch rng.Intn(5) {
	case 0:
		p, err = NewSpeedPacket(addr, rng.Intn(2*MaxSpeed+1)-MaxSpeed)
	case 1:
		p, err = NewFunctionPacket(addr, FunctionGroup(rng.Intn(int(NumFunctionGroups))), rng.Uint32())
	case 2:
		p, err = NewPOMWritePacket(addr, rng.Intn(MaxCV)+1, rng.Intn(MaxCVValue+1))
	case 3:
		p, err = NewPOMReadPacket(addr, rng.Intn(MaxCV)+1)
	default:
		p = NewIdlePacket()
	}
	if err != nil {
		panic(err)
	}
	return p
}

// ============================================================
// Decoder Fuzz Tests
// ============================================================

// TestFuzzDecoder_RandomBits feeds random bits to the decoder
// and verifies it doesn't crash or panic
func TestFuzzDecoder_RandomBits(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		d := NewDecoder()
		length := rng.Intn(512) + 1
		for j := 0; j < length; j++ {
			p, _ := d.DecodeBit(rng.Intn(2) == 1)
			if p != nil && !p.Valid() {
				t.Fatalf("decoder returned an invalid packet: % X", p.Bytes())
			}
		}
	}
}

// TestFuzzDecoder_RandomHalfPeriods feeds random edge timings
func TestFuzzDecoder_RandomHalfPeriods(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)

	for i := 0; i < rounds; i++ {
		d := NewDecoder()
		for j := 0; j < 256; j++ {
			d.DecodeHalfPeriod(time.Duration(rng.Intn(200)) * time.Microsecond)
		}
	}
}

// TestFuzzDecoder_RoundTrip encodes random packets back to back and
// verifies every one is decoded intact
func TestFuzzDecoder_RoundTrip(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)

	for i := 0; i < rounds; i++ {
		d := NewDecoder()
		count := rng.Intn(8) + 1
		sent := make([]Packet, count)
		var bits []bool
		for j := range sent {
			sent[j] = randomPacket(rng)
			bits = AppendBits(bits, sent[j])
		}

		got := decodeBits(t, d, bits)
		if len(got) != count {
			t.Fatalf("round %d: expected %d packets, got %d", i, count, len(got))
		}
		for j := range sent {
			if !got[j].Equal(sent[j]) {
				t.Fatalf("round %d packet %d: expected % X, got % X", i, j, sent[j].Bytes(), got[j].Bytes())
			}
		}
	}
}

// TestFuzzParse_BuiltPackets verifies every built packet parses back to its inputs
func TestFuzzParse_BuiltPackets(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)

	for i := 0; i < rounds; i++ {
		addr := Address(rng.Intn(int(MaxLongAddress)) + 1)
		speed := rng.Intn(2*MaxSpeed+1) - MaxSpeed

		p, err := NewSpeedPacket(addr, speed)
		if err != nil {
			t.Fatalf("NewSpeedPacket(%d, %d): %v", addr, speed, err)
		}
		if anomalies := ValidatePacket(p, false); len(anomalies) != 0 {
			t.Fatalf("built packet has anomalies: %v", anomalies)
		}
		ins, err := ParsePacket(p, false)
		if err != nil {
			t.Fatalf("ParsePacket: %v", err)
		}
		if ins.Address != addr {
			t.Fatalf("address: expected %d, got %d", addr, ins.Address)
		}
		magnitude := speed
		if magnitude < 0 {
			magnitude = -magnitude
		}
		if int(ins.SpeedCode) != int(SpeedCode(magnitude)) || ins.Kind != KindSpeed128 {
			t.Fatalf("speed %d: got code %d kind %d", speed, ins.SpeedCode, ins.Kind)
		}
	}
}
