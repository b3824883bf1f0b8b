// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// ============================================================
// numberEntry
// ============================================================

// keys: digits, 'b' for backspace, 'c' for clear
func typeKeys(n *numberEntry, keys string) {
	for _, k := range keys {
		switch {
		case k >= '0' && k <= '9':
			n.digit(int(k - '0'))
		case k == 'b':
			n.backspace()
		case k == 'c':
			n.clear()
		}
	}
}

func TestNumberEntry_Keys(t *testing.T) {
	tests := []struct {
		name     string
		min, max int
		keys     string
		want     int
		wantSet  bool
	}{
		{"empty", 1, 1024, "", 0, false},
		{"single digit", 1, 1024, "8", 8, true},
		{"cv 1024", 1, 1024, "1024", 1024, true},
		{"digit past max ignored", 1, 1024, "10245", 1024, true},
		{"overflow ignored", 1, 1024, "1030", 103, true},
		{"leading zero ignored below min", 1, 1024, "029", 29, true},
		{"zero allowed when in range", 0, 255, "0", 0, true},
		{"value 255", 0, 255, "255", 255, true},
		{"value 256 rejected", 0, 255, "256", 25, true},
		{"backspace", 1, 1024, "123b", 12, true},
		{"backspace below min clears", 1, 1024, "5b", 0, false},
		{"backspace to zero stays set", 0, 255, "7b", 0, true},
		{"backspace when empty", 0, 255, "b", 0, false},
		{"clear", 0, 255, "12c", 0, false},
		{"retype after clear", 0, 255, "12c3", 3, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := newNumberEntry(tt.min, tt.max)
			typeKeys(&n, tt.keys)

			v, ok := n.Value()
			assert.Equal(t, tt.wantSet, ok)
			assert.Equal(t, tt.want, v)
		})
	}
}

func TestNumberEntry_SetValue(t *testing.T) {
	n := newNumberEntry(0, 255)

	n.setValue(300)
	_, ok := n.Value()
	assert.False(t, ok, "out of range value must be ignored")

	n.setValue(42)
	v, ok := n.Value()
	assert.True(t, ok)
	assert.Equal(t, 42, v)
	assert.Equal(t, "42", n.String())

	n.clear()
	assert.Equal(t, "---", n.String())
}
