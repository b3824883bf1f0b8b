// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import "strconv"

// numberEntry is a bounded numeric field edited one key at a time.
// Keys that would leave the range are ignored.
type numberEntry struct {
	min, max int
	value    int
	set      bool
}

func newNumberEntry(min, max int) numberEntry {
	return numberEntry{min: min, max: max}
}

func (n numberEntry) inRange(v int) bool {
	return v >= n.min && v <= n.max
}

// digit appends a decimal digit
func (n *numberEntry) digit(d int) {
	v := d
	if n.set {
		v = n.value*10 + d
	}
	if n.inRange(v) {
		n.value = v
		n.set = true
	}
}

// backspace drops the last digit, clearing the field below the minimum
func (n *numberEntry) backspace() {
	if !n.set {
		return
	}
	v := n.value / 10
	if v < n.min {
		n.clear()
		return
	}
	n.value = v
}

func (n *numberEntry) clear() {
	n.value = 0
	n.set = false
}

// setValue fills the field, ignoring values outside the range
func (n *numberEntry) setValue(v int) {
	if n.inRange(v) {
		n.value = v
		n.set = true
	}
}

// Value returns the entered number and whether one is set
func (n numberEntry) Value() (int, bool) {
	return n.value, n.set
}

func (n numberEntry) String() string {
	if !n.set {
		return "---"
	}
	return strconv.Itoa(n.value)
}
