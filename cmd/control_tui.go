// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/trackside/pkg/dcc"
	"github.com/Thermoquad/trackside/pkg/engine"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const (
	controlTick  = 250 * time.Millisecond
	hornDuration = time.Second // momentary functions release after this
	speedStep    = 1
	speedJump    = 10
	minCV        = 1
	maxCV        = 1024
)

// Focus states
const (
	focusThrottle = iota
	focusProgrammer
)

// Programmer fields
const (
	fieldCV = iota
	fieldValue
)

// Programming operation in progress
type progBusy int

const (
	progIdle progBusy = iota
	progReading
	progWriting
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// preset is a function key shown on the throttle
type preset struct {
	fn        int
	name      string
	momentary bool
	on        bool
}

// Implement list.Item interface
func (p preset) Title() string { return fmt.Sprintf("F%d %s", p.fn, p.name) }
func (p preset) Description() string {
	state := "off"
	if p.on {
		state = "on"
	}
	if p.momentary {
		return state + " (momentary)"
	}
	return state
}
func (p preset) FilterValue() string { return p.name }

func defaultPresets() []preset {
	return []preset{
		{fn: 0, name: "Lights"},
		{fn: 1, name: "Bell"},
		{fn: 2, name: "Horn", momentary: true},
		{fn: 8, name: "Engine"},
	}
}

// eventLogEntry is one line of the event log
type eventLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// controlModel is the Bubble Tea model for the throttle TUI
type controlModel struct {
	// Facade manager (for commands and reconnection)
	fm       *facadeManager
	connInfo string

	// Throttle
	address    int
	handle     engine.Handle
	haveHandle bool
	speed      int // magnitude 0..127
	forward    bool
	presets    []preset
	presetList list.Model
	hornUntil  time.Time
	rcSpeed    int

	// Programmer
	cvEntry    numberEntry
	valueEntry numberEntry
	progField  int
	busy       progBusy
	progStatus string
	service    bool

	// Track state
	powered bool
	faulted bool

	// Event log
	eventLog      []eventLogEntry
	maxLogEntries int

	// UI state
	focusedField   int
	width          int
	height         int
	quitting       bool
	connectionLost bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type controlTickMsg time.Time

type reconnectedMsg struct {
	connInfo string
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialControlModel(fm *facadeManager, address int) controlModel {
	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	presetList := list.New([]list.Item{}, delegate, 30, 10)
	presetList.Title = "Functions"
	presetList.SetShowStatusBar(false)
	presetList.SetShowHelp(false)
	presetList.SetFilteringEnabled(false)

	m := controlModel{
		fm:            fm,
		connInfo:      fm.connInfo,
		address:       address,
		forward:       true,
		presets:       defaultPresets(),
		presetList:    presetList,
		rcSpeed:       engine.SpeedUnknown,
		cvEntry:       newNumberEntry(minCV, maxCV),
		valueEntry:    newNumberEntry(0, 255),
		powered:       true,
		eventLog:      make([]eventLogEntry, 0),
		maxLogEntries: 100,
		focusedField:  focusThrottle,
		width:         80,
		height:        24,
	}
	m.updatePresetList()
	m.openThrottle()
	return m
}

// openThrottle acquires a handle and replays the throttle state
func (m *controlModel) openThrottle() {
	f := m.fm.get()
	h, err := f.CreateThrottle(m.address)
	if err != nil {
		m.haveHandle = false
		m.addLogEntry(fmt.Sprintf("Cannot open throttle %d: %v", m.address, err), true)
		return
	}
	m.handle = h
	m.haveHandle = true
	m.addLogEntry(fmt.Sprintf("Throttle open for address %d", m.address), false)

	if m.speed != 0 || !m.forward {
		m.sendSpeed()
	}
	for _, p := range m.presets {
		if p.on {
			m.sendFunction(p.fn, true)
		}
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m controlModel) Init() tea.Cmd {
	return controlTickCmd()
}

func controlTickCmd() tea.Cmd {
	return tea.Tick(controlTick, func(t time.Time) tea.Msg {
		return controlTickMsg(t)
	})
}

func (m controlModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateListSize()

	case controlTickMsg:
		m.poll(time.Time(msg))
		return m, controlTickCmd()

	case reconnectedMsg:
		m.connectionLost = false
		m.connInfo = msg.connInfo
		m.addLogEntry("Reconnected", false)
		m.openThrottle()
	}

	return m, nil
}

func (m *controlModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	switch key {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "tab", "shift+tab":
		// The programmer cannot be left mid-operation
		if m.busy != progIdle {
			return m, nil
		}
		if m.focusedField == focusThrottle {
			m.focusedField = focusProgrammer
		} else {
			m.focusedField = focusThrottle
		}
		return m, nil

	case "p":
		m.togglePower()
		return m, nil
	}

	if m.connectionLost {
		return m, nil
	}

	if m.focusedField == focusThrottle {
		return m.handleThrottleKey(msg)
	}
	return m.handleProgrammerKey(key)
}

func (m *controlModel) handleThrottleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "+", "=", "right", "l":
		m.setSpeed(m.speed + speedStep)
	case "-", "left", "h":
		m.setSpeed(m.speed - speedStep)
	case "pgup":
		m.setSpeed(m.speed + speedJump)
	case "pgdown":
		m.setSpeed(m.speed - speedJump)
	case " ", "s":
		m.setSpeed(0)
	case "r":
		m.forward = !m.forward
		m.sendSpeed()
		m.addLogEntry(fmt.Sprintf("Direction %s", directionName(m.forward)), false)
	case "enter":
		m.pressPreset(m.presetList.Index())
	case "up", "k", "down", "j":
		m.presetList, _ = m.presetList.Update(msg)
	}
	return m, nil
}

func (m *controlModel) handleProgrammerKey(key string) (tea.Model, tea.Cmd) {
	// Navigation and mode changes wait for the running operation
	if m.busy != progIdle {
		return m, nil
	}

	entry := &m.cvEntry
	if m.progField == fieldValue {
		entry = &m.valueEntry
	}

	switch key {
	case "0", "1", "2", "3", "4", "5", "6", "7", "8", "9":
		entry.digit(int(key[0] - '0'))
	case "backspace":
		entry.backspace()
	case "delete", "c":
		entry.clear()
	case "up", "down", "k", "j":
		m.progField = 1 - m.progField
	case "r":
		m.readCV()
	case "w":
		m.writeCV()
	case "m":
		m.toggleProgrammingMode()
	}
	return m, nil
}

func (m controlModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	statsLabelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	statsValueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	focusedBoxStyle := boxStyle.
		BorderForeground(lipgloss.Color("12"))

	// Header
	s.WriteString(titleStyle.Render("TRACKSIDE THROTTLE"))
	s.WriteString(" ")
	connStatus := m.connInfo
	if m.connectionLost {
		connStatus = warningStyle.Render("RECONNECTING...")
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | q=quit Tab=switch p=power", connStatus)))
	s.WriteString("\n")

	// Track power
	s.WriteString(" ")
	s.WriteString(statsLabelStyle.Render("Track:"))
	s.WriteString(" ")
	switch {
	case m.faulted:
		s.WriteString(errorStyle.Render("OVERCURRENT - power cut"))
	case !m.powered:
		s.WriteString(warningStyle.Render("off"))
	case m.service:
		s.WriteString(statsValueStyle.Render("service mode"))
	default:
		s.WriteString(statsValueStyle.Render("operations mode"))
	}
	s.WriteString("\n\n")

	// Layout: left panel (throttle) | right panel (programmer)
	leftWidth := 34
	rightWidth := m.width - leftWidth - 6

	throttleStyle := boxStyle.Width(leftWidth)
	progStyle := boxStyle.Width(rightWidth)
	if m.focusedField == focusThrottle {
		throttleStyle = focusedBoxStyle.Width(leftWidth)
	} else {
		progStyle = focusedBoxStyle.Width(rightWidth)
	}

	throttlePanel := throttleStyle.Render(m.renderThrottle(statsLabelStyle, statsValueStyle, headerStyle))
	progPanel := progStyle.Render(m.renderProgrammer(statsLabelStyle, statsValueStyle, errorStyle, warningStyle, headerStyle))

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, throttlePanel, " ", progPanel))
	s.WriteString("\n\n")

	// Event log
	s.WriteString(m.renderEventLog(statsLabelStyle, warningStyle, boxStyle))

	return s.String()
}

//////////////////////////////////////////////////////////////
// View Helpers
//////////////////////////////////////////////////////////////

func (m controlModel) renderThrottle(statsLabelStyle, statsValueStyle, headerStyle lipgloss.Style) string {
	var s strings.Builder

	s.WriteString(fmt.Sprintf("%s %d\n", statsLabelStyle.Render("Address:"), m.address))
	s.WriteString(fmt.Sprintf("%s %s %s\n",
		statsLabelStyle.Render("Speed:"),
		statsValueStyle.Render(fmt.Sprintf("%3d", m.speed)),
		directionName(m.forward)))

	rc := "---"
	if m.rcSpeed != engine.SpeedUnknown {
		rc = fmt.Sprintf("%d", m.rcSpeed)
	}
	s.WriteString(fmt.Sprintf("%s %s\n\n", statsLabelStyle.Render("RailCom:"), statsValueStyle.Render(rc)))

	s.WriteString(m.presetList.View())
	s.WriteString("\n")
	s.WriteString(headerStyle.Render("+/- speed  PgUp/PgDn x10  space stop\nr direction  Enter function"))

	return s.String()
}

func (m controlModel) renderProgrammer(statsLabelStyle, statsValueStyle, errorStyle, warningStyle, headerStyle lipgloss.Style) string {
	var s strings.Builder

	mode := "on the main (RailCom)"
	if m.service {
		mode = "programming track"
	}
	s.WriteString(fmt.Sprintf("%s %s\n\n", statsLabelStyle.Render("Mode:"), mode))

	cursor := func(field int) string {
		if m.focusedField == focusProgrammer && m.progField == field {
			return ">"
		}
		return " "
	}
	s.WriteString(fmt.Sprintf("%s %s %s\n", cursor(fieldCV), statsLabelStyle.Render("CV:   "), statsValueStyle.Render(m.cvEntry.String())))
	s.WriteString(fmt.Sprintf("%s %s %s\n\n", cursor(fieldValue), statsLabelStyle.Render("Value:"), statsValueStyle.Render(m.valueEntry.String())))

	s.WriteString(statsLabelStyle.Render("Status: "))
	switch m.progStatus {
	case "":
		s.WriteString(headerStyle.Render("ready"))
	case "err":
		s.WriteString(errorStyle.Render(m.progStatus))
	case "working":
		s.WriteString(warningStyle.Render(m.progStatus))
	default:
		s.WriteString(statsValueStyle.Render(m.progStatus))
	}
	s.WriteString("\n\n")
	s.WriteString(headerStyle.Render("digits/Bksp/c edit  up/down field\nr read  w write  m track"))

	return s.String()
}

func (m controlModel) renderEventLog(statsLabelStyle, warningStyle, boxStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(statsLabelStyle.Render("EVENTS"))
	s.WriteString("\n")

	headerStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyleLocal := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)

	logHeight := 8
	if len(m.eventLog) < logHeight {
		logHeight = len(m.eventLog)
	}
	startIdx := len(m.eventLog) - logHeight

	if len(m.eventLog) == 0 {
		s.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.eventLog); i++ {
			entry := m.eventLog[i]
			timestamp := entry.timestamp.Format("15:04:05.000")
			icon := "i"
			style := warningStyle
			if entry.isError {
				icon = "x"
				style = errorStyleLocal
			}
			s.WriteString(fmt.Sprintf("%s %s %s\n",
				headerStyle.Render(timestamp),
				style.Render(icon),
				entry.message))
		}
	}

	return boxStyle.Width(m.width - 4).Render(s.String())
}

//////////////////////////////////////////////////////////////
// Polling
//////////////////////////////////////////////////////////////

// poll runs once per tick: momentary release, programming results,
// RailCom speed, faults and connection loss
func (m *controlModel) poll(now time.Time) {
	if m.connectionLost {
		return
	}
	f := m.fm.get()

	if !m.hornUntil.IsZero() && now.After(m.hornUntil) {
		m.hornUntil = time.Time{}
		m.releaseMomentary()
	}

	if m.haveHandle && m.busy != progIdle {
		ok, value, done := f.OpsDone(m.handle)
		if done {
			m.finishProgramming(ok, value)
		}
	}

	if m.haveHandle {
		if rc, err := f.RCSpeed(m.handle); err == nil && rc != m.rcSpeed {
			m.rcSpeed = rc
			if rc != engine.SpeedUnknown {
				m.addLogEntry(fmt.Sprintf("RailCom speed %d", rc), false)
			}
		}
	}

	if err := f.Fault(); err != nil {
		if !m.faulted {
			m.faulted = true
			m.powered = false
			m.addLogEntry(fmt.Sprintf("Track power cut: %v (p to restore)", err), true)
		}
	}

	if err := m.fm.lost(); err != nil {
		m.connectionLost = true
		m.haveHandle = false
		m.busy = progIdle
		m.addLogEntry("Connection lost - reconnecting...", true)
		m.fm.startReconnect()
	}
}

//////////////////////////////////////////////////////////////
// Commands
//////////////////////////////////////////////////////////////

func (m *controlModel) setSpeed(speed int) {
	if speed < 0 {
		speed = 0
	}
	if speed > dcc.MaxSpeed {
		speed = dcc.MaxSpeed
	}
	if speed == m.speed {
		return
	}
	m.speed = speed
	m.sendSpeed()
}

func (m *controlModel) sendSpeed() {
	if !m.haveHandle {
		return
	}
	speed := m.speed
	if !m.forward {
		speed = -speed
	}
	if err := m.fm.get().SetSpeed(m.handle, speed); err != nil {
		m.addLogEntry(fmt.Sprintf("Failed to set speed: %v", err), true)
	}
}

func (m *controlModel) pressPreset(idx int) {
	if idx < 0 || idx >= len(m.presets) {
		return
	}
	p := &m.presets[idx]

	if p.momentary {
		// Held while the key repeats; released on the tick after it stops
		m.hornUntil = time.Now().Add(hornDuration)
		if p.on {
			return
		}
		p.on = true
	} else {
		p.on = !p.on
	}
	m.sendFunction(p.fn, p.on)
	m.addLogEntry(fmt.Sprintf("%s %s", p.Title(), onOff(p.on)), false)
	m.updatePresetList()
}

func (m *controlModel) releaseMomentary() {
	for i := range m.presets {
		p := &m.presets[i]
		if p.momentary && p.on {
			p.on = false
			m.sendFunction(p.fn, false)
		}
	}
	m.updatePresetList()
}

func (m *controlModel) sendFunction(fn int, on bool) {
	if !m.haveHandle {
		return
	}
	if err := m.fm.get().SetFunction(m.handle, fn, on); err != nil {
		m.addLogEntry(fmt.Sprintf("Failed to set F%d: %v", fn, err), true)
	}
}

func (m *controlModel) readCV() {
	cv, ok := m.cvEntry.Value()
	if !ok {
		m.addLogEntry("Enter a CV number first", true)
		return
	}
	if !m.haveHandle {
		return
	}
	if err := m.fm.get().ReadCV(m.handle, cv); err != nil {
		m.addLogEntry(fmt.Sprintf("Cannot read CV%d: %v", cv, err), true)
		return
	}
	m.valueEntry.clear()
	m.busy = progReading
	m.progStatus = "working"
	m.addLogEntry(fmt.Sprintf("Reading CV%d", cv), false)
}

func (m *controlModel) writeCV() {
	cv, okCV := m.cvEntry.Value()
	value, okValue := m.valueEntry.Value()
	if !okCV || !okValue {
		m.addLogEntry("Enter a CV number and value first", true)
		return
	}
	if !m.haveHandle {
		return
	}
	if err := m.fm.get().WriteCV(m.handle, cv, value); err != nil {
		m.addLogEntry(fmt.Sprintf("Cannot write CV%d: %v", cv, err), true)
		return
	}
	m.valueEntry.clear()
	m.busy = progWriting
	m.progStatus = "working"
	m.addLogEntry(fmt.Sprintf("Writing CV%d = %d", cv, value), false)
}

func (m *controlModel) finishProgramming(ok bool, value uint8) {
	cv, _ := m.cvEntry.Value()
	verb := "Read"
	if m.busy == progWriting {
		verb = "Write"
	}
	m.busy = progIdle

	if !ok {
		m.progStatus = "err"
		m.addLogEntry(fmt.Sprintf("%s CV%d failed", verb, cv), true)
		return
	}
	m.valueEntry.setValue(int(value))
	m.progStatus = "ok"
	m.addLogEntry(fmt.Sprintf("%s CV%d = %d", verb, cv, value), false)
}

func (m *controlModel) toggleProgrammingMode() {
	m.service = !m.service
	if !m.powered {
		m.addLogEntry(fmt.Sprintf("Programming on %s when power returns", m.trackName()), false)
		return
	}
	m.applyMode()
	m.addLogEntry(fmt.Sprintf("Switched to %s", m.trackName()), false)
}

func (m *controlModel) togglePower() {
	if m.connectionLost {
		return
	}
	if m.powered {
		m.fm.get().SetModeIdle()
		m.powered = false
		m.busy = progIdle
		m.addLogEntry("Track power off", false)
		return
	}
	m.applyMode()
	m.powered = true
	m.faulted = false
	m.addLogEntry("Track power on", false)
}

func (m *controlModel) applyMode() {
	if m.service {
		m.fm.get().SetModeService()
	} else {
		m.fm.get().SetModeOps()
	}
	// A mode change cancels any running operation
	if m.busy != progIdle {
		m.busy = progIdle
		m.progStatus = "err"
	}
}

//////////////////////////////////////////////////////////////
// Helpers
//////////////////////////////////////////////////////////////

func (m *controlModel) addLogEntry(message string, isError bool) {
	entry := eventLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.eventLog = append(m.eventLog, entry)

	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

func (m *controlModel) updatePresetList() {
	items := make([]list.Item, len(m.presets))
	for i, p := range m.presets {
		items[i] = p
	}
	m.presetList.SetItems(items)
}

func (m *controlModel) updateListSize() {
	listHeight := m.height / 3
	if listHeight < 5 {
		listHeight = 5
	}
	m.presetList.SetSize(30, listHeight)
}

func (m controlModel) trackName() string {
	if m.service {
		return "programming track"
	}
	return "main"
}

func directionName(forward bool) string {
	if forward {
		return "FWD"
	}
	return "REV"
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
