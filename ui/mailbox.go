package ui

import (
	"errors"
	"sync"

	"github.com/opd-ai/rfm/client"
	"github.com/opd-ai/rfm/protocol"
	"github.com/opd-ai/rfm/relpath"
)

// ErrMailboxClosed is returned by prompts and Answer after Close.
var ErrMailboxClosed = errors.New("mailbox closed")

// EventKind identifies what an Event carries and whether it waits for an
// Answer.
type EventKind int

const (
	// EventMessage carries Text.
	EventMessage EventKind = iota
	// EventError carries Code and Text.
	EventError
	// EventListing carries Entries.
	EventListing
	// EventStats carries Stats.
	EventStats
	// EventProgress carries Percent, BytesPerSecond and Total.
	EventProgress
	// EventClear asks the front end to clear its output.
	EventClear

	// Prompt kinds below block the client until Answer is called.

	// EventPromptCommand waits for Answer.Command.
	EventPromptCommand
	// EventPromptCredentials waits for Answer.User and Answer.Password.
	EventPromptCredentials
	// EventSelectRemote carries Cwd and waits for Answer.Paths.
	EventSelectRemote
	// EventSelectLocal waits for Answer.Sources.
	EventSelectLocal
	// EventSelectDestination carries Total and waits for Answer.Text.
	EventSelectDestination
	// EventRename carries Text, the clashing name, and waits for Answer.Text.
	EventRename
)

var eventNames = map[EventKind]string{
	EventMessage:           "message",
	EventError:             "error",
	EventListing:           "listing",
	EventStats:             "stats",
	EventProgress:          "progress",
	EventClear:             "clear",
	EventPromptCommand:     "prompt_command",
	EventPromptCredentials: "prompt_credentials",
	EventSelectRemote:      "select_remote",
	EventSelectLocal:       "select_local",
	EventSelectDestination: "select_destination",
	EventRename:            "rename",
}

// String returns the snake_case name of k.
func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return "unknown"
}

// IsPrompt reports whether the client waits for an Answer after k.
func (k EventKind) IsPrompt() bool {
	return k >= EventPromptCommand
}

// Event is one UI call from the client. Only the fields relevant to Kind are
// set.
type Event struct {
	Kind           EventKind
	Code           protocol.Tag
	Text           string
	Cwd            relpath.RelativePath
	Entries        []relpath.RelativePath
	Stats          protocol.Stats
	Percent        int
	BytesPerSecond float64
	Total          int64
}

// Answer resolves the pending prompt. Err makes the prompt fail, which for
// EventPromptCommand ends the session.
type Answer struct {
	Command  client.Command
	User     string
	Password string
	Text     string
	Paths    []relpath.RelativePath
	Sources  []client.LocalSource
	Err      error
}

var _ client.UI = (*Mailbox)(nil)

// Mailbox is a client.UI backed by channels.
type Mailbox struct {
	events    chan Event
	answers   chan Answer
	done      chan struct{}
	closeOnce sync.Once
}

// NewMailbox creates a Mailbox whose event channel holds buffer events.
func NewMailbox(buffer int) *Mailbox {
	return &Mailbox{
		events:  make(chan Event, buffer),
		answers: make(chan Answer),
		done:    make(chan struct{}),
	}
}

// Events delivers client output and prompts in order.
func (m *Mailbox) Events() <-chan Event {
	return m.events
}

// Answer hands a reply to the prompt the client is waiting on.
func (m *Mailbox) Answer(a Answer) error {
	select {
	case m.answers <- a:
		return nil
	case <-m.done:
		return ErrMailboxClosed
	}
}

// Close fails every pending and future prompt. Events already queued stay
// readable.
func (m *Mailbox) Close() {
	m.closeOnce.Do(func() { close(m.done) })
}

func (m *Mailbox) emit(ev Event) bool {
	select {
	case m.events <- ev:
		return true
	case <-m.done:
		return false
	}
}

func (m *Mailbox) prompt(ev Event) (Answer, error) {
	if !m.emit(ev) {
		return Answer{}, ErrMailboxClosed
	}
	select {
	case a := <-m.answers:
		return a, a.Err
	case <-m.done:
		return Answer{}, ErrMailboxClosed
	}
}

// PromptCommand emits EventPromptCommand and returns Answer.Command.
func (m *Mailbox) PromptCommand(cwd relpath.RelativePath) (client.Command, error) {
	a, err := m.prompt(Event{Kind: EventPromptCommand, Cwd: cwd})
	return a.Command, err
}

// PromptCredentials emits EventPromptCredentials and returns the answered
// user and password.
func (m *Mailbox) PromptCredentials() (string, string, error) {
	a, err := m.prompt(Event{Kind: EventPromptCredentials})
	return a.User, a.Password, err
}

// DisplayMessage emits EventMessage.
func (m *Mailbox) DisplayMessage(text string) {
	m.emit(Event{Kind: EventMessage, Text: text})
}

// DisplayError emits EventError.
func (m *Mailbox) DisplayError(code protocol.Tag, text string) {
	m.emit(Event{Kind: EventError, Code: code, Text: text})
}

// DisplayListing emits EventListing.
func (m *Mailbox) DisplayListing(entries []relpath.RelativePath) {
	m.emit(Event{Kind: EventListing, Entries: entries})
}

// DisplayStats emits EventStats.
func (m *Mailbox) DisplayStats(stats protocol.Stats) {
	m.emit(Event{Kind: EventStats, Stats: stats})
}

// ReportProgress emits EventProgress.
func (m *Mailbox) ReportProgress(percent int, bytesPerSecond float64, total int64) {
	m.emit(Event{Kind: EventProgress, Percent: percent, BytesPerSecond: bytesPerSecond, Total: total})
}

// SelectRemoteTargets emits EventSelectRemote and returns Answer.Paths.
func (m *Mailbox) SelectRemoteTargets(cwd relpath.RelativePath) ([]relpath.RelativePath, error) {
	a, err := m.prompt(Event{Kind: EventSelectRemote, Cwd: cwd})
	return a.Paths, err
}

// SelectLocalSources emits EventSelectLocal and returns Answer.Sources.
func (m *Mailbox) SelectLocalSources() ([]client.LocalSource, error) {
	a, err := m.prompt(Event{Kind: EventSelectLocal})
	return a.Sources, err
}

// SelectLocalDestination emits EventSelectDestination and returns the
// answered directory; empty cancels.
func (m *Mailbox) SelectLocalDestination(approxTotal int64) (string, error) {
	a, err := m.prompt(Event{Kind: EventSelectDestination, Total: approxTotal})
	return a.Text, err
}

// RenameTarget emits EventRename and returns the answered name.
func (m *Mailbox) RenameTarget(name string) (string, error) {
	a, err := m.prompt(Event{Kind: EventRename, Text: name})
	return a.Text, err
}

// ClearScreen emits EventClear.
func (m *Mailbox) ClearScreen() {
	m.emit(Event{Kind: EventClear})
}
