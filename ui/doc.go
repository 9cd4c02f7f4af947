// Package ui provides front ends for the rfm client.
//
// CLI is a line-oriented terminal interface styled with lipgloss. Passwords
// are read without echo when the input is a terminal.
//
// Mailbox turns every UI call into an Event on a channel and waits for an
// Answer, which lets an event loop or a test drive a client.Client without
// a terminal.
package ui
