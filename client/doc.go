// Package client implements the initiator side of the rfm protocol.
//
// A Client owns one connection and a remote working directory. It gathers
// input through the UI interface, sends one request at a time, and drives the
// transfer engine for UPLOAD and DOWNLOAD. HELP and CLS never reach the
// server.
//
// Any UI works: the ui package provides a line-oriented terminal UI and a
// channel based Mailbox for event-loop front ends.
package client
