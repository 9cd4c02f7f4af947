// Package server implements the responder side of the rfm protocol.
//
// A Server accepts TCP connections and runs one session per connection on
// its own goroutine. Each session confines every client supplied path to the
// configured root, answers commands with typed response codes, and drives the
// transfer engine for UPLOAD and DOWNLOAD. Errors on one session never affect
// another: protocol errors become responses, connection failures end only
// the session that saw them.
//
//	srv, err := server.New(server.Config{Root: "/srv/files"})
//	if err := srv.Listen(":4453"); err != nil { ... }
//	err = srv.Serve(ctx)
package server
