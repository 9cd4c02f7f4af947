// Package file implements the rfm transfer engine.
//
// A transfer moves a byte stream between peers after a Message exchange has
// agreed on its size. The stream is a sequence of chunk frames written
// directly to the connection, outside the message codec:
//
//	u32 length | length bytes      (length <= limits.ChunkSize when sending)
//	u32 0                          end of stream
//	u32 0xFFFFFFFF                 sender aborted
//
// The explicit end marker makes completion independent of the content, so
// binary data can never be mistaken for a terminator.
//
// # Modes
//
// ModeExact is used for a single file. The declared total is authoritative:
// a sender whose source runs dry early writes the abort marker and returns
// ErrIncompleteSource, and a receiver that sees fewer or more bytes than
// declared fails with ErrShortTransfer or ErrTransferOverrun.
//
// ModeArchive is used when several paths travel as one zip archive. The
// total is the sum of uncompressed file sizes and is used only as the
// progress denominator; completion relies on the end marker alone.
//
// # Progress
//
// Both directions call the progress callback at most every
// DefaultProgressInterval with the truncated percentage (capped at 99), the
// instantaneous throughput and the total, then once more with 100 when the
// transfer succeeds.
//
//	t := file.NewTransfer(file.TransferDirectionOutgoing, file.ModeExact, info.Size())
//	t.OnProgress(func(percent int, bytesPerSecond float64, total int64) {
//	    fmt.Printf("\r%3d%% %s/s", percent, relpath.FormatBytes(int64(bytesPerSecond)))
//	})
//	err := t.Send(conn, f)
//
// # Errors
//
// Connection failures surface as transport errors and are fatal to the
// session (IsFatal). Everything else, including a full disk on the receiving
// side, is reported after the stream has been drained up to its end marker,
// so the session can continue with the next command.
//
// # Archives
//
// Pack and StreamArchive build a zip archive of files and directories,
// skipping missing paths and empty directories; PlanArchive computes the
// approximate total beforehand. Unpack extracts an archive and rejects
// entries that would land outside the destination directory.
package file
