// Package protocol defines the rfm message vocabulary and its binary codec.
//
// Every request and response is a Message: a Tag drawn from a closed
// enumeration of commands and response codes, plus a payload keyed by a
// closed set of Keys. Messages are encoded into a self-contained body which
// the transport package length-prefixes on the wire. File contents never
// travel inside a Message; they follow a negotiating exchange as raw chunk
// frames handled by the file package.
//
// Body layout (big-endian):
//
//	tag   u8
//	count u8
//	count × { key u8 | type u8 | value }
//
// Value encodings:
//
//	string        u32 length | bytes
//	int64         8 bytes
//	bool          1 byte (0 or 1)
//	path          string location | string name | int64 size | int64 mtime (unix nanos, 0 = unset)
//	paths         u32 count | count × path
//	stats         u32 count | count × { string name | u64 float bits }
//
// Example:
//
//	req := protocol.New(protocol.CmdMkdir).
//	    With(protocol.KeyRelPath, relpath.Dir("notes"))
//	body, err := protocol.Encode(req)
package protocol
