package protocol

import "fmt"

// Key names a payload entry. Values are part of the wire format.
type Key byte

const (
	KeyMsg Key = iota + 1
	KeyRelPath
	KeyRelPaths
	KeyFileName
	KeyBytes
	KeyUsername
	KeyPassword
	KeyAuthToken
	KeyExists
	KeyIsDir
	KeyStats
	KeyArchive
)

type valueType byte

const (
	typeString valueType = iota + 1
	typeInt
	typeBool
	typePath
	typePaths
	typeStats
)

var keyTable = map[Key]struct {
	name string
	typ  valueType
}{
	KeyMsg:       {"MSG", typeString},
	KeyRelPath:   {"REL_PATH", typePath},
	KeyRelPaths:  {"REL_PATHS", typePaths},
	KeyFileName:  {"FILE_NAME", typeString},
	KeyBytes:     {"BYTES", typeInt},
	KeyUsername:  {"USERNAME", typeString},
	KeyPassword:  {"PASSWORD", typeString},
	KeyAuthToken: {"AUTH_TOKEN", typeString},
	KeyExists:    {"EXISTS", typeBool},
	KeyIsDir:     {"IS_DIR", typeBool},
	KeyStats:     {"STATS", typeStats},
	KeyArchive:   {"ARCHIVE", typeBool},
}

func (k Key) String() string {
	if info, ok := keyTable[k]; ok {
		return info.name
	}
	return fmt.Sprintf("KEY(%d)", byte(k))
}
