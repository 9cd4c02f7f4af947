package protocol

import (
	"fmt"
	"strings"
)

// Tag identifies a command or a response code. The numeric values are part of
// the wire format and must never be reordered.
type Tag byte

// Commands sent by the client.
const (
	CmdVerifyResource Tag = iota + 1
	CmdVerifyPassword
	CmdLogout
	CmdDir
	CmdTree
	CmdHelp
	CmdUpload
	CmdDownload
	CmdCD
	CmdRmdir
	CmdMkdir
	CmdDelete
	CmdStats
	CmdCls
)

// Response codes sent by the server. CANCEL travels client to server during
// the DOWNLOAD negotiation.
const (
	ResOK Tag = iota + 64
	ResError
	ResDisconnect
	ResInvalidCmd
	ResInvalidArgs
	ResLoginNeeded
	ResUploadFailed
	ResServerNotReady
	ResFileNotFound
	ResDirectoryNeeded
	ResFileNeeded
	ResExists
	ResPassRequested
	ResAuthFailed
	ResCancel
	ResNoFilesSelected
)

type tagInfo struct {
	name        string
	description string
	// hidden commands are left out of the help table
	hidden bool
}

var tagTable = map[Tag]tagInfo{
	CmdVerifyResource: {"VERIFY_RESOURCE", "Check that a path exists with the expected type", true},
	CmdVerifyPassword: {"VERIFY_PASSWORD", "Log in with a username and password", true},
	CmdLogout:         {"LOGOUT", "Log out and disconnect", false},
	CmdDir:            {"DIR", "Show the directory", false},
	CmdTree:           {"TREE", "Show every file recursively", false},
	CmdHelp:           {"HELP", "Show all available commands", false},
	CmdUpload:         {"UPLOAD", "Upload files or directories", false},
	CmdDownload:       {"DOWNLOAD", "Download files or directories", false},
	CmdCD:             {"CD", "Change directory", false},
	CmdRmdir:          {"RMDIR", "Delete a directory", false},
	CmdMkdir:          {"MKDIR", "Create a new directory", false},
	CmdDelete:         {"DELETE", "Delete a file", false},
	CmdStats:          {"STATS", "Show server statistics", false},
	CmdCls:            {"CLS", "Clear the screen", false},

	ResOK:              {"OK", "Request accepted", false},
	ResError:           {"ERROR", "Request failed", false},
	ResDisconnect:      {"DISCONNECT", "Disconnect from server", false},
	ResInvalidCmd:      {"INVALID_CMD", "Invalid command", false},
	ResInvalidArgs:     {"INVALID_ARGS", "Invalid arguments", false},
	ResLoginNeeded:     {"LOGIN_NEEDED", "Login required", false},
	ResUploadFailed:    {"UPLOAD_FAILED", "Upload failed", false},
	ResServerNotReady:  {"SERVER_NOT_READY", "Server not ready", false},
	ResFileNotFound:    {"FILE_NOT_FOUND", "File does not exist", false},
	ResDirectoryNeeded: {"DIRECTORY_NEEDED", "Directory is needed", false},
	ResFileNeeded:      {"FILE_NEEDED", "File is needed", false},
	ResExists:          {"EXISTS", "Resource exists", false},
	ResPassRequested:   {"PASS_REQUESTED", "Password requested", false},
	ResAuthFailed:      {"AUTH_FAILED", "Authentication failed", false},
	ResCancel:          {"CANCEL", "Cancel requested", false},
	ResNoFilesSelected: {"NO_FILES_SELECTED", "No files selected", false},
}

// Known reports whether t is part of the enumeration.
func (t Tag) Known() bool {
	_, ok := tagTable[t]
	return ok
}

// IsCommand reports whether t is a known command.
func (t Tag) IsCommand() bool {
	return t >= CmdVerifyResource && t <= CmdCls
}

// IsResponse reports whether t is a known response code.
func (t Tag) IsResponse() bool {
	return t >= ResOK && t <= ResNoFilesSelected
}

// IsAuthRelated reports whether a response asks the client to authenticate
// again.
func (t Tag) IsAuthRelated() bool {
	return t == ResLoginNeeded || t == ResPassRequested || t == ResAuthFailed
}

// String returns the wire name, or a numeric form for unknown tags.
func (t Tag) String() string {
	if info, ok := tagTable[t]; ok {
		return info.name
	}
	return fmt.Sprintf("TAG(%d)", byte(t))
}

// Description returns the fixed human-readable text for t. INVALID_CMD
// carries the command table so clients can show it directly.
func (t Tag) Description() string {
	if t == ResInvalidCmd {
		return tagTable[t].description + "\n" + HelpText()
	}
	if info, ok := tagTable[t]; ok {
		return info.description
	}
	return "Unknown message"
}

// Commands returns the user-visible commands in wire order.
func Commands() []Tag {
	cmds := make([]Tag, 0, CmdCls)
	for t := CmdVerifyResource; t <= CmdCls; t++ {
		if !tagTable[t].hidden {
			cmds = append(cmds, t)
		}
	}
	return cmds
}

// ParseCommand maps user input such as " mkdir " to a visible command.
func ParseCommand(name string) (Tag, bool) {
	name = strings.ToUpper(strings.TrimSpace(name))
	for _, t := range Commands() {
		if tagTable[t].name == name {
			return t, true
		}
	}
	return 0, false
}

// HelpText renders the command table shown by HELP.
func HelpText() string {
	cmds := Commands()
	width := len("Commands")
	for _, t := range cmds {
		if n := len(t.String()); n > width {
			width = n
		}
	}

	var b strings.Builder
	b.WriteString("Available Commands:\n")
	fmt.Fprintf(&b, "%-*s  %s", width, "Commands", "Description")
	for _, t := range cmds {
		fmt.Fprintf(&b, "\n%-*s  %s", width, t.String(), tagTable[t].description)
	}
	return b.String()
}
