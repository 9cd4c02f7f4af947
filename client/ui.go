package client

import (
	"github.com/opd-ai/rfm/protocol"
	"github.com/opd-ai/rfm/relpath"
)

// Command is one user request. Arg is the optional text typed after the
// command name, such as the directory for CD.
type Command struct {
	Tag protocol.Tag
	Arg string
}

// LocalSource is a local file or directory chosen for upload. Name is the
// name it will get on the server.
type LocalSource struct {
	Path string
	Name string
}

// UI is everything the client needs from a front end. Prompting methods
// block until the user answers; an error from PromptCommand ends the
// session.
type UI interface {
	PromptCommand(cwd relpath.RelativePath) (Command, error)
	DisplayMessage(text string)
	DisplayError(code protocol.Tag, text string)
	DisplayListing(entries []relpath.RelativePath)
	DisplayStats(stats protocol.Stats)
	ReportProgress(percent int, bytesPerSecond float64, total int64)
	PromptCredentials() (user, pass string, err error)
	// SelectRemoteTargets returns the server paths to download; empty means
	// nothing was chosen.
	SelectRemoteTargets(cwd relpath.RelativePath) ([]relpath.RelativePath, error)
	SelectLocalSources() ([]LocalSource, error)
	// SelectLocalDestination is asked once the server has announced the
	// approximate download size. An empty path cancels the download.
	SelectLocalDestination(approxTotal int64) (string, error)
	// RenameTarget is asked when name already exists on the server. An empty
	// answer skips the file.
	RenameTarget(name string) (string, error)
	ClearScreen()
}
