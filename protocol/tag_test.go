package protocol

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEveryTagHasNameAndDescription(t *testing.T) {
	for tag := CmdVerifyResource; tag <= CmdCls; tag++ {
		assert.True(t, tag.Known(), "%d", tag)
		assert.True(t, tag.IsCommand())
		assert.False(t, tag.IsResponse())
		assert.NotEmpty(t, tag.Description())
	}
	for tag := ResOK; tag <= ResNoFilesSelected; tag++ {
		assert.True(t, tag.Known(), "%d", tag)
		assert.True(t, tag.IsResponse())
		assert.False(t, tag.IsCommand())
		assert.NotEmpty(t, tag.Description())
	}
	assert.Len(t, tagTable, 30)
}

func TestTagNames(t *testing.T) {
	assert.Equal(t, "VERIFY_RESOURCE", CmdVerifyResource.String())
	assert.Equal(t, "NO_FILES_SELECTED", ResNoFilesSelected.String())
	assert.Equal(t, "TAG(200)", Tag(200).String())
	assert.Equal(t, "Unknown message", Tag(200).Description())
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		input string
		want  Tag
		ok    bool
	}{
		{"dir", CmdDir, true},
		{"  MkDir ", CmdMkdir, true},
		{"cls", CmdCls, true},
		{"verify_resource", 0, false},
		{"OK", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseCommand(tt.input)
		assert.Equal(t, tt.ok, ok, tt.input)
		assert.Equal(t, tt.want, got, tt.input)
	}
}

func TestHelpTextListsVisibleCommands(t *testing.T) {
	help := HelpText()
	assert.True(t, strings.HasPrefix(help, "Available Commands:\n"))
	for _, cmd := range Commands() {
		assert.Contains(t, help, cmd.String())
	}
	assert.NotContains(t, help, "VERIFY_PASSWORD")
	assert.Contains(t, ResInvalidCmd.Description(), "DOWNLOAD")
}

func TestAuthRelated(t *testing.T) {
	assert.True(t, ResLoginNeeded.IsAuthRelated())
	assert.True(t, ResAuthFailed.IsAuthRelated())
	assert.True(t, ResPassRequested.IsAuthRelated())
	assert.False(t, ResOK.IsAuthRelated())
}
