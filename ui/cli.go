package ui

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/opd-ai/rfm/client"
	"github.com/opd-ai/rfm/protocol"
	"github.com/opd-ai/rfm/relpath"
)

// Palette used by the CLI styles.
const (
	// Accent highlights prompts and directory names.
	Accent = "#ffffaf"
	// Muted renders secondary detail such as timestamps.
	Muted = "#4d4d4d"
	// Normal is the default foreground for file rows.
	Normal = "#dddddd"
	// Err colours error codes.
	Err = "#ff5f5f"

	defaultBarWidth = 40
	clearSequence   = "\033[H\033[2J"
)

var (
	promptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(Accent)).Bold(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color(Err)).Bold(true)
	dirStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color(Accent))
	fileStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color(Normal))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color(Muted))
	barStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color(Accent))
)

var _ client.UI = (*CLI)(nil)

// CLI reads commands line by line from in and renders results to out.
type CLI struct {
	// DefaultUser answers an empty username prompt.
	DefaultUser string
	// DownloadDir answers an empty destination prompt; "-" then cancels.
	DownloadDir string

	in  *bufio.Reader
	out io.Writer
	// fd is the terminal behind in, or -1.
	fd           int
	lastProgress int
}

// NewCLI builds a CLI. When in is a terminal, passwords are read without
// echo and progress bars follow the terminal width.
func NewCLI(in io.Reader, out io.Writer) *CLI {
	fd := -1
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fd = int(f.Fd())
	}
	return &CLI{in: bufio.NewReader(in), out: out, fd: fd, lastProgress: -1}
}

func (c *CLI) readLine() (string, error) {
	line, err := c.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (c *CLI) ask(prompt string) (string, error) {
	fmt.Fprint(c.out, promptStyle.Render(prompt))
	line, err := c.readLine()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// PromptCommand shows the working directory and reads the next non-blank
// line. Unknown command names yield a zero Tag, which the client reports as
// INVALID_CMD.
func (c *CLI) PromptCommand(cwd relpath.RelativePath) (client.Command, error) {
	for {
		line, err := c.ask(fmt.Sprintf("rfm:%s> ", displayDir(cwd)))
		if err != nil {
			return client.Command{}, err
		}
		if line == "" {
			continue
		}
		name, arg, _ := strings.Cut(line, " ")
		tag, _ := protocol.ParseCommand(name)
		return client.Command{Tag: tag, Arg: strings.TrimSpace(arg)}, nil
	}
}

func displayDir(cwd relpath.RelativePath) string {
	if cwd.IsRoot() {
		return "/"
	}
	return "/" + cwd.Path()
}

// PromptCredentials asks for a username, offering DefaultUser, and reads the
// password without echo on a terminal.
func (c *CLI) PromptCredentials() (string, string, error) {
	prompt := "Username: "
	if c.DefaultUser != "" {
		prompt = fmt.Sprintf("Username [%s]: ", c.DefaultUser)
	}
	user, err := c.ask(prompt)
	if err != nil {
		return "", "", err
	}
	if user == "" {
		user = c.DefaultUser
	}

	if c.fd < 0 {
		pass, err := c.ask("Password: ")
		return user, pass, err
	}
	fmt.Fprint(c.out, promptStyle.Render("Password: "))
	raw, err := term.ReadPassword(c.fd)
	fmt.Fprintln(c.out)
	if err != nil {
		return "", "", err
	}
	return user, string(raw), nil
}

// DisplayMessage prints text on its own line.
func (c *CLI) DisplayMessage(text string) {
	fmt.Fprintln(c.out, text)
}

// DisplayError prints the response code followed by text.
func (c *CLI) DisplayError(code protocol.Tag, text string) {
	fmt.Fprintf(c.out, "%s %s\n", errorStyle.Render(code.String()+":"), text)
}

// DisplayListing prints one row per entry: name, size and modification time.
func (c *CLI) DisplayListing(entries []relpath.RelativePath) {
	width := len("Name")
	for _, e := range entries {
		if n := len(e.Path()); n > width {
			width = n
		}
	}

	header := lipgloss.NewStyle().Width(width + 2).Render("Name") +
		lipgloss.NewStyle().Width(12).Render("Size") + "Modified"
	fmt.Fprintln(c.out, mutedStyle.Render(header))

	nameCol := lipgloss.NewStyle().Width(width + 2)
	for _, e := range entries {
		if e.IsDir() {
			fmt.Fprintln(c.out, dirStyle.Render(nameCol.Render(e.Path()+"/")))
			continue
		}
		fmt.Fprintln(c.out, fileStyle.Render(nameCol.Render(e.Path()))+
			lipgloss.NewStyle().Width(12).Render(e.HumanSize())+
			mutedStyle.Render(e.TimeString()))
	}
}

// DisplayStats prints the counters sorted by name.
func (c *CLI) DisplayStats(stats protocol.Stats) {
	keys := make([]string, 0, len(stats))
	width := 0
	for k := range stats {
		keys = append(keys, k)
		if len(k) > width {
			width = len(k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(c.out, "%-*s  %s\n", width, k, strconv.FormatFloat(stats[k], 'f', -1, 64))
	}
}

// ReportProgress redraws a single progress line and ends it at 100%.
func (c *CLI) ReportProgress(percent int, bytesPerSecond float64, total int64) {
	if percent == c.lastProgress {
		return
	}
	c.lastProgress = percent

	width := defaultBarWidth
	if c.fd >= 0 {
		if cols, _, err := term.GetSize(c.fd); err == nil && cols > 50 {
			width = cols - 40
		}
	}
	filled := width * percent / 100
	bar := barStyle.Render(strings.Repeat("#", filled)) + mutedStyle.Render(strings.Repeat("-", width-filled))
	fmt.Fprintf(c.out, "\r[%s] %3d%% %s/s of %s", bar, percent,
		relpath.FormatBytes(int64(bytesPerSecond)), relpath.FormatBytes(total))

	if percent >= 100 {
		fmt.Fprintln(c.out)
		c.lastProgress = -1
	}
}

// SelectRemoteTargets reads space separated paths relative to cwd; a leading
// slash starts from the root.
func (c *CLI) SelectRemoteTargets(cwd relpath.RelativePath) ([]relpath.RelativePath, error) {
	line, err := c.ask("Remote paths: ")
	if err != nil {
		return nil, err
	}
	fields := strings.Fields(line)
	targets := make([]relpath.RelativePath, 0, len(fields))
	for _, f := range fields {
		if strings.HasPrefix(f, "/") {
			targets = append(targets, relpath.Root().Join(strings.TrimLeft(f, "/")))
			continue
		}
		targets = append(targets, cwd.Join(f))
	}
	return targets, nil
}

// SelectLocalSources reads space separated local paths. Missing paths are
// reported and left out.
func (c *CLI) SelectLocalSources() ([]client.LocalSource, error) {
	line, err := c.ask("Local files or directories: ")
	if err != nil {
		return nil, err
	}
	var sources []client.LocalSource
	for _, f := range strings.Fields(line) {
		if _, err := os.Stat(f); err != nil {
			c.DisplayError(protocol.ResFileNotFound, err.Error())
			continue
		}
		sources = append(sources, client.LocalSource{Path: f})
	}
	return sources, nil
}

// SelectLocalDestination asks where to save a download, defaulting to
// DownloadDir. An empty result cancels.
func (c *CLI) SelectLocalDestination(approxTotal int64) (string, error) {
	size := relpath.FormatBytes(approxTotal)
	if c.DownloadDir == "" {
		return c.ask(fmt.Sprintf("Save about %s into directory (empty cancels): ", size))
	}
	dest, err := c.ask(fmt.Sprintf("Save about %s into directory [%s] (- cancels): ", size, c.DownloadDir))
	switch {
	case err != nil:
		return "", err
	case dest == "-":
		return "", nil
	case dest == "":
		return c.DownloadDir, nil
	}
	return dest, nil
}

// RenameTarget asks for a replacement name when name already exists.
func (c *CLI) RenameTarget(name string) (string, error) {
	return c.ask(fmt.Sprintf("New name for %s (empty skips): ", name))
}

// ClearScreen clears the terminal.
func (c *CLI) ClearScreen() {
	fmt.Fprint(c.out, clearSequence)
}
