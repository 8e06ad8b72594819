package display

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"voxstream/internal/domain"
)

const clearLine = "\r\x1b[2K"

// Terminal renders transcript lines on out and session notices on status.
//
// On an interactive out, partials are redrawn in place on the current line.
// Otherwise only committed lines are written, one per line.
type Terminal struct {
	mu          sync.Mutex
	out         io.Writer
	status      io.Writer
	interactive bool

	partial string

	dim   lipgloss.Style
	label lipgloss.Style
	fail  lipgloss.Style
}

func NewTerminal(out io.Writer, status io.Writer) *Terminal {
	r := lipgloss.NewRenderer(status)
	return &Terminal{
		out:         out,
		status:      status,
		interactive: isTerminal(out),
		dim:         r.NewStyle().Foreground(lipgloss.Color("241")),
		label:       r.NewStyle().Foreground(lipgloss.Color("245")).Bold(true),
		fail:        r.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// BannerInfo is printed once before connecting.
type BannerInfo struct {
	Environment string
	Endpoint    string
	Source      string
	Language    string
	SampleRate  int
	ChunkBytes  int
}

func (t *Terminal) Banner(info BannerInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rows := [][2]string{
		{"Environment", info.Environment},
		{"Endpoint", info.Endpoint},
		{"Source", info.Source},
		{"Language", info.Language},
		{"Sample rate", fmt.Sprintf("%d Hz", info.SampleRate)},
		{"Chunk size", fmt.Sprintf("%d bytes", info.ChunkBytes)},
	}
	for _, row := range rows {
		fmt.Fprintf(t.status, "%s %s\n", t.label.Render(fmt.Sprintf("%-12s", row[0]+":")), row[1])
	}
}

func (t *Terminal) Render(instruction domain.RenderInstruction) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch instruction.Op {
	case domain.RenderOverwrite:
		t.partial = instruction.Text
		if t.interactive {
			fmt.Fprint(t.out, clearLine+instruction.Text)
		}
	case domain.RenderCommit:
		if t.interactive && t.partial != "" {
			fmt.Fprint(t.out, clearLine)
		}
		t.partial = ""
		fmt.Fprintln(t.out, instruction.Text)
	}
}

func (t *Terminal) SessionStateChanged(state domain.SessionState) {
	var msg string
	switch state {
	case domain.SessionStateConnecting:
		msg = "Connecting..."
	case domain.SessionStateStreaming:
		msg = "Streaming audio"
	case domain.SessionStateDraining:
		msg = "Audio sent, waiting for final results"
	case domain.SessionStateClosing:
		msg = "Closing connection"
	default:
		return
	}
	t.notice(t.dim.Render(msg))
}

func (t *Terminal) FirstWord(latency time.Duration) {
	t.notice(t.dim.Render(fmt.Sprintf("First word: %d ms", latency.Milliseconds())))
}

func (t *Terminal) Finished(elapsed time.Duration) {
	t.notice(t.dim.Render(fmt.Sprintf("Finished: %d ms", elapsed.Milliseconds())))
}

func (t *Terminal) SessionError(code domain.ErrorCode, detail string) {
	t.notice(t.fail.Render(fmt.Sprintf("error (%s): %s", code, detail)))
}

// notice prints a status line without leaving a half-drawn partial behind.
func (t *Terminal) notice(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	redraw := t.interactive && t.partial != ""
	if redraw {
		fmt.Fprint(t.out, clearLine)
	}
	fmt.Fprintln(t.status, line)
	if redraw {
		fmt.Fprint(t.out, t.partial)
	}
}
