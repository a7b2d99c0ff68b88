package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"notary-agent/internal/domain"
)

// Console is the interactive terminal front-end. It reads lines from r on a
// background goroutine so Ask and RequestApproval stay cancellable.
type Console struct {
	writer io.Writer

	startOnce sync.Once
	lines     chan string
	done      chan struct{}
	closeOnce sync.Once
	reader    *bufio.Reader
}

// New creates a console over the given I/O, typically os.Stdin and
// os.Stdout.
func New(r io.Reader, w io.Writer) *Console {
	return &Console{
		writer: w,
		lines:  make(chan string),
		done:   make(chan struct{}),
		reader: bufio.NewReader(r),
	}
}

func (c *Console) start() {
	c.startOnce.Do(func() {
		go func() {
			for {
				line, err := c.reader.ReadString('\n')
				if len(line) > 0 {
					select {
					case c.lines <- strings.TrimRight(line, "\r\n"):
					case <-c.done:
						return
					}
				}
				if err != nil {
					c.closeOnce.Do(func() { close(c.done) })
					return
				}
			}
		}()
	})
}

// readLine blocks for one line of input, honoring ctx.
func (c *Console) readLine(ctx context.Context) (string, error) {
	c.start()
	select {
	case line := <-c.lines:
		return line, nil
	case <-c.done:
		return "", fmt.Errorf("%w: input stream ended", domain.ErrFrontEndClosed)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Ask implements domain.FrontEnd.
func (c *Console) Ask(ctx context.Context, prompt string) (string, error) {
	fmt.Fprint(c.writer, prompt)
	return c.readLine(ctx)
}

// RequestApproval implements domain.FrontEnd. The human answers y or n;
// anything else re-prompts.
func (c *Console) RequestApproval(ctx context.Context, req domain.ApprovalRequest) (bool, error) {
	fmt.Fprintf(c.writer, "\nTool approval required\n")
	fmt.Fprintf(c.writer, "  provider: %s\n", req.ProviderName)
	fmt.Fprintf(c.writer, "  tool:     %s\n", req.ToolName)
	if len(req.Input) > 0 {
		fmt.Fprintf(c.writer, "  input:    %s\n", string(req.Input))
	}

	for {
		fmt.Fprint(c.writer, "Allow this call? [y/n]: ")
		line, err := c.readLine(ctx)
		if err != nil {
			return false, err
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
		fmt.Fprintln(c.writer, "Please answer y or n.")
	}
}

// ShowAnswer implements domain.FrontEnd.
func (c *Console) ShowAnswer(text string) {
	fmt.Fprintf(c.writer, "\nAssistant: %s\n\n", text)
}

// ShowSystemMessage implements domain.FrontEnd.
func (c *Console) ShowSystemMessage(text string) {
	fmt.Fprintf(c.writer, "[system] %s\n", text)
}

// Shutdown implements domain.FrontEnd.
func (c *Console) Shutdown() {
	c.closeOnce.Do(func() { close(c.done) })
}

var _ domain.FrontEnd = (*Console)(nil)
