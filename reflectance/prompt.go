package reflectance

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
)

// Prompter blocks until the operator acknowledged msg.
type Prompter interface {
	Prompt(ctx context.Context, msg string) error
}

// ConsolePrompter prints prompts to Out and waits for a line on In. A line
// entered after a cancelled prompt acknowledges the next one.
type ConsolePrompter struct {
	In  io.Reader
	Out io.Writer

	once  sync.Once
	lines chan struct{}
	err   error
}

func (c *ConsolePrompter) Prompt(ctx context.Context, msg string) error {
	c.once.Do(func() {
		c.lines = make(chan struct{})
		go c.read()
	})
	fmt.Fprintf(c.Out, "%s: ", msg)

	select {
	case _, ok := <-c.lines:
		if !ok {
			return c.err
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// read is the only reader of In. It hands one line at a time to a waiting
// prompt and closes lines on the first read error.
func (c *ConsolePrompter) read() {
	r := bufio.NewReader(c.In)
	for {
		if _, err := r.ReadString('\n'); err != nil {
			c.err = err
			close(c.lines)
			return
		}
		c.lines <- struct{}{}
	}
}
