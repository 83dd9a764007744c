package signin

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// PromptAgent asks the user to open the sign-in page themselves and paste back the URL the
// browser was redirected to.
type PromptAgent struct {
	Out io.Writer
	In  io.Reader
}

// Open implements ExternalAgent. Lines that are not the expected callback are skipped.
func (p *PromptAgent) Open(ctx context.Context, authorizeURL string, done RedirectHandler) error {
	if _, err := fmt.Fprintf(p.Out, "Open this address in a browser and sign in:\n\n  %s\n\nThen paste the address you were redirected to:\n", authorizeURL); err != nil {
		return err
	}

	go func() {
		scanner := bufio.NewScanner(p.In)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			if ctx.Err() != nil {
				return
			}
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if done(line) {
				return
			}
			fmt.Fprintln(p.Out, "That is not the expected redirect address, try again:")
		}
	}()
	return nil
}
