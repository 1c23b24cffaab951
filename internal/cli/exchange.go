// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/jeranaias/agrochat/internal/app"
	"github.com/jeranaias/agrochat/internal/conversation"
	"github.com/jeranaias/agrochat/internal/pipeline"
	"github.com/jeranaias/agrochat/internal/ui/render"
)

// exchangeData is the --json shape of a finished exchange.
type exchangeData struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	State          string `json:"state"`
	Content        string `json:"content"`
}

// replyPrinter writes streamed reply text as it arrives. It is registered
// on the pipeline once and pointed at a writer per send.
type replyPrinter struct {
	mu      sync.Mutex
	w       io.Writer
	printed string
}

func (p *replyPrinter) handle(e pipeline.Event) {
	if e.Kind != pipeline.EventChunk {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.w == nil || !strings.HasPrefix(e.Content, p.printed) {
		return
	}
	fmt.Fprint(p.w, e.Content[len(p.printed):])
	p.printed = e.Content
}

func (p *replyPrinter) begin(w io.Writer) {
	p.mu.Lock()
	p.w, p.printed = w, ""
	p.mu.Unlock()
}

// end detaches the writer and returns what was printed.
func (p *replyPrinter) end() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	printed := p.printed
	p.w, p.printed = nil, ""
	return printed
}

func (a *App) replies(wired *app.App) *replyPrinter {
	if a.printer == nil {
		a.printer = &replyPrinter{}
		wired.Pipeline.OnEvent(a.printer.handle)
	}
	return a.printer
}

// resolveTarget picks the conversation a send goes to. An empty result
// starts a new conversation.
func resolveTarget(book *conversation.Book, id string, fresh bool) (string, error) {
	if fresh {
		return "", nil
	}
	if id == "" {
		return book.CurrentID(), nil
	}
	if _, ok := book.Get(id); !ok {
		return "", fmt.Errorf("%w: %s", conversation.ErrConversationNotFound, id)
	}
	return id, nil
}

// send runs one exchange. Plain output streams words as they arrive; a
// terminal with markdown enabled gets the rendered reply once it is done.
func (a *App) send(cmd *cobra.Command, wired *app.App, convID, text string) (pipeline.Result, error) {
	w := cmd.OutOrStdout()
	markdown := !a.Options.JSON && wired.Config.UI.RenderMarkdown && isTerminalWriter(w)
	live := !a.Options.JSON && !markdown

	printer := a.replies(wired)
	if live {
		printer.begin(w)
	}
	res, err := wired.Pipeline.Send(cmd.Context(), convID, text)
	printed := printer.end()

	if err != nil {
		if printed != "" {
			fmt.Fprintln(w)
		}
		return res, &CommandError{Command: "send", Err: err}
	}

	switch {
	case markdown:
		md := render.NewMarkdown(wired.Config.UI.Theme, true)
		fmt.Fprintln(w, md.Render(res.Content, GetTerminalWidth()-2))
	case live:
		if strings.HasPrefix(res.Content, printed) {
			fmt.Fprint(w, res.Content[len(printed):])
		}
		fmt.Fprintln(w)
	}
	return res, nil
}

func toExchangeData(res pipeline.Result) exchangeData {
	return exchangeData{
		ConversationID: res.Handle.ConversationID,
		MessageID:      res.Handle.MessageID,
		State:          res.State.String(),
		Content:        res.Content,
	}
}
