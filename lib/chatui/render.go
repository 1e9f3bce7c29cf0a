// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package chatui

import (
	"bytes"
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

// wrapBreakpoints are the characters ansi.Wrap may break after besides
// spaces.
const wrapBreakpoints = " ,.;-+|"

var (
	markdownParser     goldmark.Markdown
	markdownParserOnce sync.Once
)

func getMarkdownParser() goldmark.Markdown {
	markdownParserOnce.Do(func() {
		markdownParser = goldmark.New(goldmark.WithExtensions(extension.GFM))
	})
	return markdownParser
}

// newLipglossRenderer forces ANSI256 so output is colored even without
// a TTY (tests, piped output).
func newLipglossRenderer() *lipgloss.Renderer {
	renderer := lipgloss.NewRenderer(os.Stderr, termenv.WithProfile(termenv.ANSI256))
	renderer.SetColorProfile(termenv.ANSI256)
	return renderer
}

// renderPayload styles a message payload for the event log. JSON
// documents are pretty-printed and syntax highlighted; anything else is
// treated as markdown.
func renderPayload(payload string, theme Theme, width int) string {
	trimmed := strings.TrimSpace(payload)
	if trimmed == "" {
		return ""
	}
	if isJSONDocument(trimmed) {
		return renderJSON(trimmed)
	}
	return renderMarkdown(trimmed, theme, width)
}

// isJSONDocument reports whether text is a JSON object or array. Bare
// scalars ("42", "true") read better as text.
func isJSONDocument(text string) bool {
	if !strings.HasPrefix(text, "{") && !strings.HasPrefix(text, "[") {
		return false
	}
	return json.Valid([]byte(text))
}

func renderJSON(document string) string {
	var indented bytes.Buffer
	if err := json.Indent(&indented, []byte(document), "", "  "); err != nil {
		return document
	}
	var highlighted bytes.Buffer
	if err := quick.Highlight(&highlighted, indented.String(), "json", "terminal256", "monokai"); err != nil {
		return indented.String()
	}
	return strings.TrimRight(highlighted.String(), "\n")
}

// renderMarkdown renders markdown as styled terminal text wrapped to
// width. Soft line breaks become spaces.
func renderMarkdown(input string, theme Theme, width int) string {
	source := []byte(input)
	document := getMarkdownParser().Parser().Parse(text.NewReader(source))

	renderer := &markdownRenderer{
		source: source,
		theme:  theme,
		width:  max(width, 20),
		lip:    newLipglossRenderer(),
	}
	ast.Walk(document, renderer.walk)
	return strings.TrimRight(renderer.output.String(), "\n")
}

type listState struct {
	ordered bool
	next    int
}

// markdownRenderer accumulates inline content per block and wraps it
// when the block closes.
type markdownRenderer struct {
	source []byte
	theme  Theme
	width  int
	lip    *lipgloss.Renderer

	output strings.Builder
	inline strings.Builder

	bold, italic, strike, link int

	lists       []listState
	quoteDepth  int
	bullet      string
	headingSize int
}

func (r *markdownRenderer) walk(node ast.Node, entering bool) (ast.WalkStatus, error) {
	switch node := node.(type) {
	case *ast.Heading:
		if entering {
			r.headingSize = node.Level
		} else {
			r.flush()
			r.headingSize = 0
		}

	case *ast.Paragraph, *ast.TextBlock:
		if !entering {
			r.flush()
		}

	case *ast.Text:
		if !entering {
			break
		}
		r.writeStyled(string(node.Segment.Value(r.source)))
		switch {
		case node.HardLineBreak():
			r.inline.WriteString("\n")
		case node.SoftLineBreak():
			r.writeStyled(" ")
		}

	case *ast.String:
		if entering {
			r.writeStyled(string(node.Value))
		}

	case *ast.CodeSpan:
		if entering {
			var code strings.Builder
			for child := node.FirstChild(); child != nil; child = child.NextSibling() {
				if segment, ok := child.(*ast.Text); ok {
					code.Write(segment.Segment.Value(r.source))
				}
			}
			r.inline.WriteString(r.lip.NewStyle().Foreground(r.theme.CodeColor).Render(code.String()))
			return ast.WalkSkipChildren, nil
		}

	case *ast.Emphasis:
		delta := 1
		if !entering {
			delta = -1
		}
		if node.Level >= 2 {
			r.bold += delta
		} else {
			r.italic += delta
		}

	case *extast.Strikethrough:
		if entering {
			r.strike++
		} else {
			r.strike--
		}

	case *ast.Link:
		if entering {
			r.link++
		} else {
			r.link--
			destination := string(node.Destination)
			r.inline.WriteString(r.lip.NewStyle().Foreground(r.theme.FaintText).Render(" (" + destination + ")"))
		}

	case *ast.AutoLink:
		if entering {
			r.inline.WriteString(r.lip.NewStyle().Foreground(r.theme.LinkColor).Underline(true).Render(string(node.URL(r.source))))
		}

	case *ast.FencedCodeBlock:
		if entering {
			r.writeCodeBlock(r.lines(node), string(node.Language(r.source)))
			return ast.WalkSkipChildren, nil
		}

	case *ast.CodeBlock:
		if entering {
			r.writeCodeBlock(r.lines(node), "")
			return ast.WalkSkipChildren, nil
		}

	case *ast.HTMLBlock:
		if entering {
			for line := range strings.SplitSeq(strings.TrimRight(r.lines(node), "\n"), "\n") {
				r.emit(r.lip.NewStyle().Foreground(r.theme.FaintText).Render(line))
			}
			return ast.WalkSkipChildren, nil
		}

	case *ast.List:
		if entering {
			r.lists = append(r.lists, listState{ordered: node.IsOrdered(), next: node.Start})
		} else {
			r.lists = r.lists[:len(r.lists)-1]
		}

	case *ast.ListItem:
		if entering && len(r.lists) > 0 {
			state := &r.lists[len(r.lists)-1]
			if state.ordered {
				r.bullet = strconv.Itoa(state.next) + ". "
				state.next++
			} else {
				r.bullet = "• "
			}
		}

	case *ast.Blockquote:
		if entering {
			r.quoteDepth++
		} else {
			r.quoteDepth--
		}

	case *ast.ThematicBreak:
		if entering {
			r.emit(r.lip.NewStyle().Foreground(r.theme.BorderColor).Render(strings.Repeat("─", min(r.width, 40))))
		}
	}
	return ast.WalkContinue, nil
}

func (r *markdownRenderer) writeStyled(content string) {
	style := r.lip.NewStyle().Foreground(r.theme.NormalText)
	if r.headingSize > 0 {
		style = style.Foreground(r.theme.HeadingColor).Bold(true)
	}
	if r.link > 0 {
		style = style.Foreground(r.theme.LinkColor).Underline(true)
	}
	style = style.Bold(r.bold > 0 || r.headingSize > 0).Italic(r.italic > 0).Strikethrough(r.strike > 0)
	r.inline.WriteString(style.Render(content))
}

func (r *markdownRenderer) lines(node ast.Node) string {
	var content strings.Builder
	segments := node.Lines()
	for index := range segments.Len() {
		segment := segments.At(index)
		content.Write(segment.Value(r.source))
	}
	return content.String()
}

func (r *markdownRenderer) writeCodeBlock(code, language string) {
	if language == "" {
		language = "plaintext"
	}
	var highlighted bytes.Buffer
	rendered := code
	if err := quick.Highlight(&highlighted, code, language, "terminal256", "monokai"); err == nil {
		rendered = highlighted.String()
	}
	for line := range strings.SplitSeq(strings.TrimRight(rendered, "\n"), "\n") {
		r.emit("  " + line)
	}
}

// indent is the prefix for block content: quote bars and list nesting.
func (r *markdownRenderer) indent() string {
	prefix := strings.Repeat(r.lip.NewStyle().Foreground(r.theme.BorderColor).Render("│ "), r.quoteDepth)
	if len(r.lists) > 1 {
		prefix += strings.Repeat("  ", len(r.lists)-1)
	}
	return prefix
}

// flush wraps the accumulated inline content and emits it.
func (r *markdownRenderer) flush() {
	content := r.inline.String()
	r.inline.Reset()
	if content == "" {
		return
	}
	hang := ""
	if len(r.lists) > 0 {
		hang = "  "
	}
	available := max(r.width-ansi.StringWidth(r.indent())-len(hang), 10)
	wrapped := ansi.Wrap(content, available, wrapBreakpoints)
	for index, line := range strings.Split(wrapped, "\n") {
		switch {
		case index == 0 && r.bullet != "":
			line = r.bullet + line
			r.bullet = ""
		case hang != "":
			line = hang + line
		}
		r.emit(line)
	}
}

func (r *markdownRenderer) emit(line string) {
	r.output.WriteString(r.indent())
	r.output.WriteString(line)
	r.output.WriteString("\n")
}
