// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

package chatui

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/junegunn/fzf/src/util"

	"github.com/simplep2p/docstore/lib/address"
	"github.com/simplep2p/docstore/node"
	"github.com/simplep2p/docstore/session"
)

// eventInfo tags local notices in the log. It never comes from a node.
const eventInfo node.EventType = "info"

const defaultConnectTimeout = 45 * time.Second

// maxEntries bounds the event log. Older entries scroll away.
const maxEntries = 1000

type phase int

const (
	phaseDisconnected phase = iota
	phaseConnecting
	phaseConnected
)

// Options configure a Model.
type Options struct {
	// Holder owns the session slot. Required.
	Holder *session.Holder

	// Address, when set, is dialed as soon as the program starts.
	Address string

	// PollInterval is how often the session's events are drained.
	// Defaults to session.DefaultPollInterval.
	PollInterval time.Duration

	// ConnectTimeout bounds one connection attempt.
	ConnectTimeout time.Duration

	Theme *Theme
	Keys  *KeyMap
}

type pollMsg struct{}

type connectResultMsg struct {
	address string
	peer    string
	err     error
}

// Model is the bubbletea model of the terminal chat client.
type Model struct {
	holder         *session.Holder
	theme          Theme
	keys           KeyMap
	lip            *lipgloss.Renderer
	pollInterval   time.Duration
	connectTimeout time.Duration
	initialAddress string

	input   textinput.Model
	log     viewport.Model
	entries []node.Event
	width   int
	height  int

	phase          phase
	lastAddress    string
	localPeer      string
	connectedPeers int

	statusText  string
	statusLevel slog.Level
	statusSeq   int

	slab *util.Slab
}

// NewModel returns a model prompting for a server address, or
// connecting to options.Address right away.
func NewModel(options Options) Model {
	theme := DefaultTheme
	if options.Theme != nil {
		theme = *options.Theme
	}
	keys := DefaultKeyMap
	if options.Keys != nil {
		keys = *options.Keys
	}
	pollInterval := options.PollInterval
	if pollInterval <= 0 {
		pollInterval = session.DefaultPollInterval
	}
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}

	input := textinput.New()
	input.Prompt = "> "
	input.CharLimit = 4096
	input.Focus()

	model := Model{
		holder:         options.Holder,
		theme:          theme,
		keys:           keys,
		lip:            newLipglossRenderer(),
		pollInterval:   pollInterval,
		connectTimeout: connectTimeout,
		initialAddress: strings.TrimSpace(options.Address),
		input:          input,
		log:            viewport.New(80, 20),
		width:          80,
		height:         24,
		slab:           util.MakeSlab(slab16Size, slab32Size),
	}
	model.updatePlaceholder()
	return model
}

func (model Model) Init() tea.Cmd {
	commands := []tea.Cmd{textinput.Blink, model.pollTick()}
	if model.initialAddress != "" {
		commands = append(commands, func() tea.Msg { return submitAddressMsg{model.initialAddress} })
	}
	return tea.Batch(commands...)
}

type submitAddressMsg struct{ address string }

func (model Model) pollTick() tea.Cmd {
	return tea.Tick(model.pollInterval, func(time.Time) tea.Msg { return pollMsg{} })
}

func (model Model) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch message := message.(type) {
	case tea.WindowSizeMsg:
		model.width = message.Width
		model.height = message.Height
		model.layout()
		return model, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(message, model.keys.Quit):
			model.holder.Disconnect()
			return model, tea.Quit
		case key.Matches(message, model.keys.PageUp):
			model.log.LineUp(model.log.Height)
			return model, nil
		case key.Matches(message, model.keys.PageDown):
			model.log.LineDown(model.log.Height)
			return model, nil
		case key.Matches(message, model.keys.Complete):
			return model.complete(), nil
		case key.Matches(message, model.keys.Submit):
			text := model.input.Value()
			model.input.Reset()
			return model.submit(text)
		}

	case pollMsg:
		model.drain()
		return model, model.pollTick()

	case submitAddressMsg:
		return model.startConnect(message.address)

	case connectResultMsg:
		if message.err != nil {
			model.phase = phaseDisconnected
			model.notice(node.EventError, fmt.Sprintf("connecting to %s: %v", message.address, message.err))
		} else {
			model.phase = phaseConnected
			model.localPeer = message.peer
			model.notice(eventInfo, "local peer "+message.peer+", type to publish, /help for commands")
		}
		model.updatePlaceholder()
		return model, nil

	case logRecordMsg:
		model.statusSeq++
		model.statusText = message.Summary
		model.statusLevel = message.Level
		seq := model.statusSeq
		return model, tea.Tick(logRecordFadeDelay, func(time.Time) tea.Msg { return logRecordFadeMsg{Seq: seq} })

	case logRecordFadeMsg:
		if message.Seq == model.statusSeq {
			model.statusText = ""
		}
		return model, nil
	}

	var command tea.Cmd
	model.input, command = model.input.Update(message)
	return model, command
}

// submit handles one line of input: a slash command, an address while
// disconnected, or an update to publish.
func (model Model) submit(text string) (tea.Model, tea.Cmd) {
	text = strings.TrimSpace(text)
	if text == "" {
		return model, nil
	}
	if strings.HasPrefix(text, "/") {
		return model.runCommand(text)
	}

	switch model.phase {
	case phaseDisconnected:
		return model.startConnect(text)
	case phaseConnecting:
		model.notice(node.EventError, "still connecting")
		return model, nil
	}

	current := model.holder.Current()
	if current == nil {
		model.phase = phaseDisconnected
		model.updatePlaceholder()
		model.notice(node.EventError, "session closed; /reconnect to dial again")
		return model, nil
	}
	if err := current.PublishUpdate(text); err != nil {
		model.notice(node.EventError, "publish: "+err.Error())
	}
	return model, nil
}

func (model Model) runCommand(text string) (tea.Model, tea.Cmd) {
	fields := strings.Fields(text)
	argument := strings.TrimSpace(strings.TrimPrefix(text, fields[0]))

	switch fields[0] {
	case "/quit", "/exit":
		model.holder.Disconnect()
		return model, tea.Quit

	case "/connect":
		if argument == "" {
			model.notice(node.EventError, "usage: /connect <address>")
			return model, nil
		}
		return model.startConnect(argument)

	case "/reconnect":
		if model.lastAddress == "" {
			model.notice(node.EventError, "no address to reconnect to")
			return model, nil
		}
		return model.startConnect(model.lastAddress)

	case "/disconnect":
		if err := model.holder.Disconnect(); errors.Is(err, session.ErrNoSession) {
			model.notice(node.EventError, "not connected")
		}
		model.phase = phaseDisconnected
		model.connectedPeers = 0
		model.updatePlaceholder()
		return model, nil

	case "/find":
		current := model.holder.Current()
		switch {
		case argument == "":
			model.notice(node.EventError, "usage: /find <peer id>")
		case current == nil:
			model.notice(node.EventError, "not connected")
		default:
			target := model.resolvePeer(argument)
			if err := current.FindPeer(target); err != nil {
				model.notice(node.EventError, "find: "+err.Error())
			} else {
				model.notice(eventInfo, "looking up "+target)
			}
		}
		return model, nil

	case "/status":
		current := model.holder.Current()
		if current == nil {
			model.notice(node.EventError, "not connected")
			return model, nil
		}
		encoded, err := json.Marshal(current.State())
		if err != nil {
			model.notice(node.EventError, err.Error())
			return model, nil
		}
		model.notice(eventInfo, string(encoded))
		return model, nil

	case "/help":
		model.notice(eventInfo, "/connect <address>  /reconnect  /disconnect  /find <peer id>  /status  /quit  (tab completes peers and addresses)")
		return model, nil
	}

	model.notice(node.EventError, "unknown command "+fields[0]+", /help lists commands")
	return model, nil
}

func (model Model) startConnect(target string) (tea.Model, tea.Cmd) {
	if _, err := address.Parse(target); err != nil {
		model.notice(node.EventError, err.Error())
		return model, nil
	}
	model.phase = phaseConnecting
	model.lastAddress = target
	model.connectedPeers = 0
	model.notice(eventInfo, "connecting to "+target)
	model.updatePlaceholder()

	holder, timeout := model.holder, model.connectTimeout
	return model, func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		opened, err := holder.Connect(ctx, target)
		if err != nil {
			return connectResultMsg{address: target, err: err}
		}
		return connectResultMsg{address: target, peer: opened.PeerID().String()}
	}
}

// drain moves queued session events into the log.
func (model *Model) drain() {
	model.holder.Drain(model.appendEvent)
	current := model.holder.Current()
	if current == nil {
		if model.phase == phaseConnected {
			model.phase = phaseDisconnected
			model.connectedPeers = 0
			model.updatePlaceholder()
			model.notice(eventInfo, "session closed; /reconnect to dial again")
		}
		return
	}
	model.connectedPeers = len(current.State().ConnectedPeers)
}

func (model *Model) notice(eventType node.EventType, text string) {
	model.appendEvent(node.Event{Type: eventType, Time: time.Now(), Message: text})
}

func (model *Model) appendEvent(event node.Event) {
	if len(model.entries) >= maxEntries {
		model.entries = model.entries[len(model.entries)-maxEntries+1:]
	}
	model.entries = append(model.entries, event)
	model.refreshLog()
}

func (model *Model) updatePlaceholder() {
	switch model.phase {
	case phaseDisconnected:
		model.input.Placeholder = "server address, e.g. /ip4/127.0.0.1/udp/9090/webrtc-direct/certhash/…/p2p/12D3KooW…"
	case phaseConnecting:
		model.input.Placeholder = "connecting…"
	case phaseConnected:
		model.input.Placeholder = "update text (markdown or JSON)"
	}
}

// layout sizes the viewport to the window: one header line, a status
// line and the input.
func (model *Model) layout() {
	model.log.Width = model.width
	model.log.Height = max(model.height-3, 1)
	model.input.Width = max(model.width-len(model.input.Prompt)-1, 10)
	model.refreshLog()
}

func (model *Model) refreshLog() {
	atBottom := model.log.AtBottom()
	lines := make([]string, 0, len(model.entries))
	for _, event := range model.entries {
		lines = append(lines, model.renderEvent(event))
	}
	model.log.SetContent(strings.Join(lines, "\n"))
	if atBottom {
		model.log.GotoBottom()
	}
}

// renderEvent formats one log entry: time, colored tag and detail.
// Payloads that render to several lines start on the next line.
func (model Model) renderEvent(event node.Event) string {
	faint := model.lip.NewStyle().Foreground(model.theme.FaintText)
	tag := model.lip.NewStyle().Foreground(model.theme.EventColor(event.Type)).Bold(true)
	stamp := ""
	if !event.Time.IsZero() {
		stamp = faint.Render(event.Time.Local().Format("15:04:05")) + " "
	}
	head := stamp + tag.Render(string(event.Type))

	var detail string
	switch event.Type {
	case node.EventMessageReceived:
		head += " " + faint.Render(shortPeer(event.Author)+" via "+shortPeer(event.PeerID))
		detail = renderPayload(event.Data, model.theme, model.width-4)
	case node.EventMessagePublished:
		detail = renderPayload(event.Data, model.theme, model.width-4)
	case node.EventPeerDiscovery:
		detail = event.PeerID
		if len(event.Addrs) > 0 {
			detail += " " + faint.Render(strings.Join(event.Addrs, " "))
		}
	case node.EventIdentify:
		detail = shortPeer(event.PeerID) + " " + faint.Render(event.AgentVersion)
	case node.EventSubscribed, node.EventUnsubscribed:
		detail = shortPeer(event.PeerID) + " " + faint.Render(event.Topic)
	case node.EventConnected, node.EventDisconnected:
		detail = event.PeerID
	case node.EventListening:
		detail = strings.Join(event.Addrs, " ")
	case node.EventError:
		detail = model.lip.NewStyle().Foreground(model.theme.ErrorColor).Render(event.Message)
		if event.PeerID != "" {
			detail += " " + faint.Render(shortPeer(event.PeerID))
		}
	default:
		detail = event.Message
		if isJSONDocument(detail) {
			detail = renderJSON(detail)
		}
	}

	if detail == "" {
		return head
	}
	if strings.Contains(detail, "\n") {
		indented := strings.ReplaceAll(detail, "\n", "\n    ")
		return head + "\n    " + indented
	}
	return head + " " + detail
}

// shortPeer abbreviates a peer ID to its head and tail.
func shortPeer(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:8] + "…" + id[len(id)-6:]
}

func (model Model) View() string {
	header := model.lip.NewStyle().
		Foreground(model.theme.HeaderForeground).
		Background(model.theme.HeaderBackground).
		Bold(true).
		Width(model.width).
		Render(model.headerText())
	return lipgloss.JoinVertical(lipgloss.Left, header, model.log.View(), model.statusLine(), model.input.View())
}

func (model Model) headerText() string {
	state := "disconnected"
	switch model.phase {
	case phaseConnecting:
		state = "connecting to " + model.lastAddress
	case phaseConnected:
		state = fmt.Sprintf("connected · %d peer(s)", model.connectedPeers)
	}
	text := " docstore · " + state
	if model.localPeer != "" {
		text += " · " + shortPeer(model.localPeer)
	}
	return text
}

func (model Model) statusLine() string {
	if model.statusText != "" {
		color := model.theme.HelpText
		switch {
		case model.statusLevel >= slog.LevelError:
			color = model.theme.ErrorColor
		case model.statusLevel >= slog.LevelWarn:
			color = model.theme.WarnText
		}
		return model.lip.NewStyle().Foreground(color).MaxWidth(model.width).Render(model.statusText)
	}
	help := model.keys.Submit.Help().Key + " " + model.keys.Submit.Help().Desc + " · " +
		model.keys.PageUp.Help().Key + "/" + model.keys.PageDown.Help().Key + " scroll · " +
		"/help · " + model.keys.Quit.Help().Key + " " + model.keys.Quit.Help().Desc
	return model.lip.NewStyle().Foreground(model.theme.HelpText).MaxWidth(model.width).Render(help)
}
