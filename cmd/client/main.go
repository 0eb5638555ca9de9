// mqchat TUI client.
//
// Screens
// -------
//   stateLogin: centered username form
//   stateChat:  full-screen chat with scrollable message viewport
//
// Concurrency
// -----------
//   Bus subscriptions (broadcast events, the private user topic, and the
//   server heartbeat) forward decoded payloads to the events channel.  The
//   Bubbletea loop consumes one event at a time via waitForEvent, immediately
//   queuing the next read.  Client heartbeats and the server-liveness check
//   run on tea.Tick timers inside the event loop.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"mqchat/internal/bus"
	"mqchat/internal/protocol"
)

// ---------------------------------------------------------------------------
// Styles
// ---------------------------------------------------------------------------

var (
	purple = lipgloss.Color("99")
	cyan   = lipgloss.Color("86")
	red    = lipgloss.Color("196")
	yellow = lipgloss.Color("220")
	gray   = lipgloss.Color("241")
	white  = lipgloss.Color("255")

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Background(purple).
			Foreground(white).
			Padding(0, 1)

	offlineHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Background(red).
				Foreground(white).
				Padding(0, 1)

	footerBorderStyle = lipgloss.NewStyle().
				Border(lipgloss.NormalBorder(), true, false, false, false).
				BorderForeground(gray).
				Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(purple).
			Padding(0, 2)

	labelStyle        = lipgloss.NewStyle().Foreground(gray).Width(10)
	focusedLabelStyle = lipgloss.NewStyle().Foreground(cyan).Width(10)
	hintStyle         = lipgloss.NewStyle().Foreground(gray).Italic(true)
	errorStyle        = lipgloss.NewStyle().Foreground(red)
	sysStyle          = lipgloss.NewStyle().Foreground(yellow).Italic(true)
	tsStyle           = lipgloss.NewStyle().Foreground(gray)
	privStyle         = lipgloss.NewStyle().Foreground(cyan).Italic(true)
)

// senderStyle maps a server-assigned palette color to a terminal style.
func senderStyle(color string) lipgloss.Style {
	codes := map[string]string{
		"red": "9", "green": "10", "yellow": "11", "blue": "12",
		"magenta": "13", "cyan": "14", "orange": "214", "purple": "99",
	}
	code, ok := codes[color]
	if !ok {
		code = "255"
	}
	return lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(code))
}

// ---------------------------------------------------------------------------
// Bubbletea message types
// ---------------------------------------------------------------------------

type busEventMsg protocol.Envelope     // an envelope arrived on events or the user topic
type serverAliveMsg time.Time          // a server heartbeat arrived
type heartbeatTickMsg time.Time        // time to send our own heartbeat
type livenessTickMsg time.Time         // time to check the server's liveness
type loginResultMsg protocol.LoginResponse
type rpcFailedMsg struct{ err error }
type userListMsg protocol.UserListResponse
type statsMsg protocol.StatisticsResponse

// ---------------------------------------------------------------------------
// Application state
// ---------------------------------------------------------------------------

type appState int

const (
	stateLogin appState = iota
	stateChat
)

type model struct {
	bus    bus.Bus
	events chan tea.Msg // subscription goroutines → bubbletea bridge

	heartbeatEvery time.Duration // client → server liveness interval
	serverTimeout  time.Duration // how long without a server heartbeat before "unreachable"

	state appState
	me    string // logged-in username

	loginField textinput.Model
	statusMsg  string

	ready     bool
	viewport  viewport.Model
	chatInput textinput.Model
	chatLines []string

	lastServerSeen time.Time
	serverDown     bool

	width, height int
}

func newModel(b bus.Bus, events chan tea.Msg, heartbeatEvery, serverTimeout time.Duration) model {
	uf := textinput.New()
	uf.Placeholder = "username (letters and digits)"
	uf.Focus()
	uf.CharLimit = 32
	uf.Width = 32

	ci := textinput.New()
	ci.Placeholder = "Type a message…  (/users /stats /msg <user> <text> /quit)"
	ci.CharLimit = 500

	return model{
		bus:            b,
		events:         events,
		heartbeatEvery: heartbeatEvery,
		serverTimeout:  serverTimeout,
		state:          stateLogin,
		loginField:     uf,
		chatInput:      ci,
		lastServerSeen: time.Now(),
	}
}

// ---------------------------------------------------------------------------
// Tea interface
// ---------------------------------------------------------------------------

func (m model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		waitForEvent(m.events),
		tea.Tick(m.heartbeatEvery, func(t time.Time) tea.Msg { return heartbeatTickMsg(t) }),
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return livenessTickMsg(t) }),
	)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if !m.ready {
			m.viewport = viewport.New(msg.Width, m.vpHeight())
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = m.vpHeight()
		}
		m.chatInput.Width = msg.Width - 4
		return m, nil

	case busEventMsg:
		m = m.handleEnvelope(protocol.Envelope(msg))
		return m, waitForEvent(m.events)

	case serverAliveMsg:
		m.lastServerSeen = time.Time(msg)
		if m.serverDown {
			m.serverDown = false
			m.appendChat(sysStyle.Render("⚡ server is reachable again"))
		}
		return m, waitForEvent(m.events)

	case heartbeatTickMsg:
		if m.state == stateChat && !m.serverDown {
			data, _ := json.Marshal(protocol.Heartbeat{Username: m.me})
			m.bus.Publish(protocol.TopicHeartbeat, data)
		}
		return m, tea.Tick(m.heartbeatEvery, func(t time.Time) tea.Msg { return heartbeatTickMsg(t) })

	case livenessTickMsg:
		if !m.serverDown && time.Since(m.lastServerSeen) > m.serverTimeout {
			m.serverDown = true
			if m.state == stateChat {
				m.appendChat(errorStyle.Render("⚠ server unreachable, requests suspended"))
			}
		}
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return livenessTickMsg(t) })

	case loginResultMsg:
		if msg.Success {
			m.state = stateChat
			m.chatInput.Focus()
			m.appendChat(sysStyle.Render("⚡ welcome, " + m.me))
		} else {
			m.me = ""
			m.statusMsg = msg.Reason
		}
		return m, nil

	case userListMsg:
		if msg.Success {
			m.appendChat(sysStyle.Render(fmt.Sprintf("⚡ online (%d): %s",
				len(msg.Users), strings.Join(msg.Users, ", "))))
		}
		return m, nil

	case statsMsg:
		if msg.Success {
			parts := make([]string, 0, len(msg.Top))
			for _, e := range msg.Top {
				parts = append(parts, fmt.Sprintf("%s:%d", e.Username, e.Count))
			}
			m.appendChat(sysStyle.Render(fmt.Sprintf("⚡ messages total=%d avg=%.1f top=[%s]",
				msg.Total, msg.Average, strings.Join(parts, " "))))
		}
		return m, nil

	case rpcFailedMsg:
		text := "request failed: " + msg.err.Error()
		if m.state == stateLogin {
			m.statusMsg = text
		} else {
			m.appendChat(errorStyle.Render("⚠ " + text))
		}
		return m, nil

	case tea.KeyMsg:
		switch m.state {
		case stateLogin:
			return m.handleLoginKey(msg)
		case stateChat:
			return m.handleChatKey(msg)
		}
	}
	return m, nil
}

func (m model) vpHeight() int {
	// header (1) + footer border (1) + footer input (1) = 3 lines reserved
	h := m.height - 3
	if h < 1 {
		h = 1
	}
	return h
}

// ---------------------------------------------------------------------------
// Key handlers
// ---------------------------------------------------------------------------

func (m model) handleLoginKey(msg tea.KeyMsg) (model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		return m, tea.Quit

	case tea.KeyEnter:
		user := strings.TrimSpace(m.loginField.Value())
		if user == "" {
			m.statusMsg = "username is required"
			return m, nil
		}
		if m.serverDown {
			m.statusMsg = "server unreachable, try again later"
			return m, nil
		}
		m.me = user
		m.statusMsg = "Logging in…"
		return m, m.loginCmd(user)
	}

	var cmd tea.Cmd
	m.loginField, cmd = m.loginField.Update(msg)
	return m, cmd
}

func (m model) handleChatKey(msg tea.KeyMsg) (model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyCtrlQ:
		m.sendLogout()
		return m, tea.Quit

	case tea.KeyEnter:
		text := strings.TrimSpace(m.chatInput.Value())
		if text == "" {
			return m, nil
		}
		m.chatInput.Reset()
		return m.dispatchInput(text)

	case tea.KeyPgUp:
		m.viewport.HalfViewUp()
		return m, nil

	case tea.KeyPgDown:
		m.viewport.HalfViewDown()
		return m, nil
	}

	var cmd tea.Cmd
	m.chatInput, cmd = m.chatInput.Update(msg)
	return m, cmd
}

// dispatchInput routes a line of input to a command or the public channel.
func (m model) dispatchInput(text string) (model, tea.Cmd) {
	if m.serverDown {
		m.appendChat(errorStyle.Render("⚠ server unreachable, message not sent"))
		return m, nil
	}

	switch {
	case text == "/quit":
		m.sendLogout()
		return m, tea.Quit

	case text == "/users":
		return m, m.userListCmd()

	case text == "/stats":
		return m, m.statsCmd()

	case strings.HasPrefix(text, "/msg "):
		rest := strings.TrimSpace(strings.TrimPrefix(text, "/msg "))
		recipient, body, ok := strings.Cut(rest, " ")
		if !ok || strings.TrimSpace(body) == "" {
			m.appendChat(errorStyle.Render("⚠ usage: /msg <user> <text>"))
			return m, nil
		}
		data, _ := json.Marshal(protocol.PrivateMessage{
			Sender: m.me, Recipient: recipient, Text: strings.TrimSpace(body),
		})
		m.bus.Publish(protocol.TopicPrivate, data)
		m.appendChat(privStyle.Render(fmt.Sprintf("→ %s: %s", recipient, strings.TrimSpace(body))))
		return m, nil
	}

	data, _ := json.Marshal(protocol.SubmitMessage{Sender: m.me, Text: text})
	m.bus.Publish(protocol.TopicMessage, data)
	return m, nil
}

func (m *model) sendLogout() {
	data, _ := json.Marshal(protocol.LogoutRequest{Username: m.me})
	m.bus.Publish(protocol.TopicLogout, data)
}

// ---------------------------------------------------------------------------
// RPC commands
// ---------------------------------------------------------------------------

func (m model) loginCmd(username string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		data, _ := json.Marshal(protocol.LoginRequest{Username: username})
		reply, err := m.bus.Request(ctx, protocol.TopicLogin, data)
		if err != nil {
			return rpcFailedMsg{err}
		}
		var resp protocol.LoginResponse
		if err := json.Unmarshal(reply, &resp); err != nil {
			return rpcFailedMsg{err}
		}
		if resp.Success {
			// Private deliveries and scoped errors arrive on our own topic.
			if _, err := m.bus.Subscribe(protocol.UserTopic(username), forwardEnvelope(m.events)); err != nil {
				return rpcFailedMsg{err}
			}
		}
		return loginResultMsg(resp)
	}
}

func (m model) userListCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		data, _ := json.Marshal(protocol.UserListRequest{Username: m.me})
		reply, err := m.bus.Request(ctx, protocol.TopicUserList, data)
		if err != nil {
			return rpcFailedMsg{err}
		}
		var resp protocol.UserListResponse
		if err := json.Unmarshal(reply, &resp); err != nil {
			return rpcFailedMsg{err}
		}
		return userListMsg(resp)
	}
}

func (m model) statsCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		data, _ := json.Marshal(protocol.StatisticsRequest{Username: m.me})
		reply, err := m.bus.Request(ctx, protocol.TopicStats, data)
		if err != nil {
			return rpcFailedMsg{err}
		}
		var resp protocol.StatisticsResponse
		if err := json.Unmarshal(reply, &resp); err != nil {
			return rpcFailedMsg{err}
		}
		return statsMsg(resp)
	}
}

// ---------------------------------------------------------------------------
// Envelope handling
// ---------------------------------------------------------------------------

func (m model) handleEnvelope(env protocol.Envelope) model {
	switch env.Kind {

	case protocol.EventMessage:
		var um protocol.UserMessage
		if json.Unmarshal(env.Payload, &um) != nil {
			return m
		}
		ts := tsStyle.Render("[" + um.Timestamp.Local().Format("15:04:05") + "]")
		name := senderStyle(um.Color).Render(um.Sender)
		m.appendChat(ts + " " + name + ": " + um.Text)

	case protocol.EventNotification:
		var n protocol.UserNotification
		if json.Unmarshal(env.Payload, &n) != nil {
			return m
		}
		m.appendChat(sysStyle.Render("⚡ " + n.Text))

	case protocol.EventPrivate:
		var pm protocol.PrivateMessage
		if json.Unmarshal(env.Payload, &pm) != nil {
			return m
		}
		ts := tsStyle.Render("[" + pm.Timestamp.Local().Format("15:04:05") + "]")
		name := senderStyle(pm.Color).Render(pm.Sender)
		m.appendChat(ts + " " + privStyle.Render("(private)") + " " + name + ": " + pm.Text)

	case protocol.EventError:
		var e protocol.ErrorEvent
		if json.Unmarshal(env.Payload, &e) != nil {
			return m
		}
		if m.state == stateLogin {
			m.statusMsg = e.Message
		} else {
			m.appendChat(errorStyle.Render("⚠ " + e.Message))
		}
	}
	return m
}

func (m *model) appendChat(line string) {
	m.chatLines = append(m.chatLines, line)
	m.viewport.SetContent(strings.Join(m.chatLines, "\n"))
	m.viewport.GotoBottom()
}

// ---------------------------------------------------------------------------
// Views
// ---------------------------------------------------------------------------

func (m model) View() string {
	switch m.state {
	case stateLogin:
		return m.viewLogin()
	case stateChat:
		return m.viewChat()
	}
	return ""
}

func (m model) viewLogin() string {
	if m.width == 0 {
		return "\n  Connecting to broker…"
	}

	title := titleStyle.Render("  mqchat  ")
	form := lipgloss.JoinVertical(lipgloss.Left,
		title,
		"",
		focusedLabelStyle.Render("Username")+"  "+m.loginField.View(),
		"",
		hintStyle.Render("Enter: login   Ctrl+C: quit"),
		"",
		m.renderStatus(),
	)
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, form)
}

func (m model) viewChat() string {
	if !m.ready {
		return "\n  Connecting…"
	}

	hdr := headerStyle
	status := ""
	if m.serverDown {
		hdr = offlineHeaderStyle
		status = "  ·  SERVER UNREACHABLE"
	}
	header := hdr.Width(m.width).
		Render(fmt.Sprintf(" mqchat  ·  %s%s  ·  /users /stats /msg  ·  Ctrl+C: quit", m.me, status))

	footer := footerBorderStyle.
		Width(m.width - 2).
		Render(m.chatInput.View())

	return lipgloss.JoinVertical(lipgloss.Left, header, m.viewport.View(), footer)
}

func (m model) renderStatus() string {
	if m.statusMsg == "" {
		return ""
	}
	if strings.Contains(m.statusMsg, "Logging in") {
		return hintStyle.Render(m.statusMsg)
	}
	return errorStyle.Render(m.statusMsg)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// waitForEvent blocks until the next bus event is bridged into the loop.
func waitForEvent(ch <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		return <-ch
	}
}

// forwardEnvelope bridges an event topic into the Bubbletea loop.
func forwardEnvelope(events chan<- tea.Msg) bus.Handler {
	return func(data []byte) {
		var env protocol.Envelope
		if json.Unmarshal(data, &env) != nil {
			return
		}
		events <- busEventMsg(env)
	}
}

// subscribeAll wires the broadcast subscriptions.  The per-user scoped topic
// is subscribed after a successful login, once the username is known.
func subscribeAll(b bus.Bus, events chan<- tea.Msg) error {
	if _, err := b.Subscribe(protocol.TopicEvents, forwardEnvelope(events)); err != nil {
		return err
	}
	_, err := b.Subscribe(protocol.TopicServerHeartbeat, func(data []byte) {
		var hb protocol.ServerHeartbeat
		if json.Unmarshal(data, &hb) != nil {
			return
		}
		events <- serverAliveMsg(hb.Timestamp)
	})
	return err
}

// ---------------------------------------------------------------------------
// Main
// ---------------------------------------------------------------------------

func main() {
	natsURL := flag.String("nats", "nats://localhost:4222", "NATS broker URL")
	username := flag.String("user", "", "username to log in with (prompted when empty)")
	heartbeat := flag.Duration("heartbeat", 10*time.Second, "client heartbeat interval")
	serverTimeout := flag.Duration("server-timeout", 15*time.Second, "how long without a server heartbeat before giving up")
	flag.Parse()

	b, err := bus.ConnectNATS(*natsURL, "mqchat-client")
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect broker: %v\n", err)
		os.Exit(1)
	}
	defer b.Close()

	// events bridges subscription goroutines and the Bubbletea event loop.
	events := make(chan tea.Msg, 64)

	if err := subscribeAll(b, events); err != nil {
		fmt.Fprintf(os.Stderr, "subscribe: %v\n", err)
		os.Exit(1)
	}

	m := newModel(b, events, *heartbeat, *serverTimeout)
	if *username != "" {
		m.loginField.SetValue(*username)
	}

	p := tea.NewProgram(m,
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
