package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"netplay-engine/internal/netplay"
	"netplay-engine/internal/stats"
)

const (
	maxLogLines   = 200
	sampleRows    = 8
	sparkWidth    = 40
	pingWarnMS    = 60
	pingBadMS     = 150
	headerLines   = 6
	reservedLines = headerLines + sampleRows + 6
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	stateStyle = map[string]lipgloss.Style{
		"disconnected": lipgloss.NewStyle().Foreground(lipgloss.Color("7")),
		"connecting":   lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		"connected":    lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true),
		"resuming":     lipgloss.NewStyle().Foreground(lipgloss.Color("13")),
		"failed":       lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
	}
	pingStyles = []lipgloss.Style{
		lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
	}
)

type model struct {
	ctrl   Controller
	keys   *keys
	title  string
	status netplay.Status

	samples *stats.History
	table   table.Model
	vp      viewport.Model
	logs    []string

	roomInput  textinput.Model
	roomDialog bool
	help       bool
	width      int
	height     int
}

func newModel(ctrl Controller, k *keys, title string) model {
	cols := []table.Column{
		{Title: "Frame", Width: 8},
		{Title: "Ping", Width: 7},
		{Title: "Ahead", Width: 6},
		{Title: "Speed", Width: 6},
		{Title: "Kbps", Width: 6},
		{Title: "Queue", Width: 6},
		{Title: "Rollbacks", Width: 10},
	}
	ti := textinput.New()
	ti.Placeholder = "room code"
	ti.CharLimit = 16
	return model{
		ctrl:      ctrl,
		keys:      k,
		title:     title,
		status:    netplay.Status{State: "disconnected"},
		samples:   &stats.History{},
		table:     table.New(table.WithColumns(cols), table.WithHeight(sampleRows+1)),
		vp:        viewport.New(0, 0),
		roomInput: ti,
	}
}

func (m model) Init() tea.Cmd { return nil }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.vp.Width = msg.Width
		m.vp.Height = max(3, msg.Height-reservedLines)
		m.refreshLog()
	case statusMsg:
		m.status = msg.Status
	case sampleMsg:
		m.samples.Write(msg.Sample)
		m.refreshTable()
	case transitionMsg:
		line := fmt.Sprintf("%s %s -> %s", msg.Timestamp.Format("15:04:05"), msg.From, msg.To)
		if msg.Detail != "" {
			line += " (" + msg.Detail + ")"
		}
		m.appendLog(line)
		if msg.To == "disconnected" {
			m.samples.Reset()
			m.refreshTable()
		}
	case logMsg:
		m.appendLog(msg.line)
	case tea.KeyMsg:
		if m.roomDialog {
			return m.updateRoomDialog(msg)
		}
		return m.handleKey(msg)
	}
	return m, nil
}

func (m model) updateRoomDialog(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.roomDialog = false
		m.roomInput.Blur()
		return m, nil
	case "enter":
		room := strings.TrimSpace(m.roomInput.Value())
		m.roomDialog = false
		m.roomInput.Blur()
		m.roomInput.SetValue("")
		if room != "" {
			m.do(netplay.Command{Kind: netplay.CmdJoin, Room: room})
		}
		return m, nil
	}
	var cmd tea.Cmd
	m.roomInput, cmd = m.roomInput.Update(msg)
	return m, cmd
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if bit, ok := keyButtons[key]; ok {
		m.keys.press(bit)
		return m, nil
	}
	switch key {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "?":
		m.help = !m.help
	case "j":
		m.roomDialog = true
		cmd := m.roomInput.Focus()
		return m, cmd
	case "h":
		m.do(netplay.Command{Kind: netplay.CmdHost})
	case "f":
		m.do(netplay.Command{Kind: netplay.CmdFind})
	case "c":
		m.do(netplay.Command{Kind: netplay.CmdCancel})
	case "r":
		m.do(netplay.Command{Kind: netplay.CmdRetry})
	case "d":
		m.do(netplay.Command{Kind: netplay.CmdDisconnect})
	case "a":
		m.do(netplay.Command{Kind: netplay.CmdAcknowledge})
	case "x":
		m.do(netplay.Command{Kind: netplay.CmdResume})
	}
	return m, nil
}

// do runs a command and logs its outcome.
func (m *model) do(c netplay.Command) {
	if m.ctrl == nil {
		return
	}
	room, err := m.ctrl.Do(c)
	switch {
	case err != nil:
		m.appendLog(fmt.Sprintf("%s: %v", c.Kind, err))
	case c.Kind == netplay.CmdHost:
		m.appendLog("hosting room " + room + ", share this code")
	default:
		m.appendLog(string(c.Kind))
	}
	m.status = m.ctrl.Status()
}

func (m *model) appendLog(line string) {
	m.logs = append(m.logs, line)
	if len(m.logs) > maxLogLines {
		m.logs = m.logs[len(m.logs)-maxLogLines:]
	}
	m.refreshLog()
}

func (m *model) refreshLog() {
	content := strings.Join(m.logs, "\n")
	if m.width > 0 {
		content = wordwrap.String(content, m.width)
	}
	m.vp.SetContent(content)
	m.vp.GotoBottom()
}

func (m *model) refreshTable() {
	all := m.samples.Samples()
	if len(all) > sampleRows {
		all = all[len(all)-sampleRows:]
	}
	rows := make([]table.Row, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		s := all[i]
		rows = append(rows, table.Row{
			fmt.Sprint(s.Frame),
			fmt.Sprintf("%dms", s.PingMS),
			fmt.Sprint(s.FramesAhead),
			fmt.Sprintf("%.2f", s.Speed),
			fmt.Sprint(s.KbpsSent),
			fmt.Sprint(s.SendQueue),
			fmt.Sprint(s.Rollbacks),
		})
	}
	m.table.SetRows(rows)
}

func (m model) View() string {
	if m.help {
		return m.renderHelp()
	}
	width := m.vp.Width
	if width <= 0 {
		width = 60
	}
	divider := dimStyle.Render(strings.Repeat("─", width))
	sections := []string{
		m.renderHeader(),
		divider,
		m.table.View(),
		m.renderPing(),
		divider,
		m.vp.View(),
		divider,
		m.renderBottom(),
	}
	return strings.Join(sections, "\n")
}

func (m model) renderHeader() string {
	st := m.status
	style, ok := stateStyle[st.State]
	if !ok {
		style = dimStyle
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title) + "  " + style.Render(strings.ToUpper(st.State)))
	if st.Method != "" {
		b.WriteString("  " + st.Method)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "frame %d  mapping %s  speed %.2f", st.Frame, st.Mapping, st.Speed)
	switch st.State {
	case "connecting":
		fmt.Fprintf(&b, "\nphase %s", st.Phase)
		if st.UnlockURL != "" {
			b.WriteString("\ntaking long? visit " + st.UnlockURL)
		}
	case "connected":
		fmt.Fprintf(&b, "\nroom %s  rotations %d  rollbacks %d", st.Room, st.Rotations, st.Rollbacks)
	case "resuming":
		fmt.Fprintf(&b, "\nresuming from frames %v", st.Resuming)
	}
	if st.Reason != "" {
		reason := st.Reason
		if m.width > 0 {
			reason = wordwrap.String(reason, m.width)
		}
		b.WriteString("\n" + dimStyle.Render(reason))
	}
	return b.String()
}

// renderPing draws the recent ping history as a bar sparkline.
func (m model) renderPing() string {
	all := m.samples.Samples()
	if len(all) == 0 {
		return dimStyle.Render("no network samples")
	}
	if len(all) > sparkWidth {
		all = all[len(all)-sparkWidth:]
	}
	bars := []rune("▁▂▃▄▅▆▇█")
	var b strings.Builder
	b.WriteString("ping ")
	for _, s := range all {
		level := int(s.PingMS) * len(bars) / (pingBadMS + 1)
		if level >= len(bars) {
			level = len(bars) - 1
		}
		b.WriteString(pingStyle(s.PingMS).Render(string(bars[level])))
	}
	return b.String()
}

func pingStyle(ms int64) lipgloss.Style {
	switch {
	case ms >= pingBadMS:
		return pingStyles[2]
	case ms >= pingWarnMS:
		return pingStyles[1]
	}
	return pingStyles[0]
}

func (m model) renderBottom() string {
	if m.roomDialog {
		return "join " + m.roomInput.View() + dimStyle.Render("  enter to join, esc to cancel")
	}
	return dimStyle.Render("j join  h host  f find  c cancel  r retry  d disconnect  a ack  x resume  ? help  q quit")
}

func (m model) renderHelp() string {
	lines := []string{
		titleStyle.Render("Keys"),
		"arrows / w s   move the paddle",
		"space          A button",
		"j              join a room by code",
		"h              host a room and show its code",
		"f              find a random opponent",
		"c              cancel connecting or resuming",
		"r              retry after a failure",
		"a              acknowledge a failure and restart",
		"d              leave the session and keep playing alone",
		"x              drop the session and resume (debug)",
		"?              toggle this help",
		"q              quit",
	}
	return strings.Join(lines, "\n")
}
