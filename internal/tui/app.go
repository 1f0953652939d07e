package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"ankicli/internal/orchestrator"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// PanelID 面板标识
// PanelID identifies a panel
type PanelID int

const (
	PanelChat PanelID = iota
	PanelTools
	PanelLogs
	panelCount
)

func (p PanelID) String() string {
	switch p {
	case PanelChat:
		return "Chat"
	case PanelTools:
		return "Tools"
	case PanelLogs:
		return "Logs"
	}
	return "?"
}

// Session is the turn engine behind the TUI.
type Session interface {
	RunInput(ctx context.Context, input string, out io.Writer) (string, error)
	CurrentModel() string
	SetTextStreamCallback(fn orchestrator.TextChunkFunc)
	SetToolEventCallback(fn orchestrator.ToolEventFunc)
	SetContextUpdateCallback(fn orchestrator.OnContextUpdate)
}

// --- Tea Messages ---

// TextChunkMsg 流式文本块
// TextChunkMsg is a streaming text chunk
type TextChunkMsg struct{ Text string }

// ToolStartMsg 工具开始执行
// ToolStartMsg indicates tool execution started
type ToolStartMsg struct{ Name, Summary string }

// ToolDoneMsg 工具执行完成
// ToolDoneMsg indicates tool execution done
type ToolDoneMsg struct{ Name, Summary string }

// DelegateProgressMsg reports one finished delegate item.
type DelegateProgressMsg struct {
	Completed int
	Total     int
	Current   string
	OK        bool
}

// TurnDoneMsg 回合完成
// TurnDoneMsg indicates a turn is done
type TurnDoneMsg struct {
	Content string
	Err     error
}

// ContextUpdateMsg 上下文信息更新
// ContextUpdateMsg carries updated context info
type ContextUpdateMsg struct {
	Tokens  int
	Limit   int
	Percent float64
}

// StatusMsg sets the sidebar Anki line, e.g. the startup ping result.
type StatusMsg struct{ Anki string }

// App Bubble Tea 主 Model
// App is the main Bubble Tea model
type App struct {
	width  int
	height int

	activePanel PanelID
	chatView    viewport.Model
	toolsView   viewport.Model
	logsView    viewport.Model

	input   textarea.Model
	spinner spinner.Model

	modelName  string
	ankiStatus string
	tokens     int
	tokenLimit int
	tokenPct   float64
	delegate   string

	chatContent *strings.Builder
	toolContent *strings.Builder
	logContent  *strings.Builder

	streaming    bool
	streamBuffer *strings.Builder
	lastError    string
	cancel       context.CancelFunc
	quitting     bool

	session Session
	theme   Theme
	keys    KeyMap
}

// NewApp 创建 TUI 应用
// NewApp creates a new TUI application. session may be nil in tests.
func NewApp(session Session, model string) App {
	ta := textarea.New()
	ta.Placeholder = "Ask about your decks, or type help"
	ta.CharLimit = 8192
	ta.SetHeight(3)
	ta.ShowLineNumbers = false
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	theme := DarkTheme()
	sp.Style = theme.MutedStyle

	return App{
		activePanel:  PanelChat,
		input:        ta,
		spinner:      sp,
		modelName:    model,
		ankiStatus:   "unknown",
		tokenLimit:   orchestrator.DefaultContextTokenLimit,
		chatContent:  &strings.Builder{},
		toolContent:  &strings.Builder{},
		logContent:   &strings.Builder{},
		streamBuffer: &strings.Builder{},
		session:      session,
		theme:        theme,
		keys:         DefaultKeyMap(),
	}
}

func (a App) Init() tea.Cmd {
	return textarea.Blink
}

func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, a.keys.Quit):
			if a.cancel != nil {
				a.cancel()
			}
			a.quitting = true
			return a, tea.Quit
		case key.Matches(msg, a.keys.SwitchPanel):
			a.activePanel = (a.activePanel + 1) % panelCount
			return a, nil
		case key.Matches(msg, a.keys.Cancel):
			if a.streaming {
				if a.cancel != nil {
					a.cancel()
				}
				a.appendLog("! Generation interrupted")
			}
			return a, nil
		case key.Matches(msg, a.keys.ClearScreen):
			a.chatContent.Reset()
			a.chatView.SetContent("")
			return a, nil
		case key.Matches(msg, a.keys.Submit):
			return a.submit()
		case key.Matches(msg, a.keys.PageUp, a.keys.PageDown):
			view := a.activeView()
			var cmd tea.Cmd
			*view, cmd = view.Update(msg)
			return a, cmd
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.relayout()
		return a, nil

	case spinner.TickMsg:
		if !a.streaming {
			return a, nil
		}
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case TextChunkMsg:
		a.streamBuffer.WriteString(msg.Text)
		a.updateChatFromStream()
		return a, nil

	case ToolStartMsg:
		a.flushStreamToChat()
		a.appendChat(a.theme.ToolStyle.Render(msg.Summary))
		a.appendTool(fmt.Sprintf("[START] %s: %s", msg.Name, msg.Summary))
		return a, nil

	case ToolDoneMsg:
		head, detail := splitHeadAndDetail(msg.Summary)
		a.appendChat(a.theme.SuccessStyle.Render("  = " + head))
		a.appendTool(fmt.Sprintf("[DONE] %s: %s", msg.Name, head))
		if detail != "" {
			for _, line := range strings.Split(indentBlock(detail, "    "), "\n") {
				a.appendTool(RenderToolLine(line, a.theme))
			}
		}
		return a, nil

	case DelegateProgressMsg:
		mark := "ok"
		if !msg.OK {
			mark = "failed"
		}
		a.delegate = fmt.Sprintf("%d/%d", msg.Completed, msg.Total)
		a.appendLog(fmt.Sprintf("[DELEGATE] %d/%d %s %s", msg.Completed, msg.Total, msg.Current, mark))
		return a, nil

	case TurnDoneMsg:
		return a.finishTurn(msg)

	case ContextUpdateMsg:
		a.tokens = msg.Tokens
		a.tokenLimit = msg.Limit
		a.tokenPct = msg.Percent
		return a, nil

	case StatusMsg:
		a.ankiStatus = msg.Anki
		return a, nil
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	cmds = append(cmds, cmd)

	if _, isKey := msg.(tea.KeyMsg); !isKey {
		view := a.activeView()
		*view, cmd = view.Update(msg)
		cmds = append(cmds, cmd)
	}

	return a, tea.Batch(cmds...)
}

func (a App) submit() (tea.Model, tea.Cmd) {
	if a.streaming {
		return a, nil
	}
	text := strings.TrimSpace(a.input.Value())
	if text == "" {
		return a, nil
	}
	a.input.Reset()
	a.AppendUserMessage(text)
	if a.session == nil {
		return a, nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.streaming = true
	a.streamBuffer.Reset()
	return a, tea.Batch(a.spinner.Tick, runTurn(ctx, a.session, text))
}

func runTurn(ctx context.Context, s Session, text string) tea.Cmd {
	return func() tea.Msg {
		content, err := s.RunInput(ctx, text, nil)
		return TurnDoneMsg{Content: content, Err: err}
	}
}

func (a App) finishTurn(msg TurnDoneMsg) (tea.Model, tea.Cmd) {
	a.streaming = false
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.streamBuffer.Reset()
	if a.session != nil {
		a.modelName = a.session.CurrentModel()
	}

	switch {
	case errors.Is(msg.Err, orchestrator.ErrQuit):
		a.quitting = true
		return a, tea.Quit
	case errors.Is(msg.Err, context.Canceled):
		a.appendChat(a.theme.MutedStyle.Render("(turn cancelled, unfinished step not saved)"))
		return a, nil
	case errors.Is(msg.Err, orchestrator.ErrRoundLimit), errors.Is(msg.Err, orchestrator.ErrChatLog):
		a.appendLog(a.theme.WarnStyle.Render("[WARN] " + msg.Err.Error()))
	case msg.Err != nil:
		a.lastError = msg.Err.Error()
		a.appendChat(a.theme.ErrorStyle.Render("x " + msg.Err.Error()))
		a.appendLog("[ERROR] " + msg.Err.Error())
		return a, nil
	}
	if content := strings.TrimSpace(msg.Content); content != "" {
		a.appendChat(RenderMarkdown(content, a.chatView.Width))
	}
	return a, nil
}

func (a App) View() string {
	if a.quitting {
		return ""
	}
	if a.width == 0 || a.height == 0 {
		return "Initializing..."
	}

	sidebarWidth := sidebarWidthFor(a.width)
	mainWidth := a.width - sidebarWidth
	if sidebarWidth > 0 {
		mainWidth-- // border
	}

	inputHeight := 5
	statusHeight := 1
	tabHeight := 1
	panelHeight := max(a.height-inputHeight-statusHeight-tabHeight, 3)

	tabs := a.renderTabs()
	panel := a.renderActivePanel(mainWidth, panelHeight)
	inputBox := a.renderInput(mainWidth)
	statusBar := a.renderStatusBar(a.width)

	main := lipgloss.JoinVertical(lipgloss.Left, tabs, panel, inputBox)
	if sidebarWidth > 0 {
		sidebar := a.renderSidebar(sidebarWidth, a.height-statusHeight)
		main = lipgloss.JoinHorizontal(lipgloss.Top, main, sidebar)
	}
	return lipgloss.JoinVertical(lipgloss.Left, main, statusBar)
}

// --- 内部方法 / Internal methods ---

func sidebarWidthFor(width int) int {
	if width < 80 {
		return 0
	}
	return min(max(width*25/100, 20), 40)
}

func (a *App) relayout() {
	sidebar := sidebarWidthFor(a.width)
	mainWidth := a.width - sidebar
	if sidebar > 0 {
		mainWidth--
	}
	panelHeight := max(a.height-7, 3)

	a.chatView = viewport.New(mainWidth, panelHeight)
	a.chatView.SetContent(a.chatContent.String())
	a.chatView.GotoBottom()

	a.toolsView = viewport.New(mainWidth, panelHeight)
	a.toolsView.SetContent(a.toolContent.String())

	a.logsView = viewport.New(mainWidth, panelHeight)
	a.logsView.SetContent(a.logContent.String())

	a.input.SetWidth(max(mainWidth-4, 10))
}

func (a *App) activeView() *viewport.Model {
	switch a.activePanel {
	case PanelTools:
		return &a.toolsView
	case PanelLogs:
		return &a.logsView
	}
	return &a.chatView
}

func (a *App) appendChat(text string) {
	a.chatContent.WriteString(text + "\n")
	a.chatView.SetContent(a.chatContent.String())
	a.chatView.GotoBottom()
}

func (a *App) appendTool(text string) {
	a.toolContent.WriteString(text + "\n")
	a.toolsView.SetContent(a.toolContent.String())
	a.toolsView.GotoBottom()
}

func (a *App) appendLog(text string) {
	a.logContent.WriteString(text + "\n")
	a.logsView.SetContent(a.logContent.String())
	a.logsView.GotoBottom()
}

func (a *App) updateChatFromStream() {
	content := a.chatContent.String()
	if a.streamBuffer.Len() > 0 {
		content += a.streamBuffer.String()
	}
	a.chatView.SetContent(content)
	a.chatView.GotoBottom()
}

// flushStreamToChat moves narration streamed before a tool call into the
// chat log. Text streamed in the final round is replaced by the rendered answer.
func (a *App) flushStreamToChat() {
	if strings.TrimSpace(a.streamBuffer.String()) != "" {
		a.appendChat(a.theme.MutedStyle.Render(strings.TrimSpace(a.streamBuffer.String())))
	}
	a.streamBuffer.Reset()
}

// --- 渲染方法 / Render methods ---

func (a App) renderTabs() string {
	var parts []string
	for id := PanelChat; id < panelCount; id++ {
		style := a.theme.InactiveTabStyle
		if id == a.activePanel {
			style = a.theme.ActiveTabStyle
		}
		parts = append(parts, style.Render(id.String()))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func (a App) renderActivePanel(width, height int) string {
	style := lipgloss.NewStyle().Width(width).Height(height)

	var content string
	switch a.activePanel {
	case PanelChat:
		if a.chatContent.Len() == 0 && a.streamBuffer.Len() == 0 {
			content = a.theme.MutedStyle.Render("  Type a request, e.g. \"add 5 food words to Spanish\"")
		} else {
			content = a.chatView.View()
		}
	case PanelTools:
		if a.toolContent.Len() == 0 {
			content = a.theme.MutedStyle.Render("  No Anki operations yet")
		} else {
			content = a.toolsView.View()
		}
	case PanelLogs:
		if a.logContent.Len() == 0 {
			content = a.theme.MutedStyle.Render("  No logs yet")
		} else {
			content = a.logsView.View()
		}
	}
	return style.Render(content)
}

func (a App) renderInput(width int) string {
	return a.theme.InputStyle.Width(width).Render(a.input.View())
}

func (a App) renderSidebar(width, height int) string {
	parts := []string{
		a.theme.TitleStyle.Render(" ankicli"),
		"",
		a.theme.TitleStyle.Render(" Context"),
		"  " + renderProgressBar(a.tokenPct, width-4),
		fmt.Sprintf("  %d / %d", a.tokens, a.tokenLimit),
		fmt.Sprintf("  %.1f%% used", a.tokenPct),
		"",
		a.theme.TitleStyle.Render(" Model"),
		"  " + a.modelName,
		"",
		a.theme.TitleStyle.Render(" Anki"),
		"  " + a.theme.AnkiStatus(a.ankiStatus),
	}
	if a.delegate != "" {
		parts = append(parts, "", a.theme.TitleStyle.Render(" Delegate"), "  "+a.delegate)
	}
	return a.theme.SidebarStyle.Width(width).Height(height).Render(strings.Join(parts, "\n"))
}

func (a App) renderStatusBar(width int) string {
	status := "ready"
	if a.streaming {
		status = a.spinner.View() + " working"
	} else if a.lastError != "" {
		status = "last error: " + short(a.lastError, 40)
	}

	left := fmt.Sprintf(" %s · %s", a.modelName, status)
	right := a.keys.Hints(a.streaming) + "  "

	gap := max(width-lipgloss.Width(left)-lipgloss.Width(right), 0)
	return a.theme.StatusBarStyle.Width(width).Render(left + strings.Repeat(" ", gap) + right)
}

func renderProgressBar(percent float64, width int) string {
	width = max(width, 4)
	filled := min(max(int(percent/100*float64(width)), 0), width)
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

// AppendUserMessage 添加用户消息到聊天面板
// AppendUserMessage adds a user message to the chat panel
func (a *App) AppendUserMessage(text string) {
	a.appendChat("\n" + a.theme.UserStyle.Render("You: ") + text)
}

// Run 启动 Bubble Tea TUI
// Run starts the Bubble Tea TUI on s. onReady receives the program's Send so
// callers can forward events such as delegate progress from any goroutine.
func Run(s Session, ankiStatus string, onReady func(send func(tea.Msg))) error {
	app := NewApp(s, s.CurrentModel())
	app.ankiStatus = ankiStatus
	p := tea.NewProgram(app, tea.WithAltScreen(), tea.WithMouseCellMotion())

	s.SetTextStreamCallback(func(chunk string) { p.Send(TextChunkMsg{Text: chunk}) })
	s.SetToolEventCallback(func(name, summary string, done bool) {
		if done {
			p.Send(ToolDoneMsg{Name: name, Summary: summary})
			return
		}
		p.Send(ToolStartMsg{Name: name, Summary: summary})
	})
	s.SetContextUpdateCallback(func(tokens, limit int, percent float64) {
		p.Send(ContextUpdateMsg{Tokens: tokens, Limit: limit, Percent: percent})
	})
	defer func() {
		s.SetTextStreamCallback(nil)
		s.SetToolEventCallback(nil)
		s.SetContextUpdateCallback(nil)
	}()
	if onReady != nil {
		onReady(p.Send)
	}

	_, err := p.Run()
	return err
}
