package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/auricleai/voice-runtime/audio"
	"github.com/auricleai/voice-runtime/config"
	"github.com/auricleai/voice-runtime/engine"
	"github.com/auricleai/voice-runtime/protocol"
	"github.com/auricleai/voice-runtime/runtime"
	"github.com/auricleai/voice-runtime/stream"
	"github.com/auricleai/voice-runtime/telemetry"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	transcriptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	fragmentStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	detectStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFD700"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

const maxLogLines = 18

type interactiveModel struct {
	cfg        config.Config
	utterances []string

	provider engine.Provider
	rt       *runtime.Runtime
	sess     *runtime.Session
	rec      *telemetry.Recorder

	input textinput.Model
	lines []string
	err   error
	busy  bool
}

type sessionReadyMsg struct {
	err      error
	provider engine.Provider
	rt       *runtime.Runtime
	sess     *runtime.Session
	rec      *telemetry.Recorder
	degraded bool
}

type fragmentMsg struct {
	frag stream.Fragment
}

type feedClosedMsg struct{}

type commandDoneMsg struct {
	lines []string
	err   error
}

func newInteractiveModel(cfg config.Config, utterances []string) *interactiveModel {
	ti := textinput.New()
	ti.Placeholder = "text to echo, or /wav path, /wake words, /model path, /stats, /quit"
	ti.Prompt = "> "
	ti.Width = 72
	ti.Focus()
	return &interactiveModel{cfg: cfg, utterances: utterances, input: ti}
}

func (m *interactiveModel) Init() tea.Cmd {
	return m.openSession
}

func (m *interactiveModel) openSession() tea.Msg {
	ctx := context.Background()

	provider, err := engine.Open(ctx, engine.OpenConfig{
		ModulePath:       m.cfg.Engine.ModulePath,
		MemoryLimitPages: m.cfg.Engine.MemoryLimitPages,
		EnableWASI:       m.cfg.Engine.EnableWASI,
		UseStub:          m.cfg.Engine.UseStub,
		StubUtterances:   m.utterances,
		Logger:           zap.NewNop(),
	})
	degraded := err != nil

	rec := telemetry.NewRecorder()
	rt := runtime.New(provider, runtime.Options{
		Telemetry:    rec,
		FeedCapacity: m.cfg.StreamCapacity,
	})
	sess, err := rt.NewSession(ctx, m.cfg.ModelPath, m.cfg.WakeWords)
	if err != nil {
		rt.Close(ctx)
		provider.Close(ctx)
		return sessionReadyMsg{err: err}
	}
	return sessionReadyMsg{
		provider: provider,
		rt:       rt,
		sess:     sess,
		rec:      rec,
		degraded: degraded,
	}
}

// listenFeed blocks for the next stream fragment and resurfaces it as a
// message; Update re-issues it after each one, so the feed drains into
// the view one fragment at a time.
func (m *interactiveModel) listenFeed() tea.Msg {
	frag, err := m.sess.Feed().Recv(context.Background())
	if err != nil {
		return feedClosedMsg{}
	}
	m.rec.Fragment()
	return fragmentMsg{frag: frag}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.shutdown()
			return m, tea.Quit

		case "enter":
			if m.busy || m.sess == nil {
				return m, nil
			}
			line := strings.TrimSpace(m.input.Value())
			m.input.SetValue("")
			if line == "" {
				return m, nil
			}
			if line == "/quit" {
				m.shutdown()
				return m, tea.Quit
			}
			m.busy = true
			return m, m.runCommand(line)
		}

	case sessionReadyMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.provider = msg.provider
		m.rt = msg.rt
		m.sess = msg.sess
		m.rec = msg.rec
		if msg.degraded {
			m.append(helpStyle.Render("engine module unavailable; running on the stub"))
		}
		ctx := m.sess.Context()
		m.append(fmt.Sprintf("session open: model=%s wake=%s",
			ctx.ModelPath, strings.Join(ctx.WakeWords, ", ")))
		return m, m.listenFeed

	case fragmentMsg:
		m.append(fragmentStyle.Render(fmt.Sprintf("… %s", msg.frag.Text)))
		return m, m.listenFeed

	case feedClosedMsg:
		return m, nil

	case commandDoneMsg:
		m.busy = false
		if msg.err != nil {
			m.append(errorStyle.Render(fmt.Sprintf("error: %v", msg.err)))
		}
		for _, line := range msg.lines {
			m.append(line)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// runCommand executes one console line off the UI loop. Plain text
// echoes through the engine; slash commands drive the session.
func (m *interactiveModel) runCommand(line string) tea.Cmd {
	sess := m.sess
	cfg := m.cfg
	return func() tea.Msg {
		ctx := context.Background()

		switch {
		case strings.HasPrefix(line, "/wav "):
			path := strings.TrimSpace(strings.TrimPrefix(line, "/wav "))
			lines, err := feedFileLines(ctx, sess, cfg, path)
			return commandDoneMsg{lines: lines, err: err}

		case strings.HasPrefix(line, "/wake "):
			words := splitList(strings.TrimPrefix(line, "/wake "))
			next, err := sess.SetWakeWords(ctx, words)
			if err != nil {
				return commandDoneMsg{err: err}
			}
			return commandDoneMsg{lines: []string{
				"wake words: " + strings.Join(next.WakeWords, ", "),
			}}

		case strings.HasPrefix(line, "/model "):
			path := strings.TrimSpace(strings.TrimPrefix(line, "/model "))
			next, err := sess.LoadModel(ctx, path)
			if err != nil {
				return commandDoneMsg{err: err}
			}
			return commandDoneMsg{lines: []string{"model: " + next.ModelPath}}

		case line == "/stats":
			snap := m.rec.Snapshot()
			return commandDoneMsg{lines: []string{
				fmt.Sprintf("dispatches %d, bytes %d out / %d in",
					snap.Dispatches, snap.BytesOut, snap.BytesIn),
				fmt.Sprintf("faults %d engine / %d protocol, fragments %d",
					snap.EngineFaults, snap.ProtocolErrors, snap.Fragments),
			}}

		default:
			echoed, err := sess.Debug(ctx, line)
			if err != nil {
				return commandDoneMsg{err: err}
			}
			return commandDoneMsg{lines: []string{"echo: " + echoed}}
		}
	}
}

// feedFileLines runs the window loop for a WAV file and renders each
// event as an output line.
func feedFileLines(ctx context.Context, sess *runtime.Session, cfg config.Config, path string) ([]string, error) {
	samples, err := audio.LoadWAV(afero.NewOsFs(), path)
	if err != nil {
		return nil, err
	}
	gate := audio.NewGate(audio.GateConfig{
		EnergyThreshold: cfg.Audio.VAD.EnergyThreshold,
		FlatnessCeiling: cfg.Audio.VAD.FlatnessCeiling,
		HoldWindows:     cfg.Audio.VAD.HoldWindows,
	})

	var lines []string
	for _, window := range audio.Windows(samples, audio.WindowSize(cfg.Audio.WindowSeconds)) {
		if !gate.Active(window) {
			continue
		}
		_, resp, err := sess.Advance(ctx, window, runtime.OpDetectWakeWords)
		if err != nil {
			return lines, err
		}
		det, ok := resp.(protocol.WakeWordDetection)
		if !ok || !det.Detected {
			continue
		}
		lines = append(lines, detectStyle.Render(
			fmt.Sprintf("wake word at [%d:%d]", det.StartIndex.Value, det.EndIndex.Value)))

		next, _, err := sess.Advance(ctx, window, runtime.OpTranscribe)
		if err != nil {
			return lines, err
		}
		lines = append(lines, transcriptStyle.Render(next.Transcript))
	}
	return lines, nil
}

func (m *interactiveModel) append(line string) {
	m.lines = append(m.lines, line)
	if len(m.lines) > maxLogLines {
		m.lines = m.lines[len(m.lines)-maxLogLines:]
	}
}

func (m *interactiveModel) shutdown() {
	ctx := context.Background()
	if m.rt != nil {
		m.rt.Close(ctx)
	}
	if m.provider != nil {
		m.provider.Close(ctx)
	}
}

func (m *interactiveModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("voicectl"))
	b.WriteString(" ")
	if m.sess != nil {
		ctx := m.sess.Context()
		b.WriteString(ctx.ModelPath)
	}
	b.WriteString("\n\n")

	if m.err != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("esc quit"))
		return b.String()
	}
	if m.sess == nil {
		b.WriteString("Opening session...\n")
		return b.String()
	}

	for _, line := range m.lines {
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n\n")
	if m.busy {
		b.WriteString(helpStyle.Render("working… • esc quit"))
	} else {
		b.WriteString(helpStyle.Render("enter run • esc quit"))
	}
	return b.String()
}

func runInteractive(cfg config.Config, utterances []string) error {
	p := tea.NewProgram(newInteractiveModel(cfg, utterances), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
