package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.bytecodealliance.org/wit"
	"golang.org/x/term"

	fhewasm "github.com/luxfhe/fhe-wasm"
	"github.com/luxfhe/fhe-wasm/errors"
	"github.com/luxfhe/fhe-wasm/loader"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	funcStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	typeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type modelState int

const (
	stateSelectOp modelState = iota
	stateInputArgs
	stateShowResult
)

// interactiveModel drives the TUI. Key parameters left blank take the
// session keys.
type interactiveModel struct {
	ctx      context.Context
	err      error
	app      *app
	fhe      fhewasm.FHE
	keys     *fhewasm.Keys
	result   string
	ops      []fhewasm.Signature
	inputs   []textinput.Model
	selected int
	focusIdx int
	state    modelState
}

type loadedMsg struct {
	err error
	fhe fhewasm.FHE
}

type callResultMsg struct {
	err    error
	keys   *fhewasm.Keys
	result string
}

func newInteractiveModel(ctx context.Context, a *app) *interactiveModel {
	m := &interactiveModel{ctx: ctx, app: a, state: stateSelectOp}
	for _, op := range fhewasm.Ops {
		sig, _ := fhewasm.SignatureOf(op)
		m.ops = append(m.ops, sig)
	}
	if a.flags.keysFile != "" || a.flags.keyID != "" {
		if k, err := a.keys(); err == nil {
			m.keys = &k
		}
	}
	return m
}

func (m *interactiveModel) Init() tea.Cmd {
	return m.loadEngine
}

func (m *interactiveModel) loadEngine() tea.Msg {
	fhe, err := m.app.initEngine(m.ctx)
	return loadedMsg{fhe: fhe, err: err}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit

		case "q":
			if m.state != stateInputArgs {
				return m, tea.Quit
			}

		case "up", "k":
			if m.state == stateSelectOp && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateSelectOp && m.selected < len(m.ops)-1 {
				m.selected++
			}

		case "enter":
			switch m.state {
			case stateSelectOp:
				if m.fhe == nil {
					return m, nil
				}
				m.prepareInputs()
				if len(m.inputs) == 0 {
					return m, m.callOp
				}
				m.state = stateInputArgs

			case stateInputArgs:
				return m, m.callOp

			case stateShowResult:
				m.state = stateSelectOp
				m.result = ""
				m.err = nil
			}

		case "tab":
			if m.state == stateInputArgs && len(m.inputs) > 1 {
				m.inputs[m.focusIdx].Blur()
				m.focusIdx = (m.focusIdx + 1) % len(m.inputs)
				m.inputs[m.focusIdx].Focus()
			}

		case "esc":
			switch m.state {
			case stateInputArgs:
				m.state = stateSelectOp
				m.inputs = nil
			case stateShowResult:
				m.state = stateSelectOp
				m.result = ""
				m.err = nil
			}
		}

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.fhe = msg.fhe

	case callResultMsg:
		m.result = msg.result
		m.err = msg.err
		if msg.keys != nil {
			m.keys = msg.keys
		}
		m.state = stateShowResult
	}

	if m.state == stateInputArgs {
		var cmds []tea.Cmd
		for i := range m.inputs {
			var cmd tea.Cmd
			m.inputs[i], cmd = m.inputs[i].Update(msg)
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)
	}

	return m, nil
}

func isKeyParam(name string) bool {
	return strings.HasSuffix(name, "-key")
}

func (m *interactiveModel) prepareInputs() {
	sig := m.ops[m.selected]
	m.inputs = make([]textinput.Model, len(sig.Params))
	for i, p := range sig.Params {
		ti := textinput.New()
		ti.Placeholder = fhewasm.TypeName(p.Type)
		if isKeyParam(p.Name) && m.keys != nil {
			ti.Placeholder = "blank for session key"
		}
		ti.Prompt = p.Name + ": "
		ti.Width = 60
		ti.CharLimit = 0
		if i == 0 {
			ti.Focus()
		}
		m.inputs[i] = ti
	}
	m.focusIdx = 0
}

func sessionKey(keys *fhewasm.Keys, param string) []byte {
	if keys == nil {
		return nil
	}
	switch param {
	case "public-key":
		return keys.PublicKey
	case "private-key":
		return keys.PrivateKey
	case "evaluation-key":
		return keys.EvaluationKey
	}
	return nil
}

// convertArg parses a text field as the parameter's WIT type. Byte lists
// are base64.
func convertArg(value string, p fhewasm.Param, keys *fhewasm.Keys) (any, error) {
	value = strings.TrimSpace(value)
	switch p.Type.(type) {
	case wit.U8:
		v, err := strconv.ParseUint(value, 10, 8)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseEncode, errors.KindInvalidInput, err, p.Name)
		}
		return uint8(v), nil
	case wit.U64:
		v, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseEncode, errors.KindInvalidInput, err, p.Name)
		}
		return v, nil
	case wit.String:
		return value, nil
	}
	if value == "" && isKeyParam(p.Name) {
		if k := sessionKey(keys, p.Name); k != nil {
			return k, nil
		}
		return nil, errors.InvalidInput(errors.PhaseEncode, p.Name+": no session key, run generateKeys first")
	}
	b, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseEncode, errors.KindInvalidInput, err, p.Name+" is not base64")
	}
	return b, nil
}

func (m *interactiveModel) callOp() tea.Msg {
	sig := m.ops[m.selected]
	args := make([]any, len(m.inputs))
	for i, input := range m.inputs {
		v, err := convertArg(input.Value(), sig.Params[i], m.keys)
		if err != nil {
			return callResultMsg{err: err}
		}
		args[i] = v
	}
	return call(m.ctx, m.fhe, sig.Op, args)
}

func call(ctx context.Context, fhe fhewasm.FHE, op fhewasm.Op, args []any) callResultMsg {
	b64 := base64.StdEncoding.EncodeToString
	switch op {
	case fhewasm.OpVersion:
		v, err := fhe.Version(ctx)
		return callResultMsg{result: v, err: err}
	case fhewasm.OpGenerateKeys:
		keys, err := fhe.GenerateKeys(ctx)
		if err != nil {
			return callResultMsg{err: err}
		}
		data, _ := json.MarshalIndent(keys, "", "  ")
		return callResultMsg{result: string(data) + "\n\n(kept as session keys)", keys: keys}
	case fhewasm.OpEncrypt:
		ct, err := fhe.Encrypt(ctx, args[0].(uint64), args[1].(uint8), args[2].([]byte))
		return callResultMsg{result: b64(ct), err: err}
	case fhewasm.OpDecrypt:
		v, err := fhe.Decrypt(ctx, args[0].([]byte), args[1].([]byte))
		return callResultMsg{result: strconv.FormatUint(v, 10), err: err}
	}
	ct, err := loader.Eval(ctx, fhe, op, args[0].([]byte), args[1].([]byte), args[2].([]byte))
	return callResultMsg{result: b64(ct), err: err}
}

func (m *interactiveModel) View() string {
	if m.err != nil && m.state != stateShowResult {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}

	if m.fhe == nil {
		return "Loading engine..."
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("LuxFHE"))
	b.WriteString(" ")
	b.WriteString(m.app.cfg.Wasm.Location)
	b.WriteString("\n\n")

	switch m.state {
	case stateSelectOp:
		b.WriteString("Select an operation:\n\n")
		for i, sig := range m.ops {
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + formatSig(sig)))
			} else {
				b.WriteString("  " + formatSig(sig))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter call • q quit"))

	case stateInputArgs:
		sig := m.ops[m.selected]
		b.WriteString(fmt.Sprintf("Calling %s\n\n", funcStyle.Render(string(sig.Op))))
		for i, input := range m.inputs {
			b.WriteString(input.View())
			b.WriteString(" ")
			b.WriteString(typeStyle.Render(fhewasm.TypeName(sig.Params[i].Type)))
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("tab next field • enter call • esc back"))

	case stateShowResult:
		sig := m.ops[m.selected]
		b.WriteString(fmt.Sprintf("Result of %s:\n\n", funcStyle.Render(string(sig.Op))))
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			b.WriteString(resultStyle.Render(m.result))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}

	return b.String()
}

func formatSig(sig fhewasm.Signature) string {
	var params []string
	for _, p := range sig.Params {
		params = append(params, p.Name+": "+typeStyle.Render(fhewasm.TypeName(p.Type)))
	}
	result := ""
	if len(sig.Results) > 0 {
		result = " -> " + typeStyle.Render(fhewasm.TypeName(sig.Results[0]))
	}
	return funcStyle.Render(string(sig.Op)) + "(" + strings.Join(params, ", ") + ")" + result
}

func (a *app) runInteractive(ctx context.Context) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) || !term.IsTerminal(int(os.Stdout.Fd())) {
		return errors.Unsupported(errors.PhaseConfig, "interactive mode needs a terminal")
	}
	p := tea.NewProgram(newInteractiveModel(ctx, a), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
