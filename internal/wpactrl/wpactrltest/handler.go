package wpactrltest

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Handler is a collection of user-definable functions
// used for handling control interface messages.
type Handler struct {
	sync.Mutex // Protects following.
	onMessage  func(msg string)
	onUndef    func(msg string) string
	onPing     func() bool // Reply to PING with PONG unless onPing is defined and returns false.
	onAttach   func()
	onDetach   func()
	commands   map[string]func(args string) string
}

// DefaultHandler is a convenience function to define a Handler
// that replies to each command (first token) with a fixed response.
func DefaultHandler(replies map[string]string) *Handler {
	var h Handler
	h.OnPing(func() bool { return true })
	for cmd, resp := range replies {
		h.Reply(cmd, resp)
	}
	return &h
}

// OnMessage registers a callback that will be called
// with every message received after calling Serve.
func (h *Handler) OnMessage(f func(msg string)) {
	h.Lock()
	h.onMessage = f
	h.Unlock()
}

func (h *Handler) handleMessage(msg string) {
	h.Lock()
	defer h.Unlock()
	if h.onMessage == nil {
		return
	}
	h.onMessage(msg)
}

// OnUndef registers a callback that will be called
// with every otherwise unhandled message received after calling Serve.
func (h *Handler) OnUndef(f func(msg string) string) {
	h.Lock()
	h.onUndef = f
	h.Unlock()
}

func (h *Handler) handleUndef(msg string) (string, bool) {
	h.Lock()
	defer h.Unlock()
	if h.onUndef != nil {
		return h.onUndef(msg), true
	}
	return "", false
}

// OnPing registers a callback that will be called
// with every ping message. If false is returned, then
// no PONG reply is sent. If this callback isn't set, then
// PONG will be sent.
func (h *Handler) OnPing(f func() bool) {
	h.Lock()
	h.onPing = f
	h.Unlock()
}

func (h *Handler) handlePing() bool {
	h.Lock()
	defer h.Unlock()
	if h.onPing == nil {
		return true
	}
	return h.onPing()
}

// Handle registers f for messages whose first token is cmd. The
// callback receives the rest of the message.
func (h *Handler) Handle(cmd string, f func(args string) string) {
	h.Lock()
	if h.commands == nil {
		h.commands = make(map[string]func(string) string)
	}
	h.commands[cmd] = f
	h.Unlock()
}

// Reply registers a fixed response for cmd.
func (h *Handler) Reply(cmd, resp string) {
	h.Handle(cmd, func(string) string { return resp })
}

func (h *Handler) handleCommand(msg string) (string, bool) {
	cmd, args, _ := strings.Cut(msg, " ")

	h.Lock()
	f, ok := h.commands[cmd]
	h.Unlock()
	if !ok {
		return "", false
	}
	return f(args), true
}

// OnAttach registers a callback for when ATTACH is received.
func (h *Handler) OnAttach(f func()) {
	h.Lock()
	h.onAttach = f
	h.Unlock()
}

func (h *Handler) handleAttach() {
	h.Lock()
	defer h.Unlock()
	if h.onAttach != nil {
		h.onAttach()
	}
}

// OnDetach registers a callback for when a DETACH message is received.
func (h *Handler) OnDetach(f func()) {
	h.Lock()
	h.onDetach = f
	h.Unlock()
}

func (h *Handler) handleDetach() {
	h.Lock()
	defer h.Unlock()
	if h.onDetach != nil {
		h.onDetach()
	}
}

// EncodeKV formats kv as a key=value reply, sorted by key.
func EncodeKV(kv map[string]string) string {
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s\n", k, kv[k])
	}
	return b.String()
}

// Messages records received messages. Use Record with OnMessage.
type Messages struct {
	mu   sync.Mutex
	msgs []string
}

// Record appends msg.
func (m *Messages) Record(msg string) {
	m.mu.Lock()
	m.msgs = append(m.msgs, msg)
	m.mu.Unlock()
}

// All returns a copy of the recorded messages.
func (m *Messages) All() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.msgs...)
}

// Matching returns the recorded messages starting with prefix.
func (m *Messages) Matching(prefix string) []string {
	var out []string
	for _, msg := range m.All() {
		if strings.HasPrefix(msg, prefix) {
			out = append(out, msg)
		}
	}
	return out
}
