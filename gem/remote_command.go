package gem

import (
	"fmt"
	"strings"
	"sync"

	"github.com/arloliu/go-secs/secs2"

	"github.com/semiconlab/gemequip/common"
)

// CommandParameter is one CPNAME/CPVAL pair from an S2F41 request. The
// value keeps its wire item type so handlers can interpret it themselves.
type CommandParameter struct {
	Name  string
	Value secs2.Item
}

// RemoteCommandRequest is passed to equipment-side handlers when the host
// issues S2F41.
type RemoteCommandRequest struct {
	Command    string
	Parameters []CommandParameter
}

// Param returns the named parameter value, or nil when absent.
func (r RemoteCommandRequest) Param(name string) secs2.Item {
	for _, p := range r.Parameters {
		if p.Name == name {
			return p.Value
		}
	}
	return nil
}

// CommandHandler executes one remote command and returns its HCACK code.
// A non-nil error is logged; the returned code is still sent to the host.
type CommandHandler func(RemoteCommandRequest) (uint8, error)

// RemoteCommand registers one command with the executor.
type RemoteCommand struct {
	Name    string
	Handler CommandHandler
	// CompletionEvent, when non-zero, is fired through the report engine
	// after the handler returns HCACK 0.
	CompletionEvent uint32
}

// RemoteCommandExecutor dispatches S2F41 host commands to registered
// handlers, gated on the ONLINE REMOTE control state.
type RemoteCommandExecutor struct {
	mu       sync.RWMutex
	commands map[string]RemoteCommand

	allowed   func() bool
	fireEvent func(ceid uint32) error
	logger    common.Logger
}

// NewRemoteCommandExecutor builds an executor. allowed reports whether
// remote commands may run right now; fireEvent publishes a completion
// collection event and may be nil.
func NewRemoteCommandExecutor(allowed func() bool, fireEvent func(uint32) error, logger common.Logger) *RemoteCommandExecutor {
	if logger == nil {
		logger = common.NopLogger()
	}
	return &RemoteCommandExecutor{
		commands:  make(map[string]RemoteCommand),
		allowed:   allowed,
		fireEvent: fireEvent,
		logger:    logger,
	}
}

// Register adds a command. Command names are matched case-insensitively.
func (x *RemoteCommandExecutor) Register(cmd RemoteCommand) error {
	name := strings.ToUpper(strings.TrimSpace(cmd.Name))
	if name == "" {
		return fmt.Errorf("gem: remote command name must not be empty")
	}
	if cmd.Handler == nil {
		return fmt.Errorf("gem: remote command %s has no handler", name)
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if _, dup := x.commands[name]; dup {
		return fmt.Errorf("gem: remote command %s registered twice", name)
	}
	cmd.Name = name
	x.commands[name] = cmd
	return nil
}

// Execute runs one request and returns the HCACK code for the S2F42 reply.
func (x *RemoteCommandExecutor) Execute(req RemoteCommandRequest) uint8 {
	x.mu.RLock()
	cmd, ok := x.commands[strings.ToUpper(strings.TrimSpace(req.Command))]
	x.mu.RUnlock()

	if !ok {
		x.logger.Warn("unknown remote command", "rcmd", req.Command)
		return HCACKDeniedInvalidCommand
	}
	if x.allowed != nil && !x.allowed() {
		x.logger.Warn("remote command refused, equipment not in remote control", "rcmd", cmd.Name)
		return HCACKDeniedCannotPerformNow
	}

	hcack, err := cmd.Handler(req)
	if err != nil {
		x.logger.Error("remote command handler failed", "rcmd", cmd.Name, "hcack", hcack, "error", err)
	}
	if hcack == HCACKAcknowledge && cmd.CompletionEvent != 0 && x.fireEvent != nil {
		if err := x.fireEvent(cmd.CompletionEvent); err != nil {
			x.logger.Warn("remote command completion event failed",
				"rcmd", cmd.Name, "ceid", cmd.CompletionEvent, "error", err)
		}
	}
	return hcack
}

// parseRemoteCommand decodes an S2F41 body:
//
//	<L[2] <RCMD ascii> <L[n] <L[2] <CPNAME ascii> <CPVAL>>>>
func parseRemoteCommand(item secs2.Item) (RemoteCommandRequest, error) {
	var req RemoteCommandRequest

	fields, err := item.ToList()
	if err != nil || len(fields) != 2 {
		return req, errMalformedItem
	}

	cmd, err := fields[0].ToASCII()
	if err != nil {
		return req, errMalformedItem
	}
	req.Command = cmd

	pairs, err := fields[1].ToList()
	if err != nil {
		return req, errMalformedItem
	}
	for _, pair := range pairs {
		kv, err := pair.ToList()
		if err != nil || len(kv) != 2 {
			return req, errMalformedItem
		}
		name, err := kv[0].ToASCII()
		if err != nil {
			return req, errMalformedItem
		}
		req.Parameters = append(req.Parameters, CommandParameter{Name: name, Value: kv[1]})
	}
	return req, nil
}

// buildCommandAck assembles the S2F42 body: <L[2] <HCACK binary> <L[0]>>.
func buildCommandAck(hcack uint8) secs2.Item {
	return secs2.L(secs2.B(hcack), secs2.L())
}
