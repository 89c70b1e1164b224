package libvirt

import (
	"encoding/json"
	"fmt"
)

// agentTimeout is the guest agent command timeout in seconds.
const agentTimeout = 10

// qmpCommand is a QEMU monitor or guest agent command.
type qmpCommand struct {
	Execute   string `json:"execute"`
	Arguments any    `json:"arguments,omitempty"`
}

// qmpReply is the envelope of a QMP or guest agent answer.
type qmpReply struct {
	Return json.RawMessage `json:"return"`
	Error  *qmpError       `json:"error"`
}

type qmpError struct {
	Class string `json:"class"`
	Desc  string `json:"desc"`
}

func (e *qmpError) Error() string {
	return fmt.Sprintf("%s: %s", e.Class, e.Desc)
}

func encodeCommand(execute string, args any) (string, error) {
	b, err := json.Marshal(qmpCommand{Execute: execute, Arguments: args})
	if err != nil {
		return "", fmt.Errorf("failed to encode %s: %w", execute, err)
	}
	return string(b), nil
}

func decodeReply(execute, raw string, out any) error {
	var reply qmpReply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return fmt.Errorf("failed to decode %s reply: %w", execute, err)
	}
	if reply.Error != nil {
		return fmt.Errorf("%s failed: %w", execute, reply.Error)
	}
	if out == nil || len(reply.Return) == 0 {
		return nil
	}
	if err := json.Unmarshal(reply.Return, out); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", execute, err)
	}
	return nil
}

// monitor runs a command on the domain's QEMU monitor.
func (m *machine) monitor(execute string, args, out any) error {
	cmd, err := encodeCommand(execute, args)
	if err != nil {
		return err
	}
	raw, err := m.hv.lv.QEMUDomainMonitorCommand(m.dom, cmd, 0)
	if err != nil {
		return fmt.Errorf("failed to run %s on %s: %w", execute, m.name, err)
	}
	return decodeReply(execute, raw, out)
}

// agent runs a command through the domain's QEMU guest agent.
func (m *machine) agent(execute string, args, out any) error {
	cmd, err := encodeCommand(execute, args)
	if err != nil {
		return err
	}
	raw, err := m.hv.lv.QEMUDomainAgentCommand(m.dom, cmd, agentTimeout, 0)
	if err != nil {
		return fmt.Errorf("failed to run %s in %s: %w", execute, m.name, err)
	}
	if len(raw) == 0 {
		return fmt.Errorf("%s returned no reply", execute)
	}
	return decodeReply(execute, raw[0], out)
}
