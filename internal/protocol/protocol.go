// Package protocol encodes and decodes the line-oriented text frames
// exchanged between the coordinator, its workers and admin callers.
//
// A frame is "<TYPE>:<body>" terminated by a newline and at most
// MaxFrameSize bytes long. The body is split on colons according to the
// frame type; the last field of RESULT and the whole body of ADMIN_EXECUTE
// may themselves contain colons.
//
//	REGISTER:<name>[:<pid>]               worker → coordinator
//	REGISTERED:<workerId>                 coordinator → worker
//	HEARTBEAT:<workerId>                  worker → coordinator
//	EXECUTE:<command>:<taskId>            coordinator → worker
//	RESULT:<taskId>:<workerId>:<payload>  worker → coordinator
//	ADMIN_EXECUTE:<command>               caller → coordinator
//	TASK_QUEUED:<taskId>                  coordinator → caller
//	RESULT:<payload>                      coordinator → caller
//	ERROR:<reason>                        coordinator → caller
//
// The pid of REGISTER is optional. A suffix that is not a non-negative
// integer is taken to be part of the name, so "REGISTER:db:primary"
// registers a worker named "db:primary".
//
// The coordinator never rewrites a RESULT payload: the caller receives the
// bytes the worker sent. Workers built from this module escape multi-line
// output with EscapePayload; readers decode it with UnescapePayload.
package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/me/wdist/pkg/model"
)

// Type identifies a frame.
type Type string

const (
	TypeRegister     Type = "REGISTER"
	TypeRegistered   Type = "REGISTERED"
	TypeHeartbeat    Type = "HEARTBEAT"
	TypeExecute      Type = "EXECUTE"
	TypeResult       Type = "RESULT"
	TypeAdminExecute Type = "ADMIN_EXECUTE"
	TypeTaskQueued   Type = "TASK_QUEUED"
	TypeError        Type = "ERROR"
)

// MaxFrameSize bounds a single line, excluding its terminating newline.
const MaxFrameSize = 1 << 20

// TruncationMarker is appended to a RESULT payload cut to fit MaxFrameSize.
const TruncationMarker = "\n[output truncated]"

// ErrMalformed is returned when a frame does not carry the fields its type
// requires.
var ErrMalformed = errors.New("malformed frame")

// Frame is a parsed but not yet decoded line.
type Frame struct {
	Type Type
	Body string
}

func (f Frame) String() string {
	if f.Body == "" {
		return string(f.Type)
	}
	return string(f.Type) + ":" + f.Body
}

// Parse splits a line into its type and body. The type is upper-cased; a
// trailing carriage return is ignored.
func Parse(line string) (Frame, error) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return Frame{}, fmt.Errorf("empty line: %w", ErrMalformed)
	}
	typ, body, _ := strings.Cut(line, ":")
	typ = strings.ToUpper(strings.TrimSpace(typ))
	if typ == "" {
		return Frame{}, fmt.Errorf("missing frame type: %w", ErrMalformed)
	}
	return Frame{Type: Type(typ), Body: body}, nil
}

// RegisterFrame is sent by a worker when it connects.
type RegisterFrame struct {
	Name      string
	ProcessID int
}

// ResultFrame carries a finished task's output from a worker. Raw is the
// payload exactly as received; Payload is Raw with escapes decoded.
type ResultFrame struct {
	TaskID   string
	WorkerID string
	Raw      string
	Payload  string
}

// Failed reports whether the payload marks the task as failed.
func (r ResultFrame) Failed() bool {
	return strings.HasPrefix(r.Raw, model.ResultErrorPrefix)
}

// ExecuteFrame instructs a worker to run a command.
type ExecuteFrame struct {
	Command string
	TaskID  string
}

// Register decodes REGISTER:<name>[:<pid>].
func Register(f Frame) (RegisterFrame, error) {
	if err := expect(f, TypeRegister); err != nil {
		return RegisterFrame{}, err
	}
	name, pid := f.Body, 0
	if i := strings.LastIndex(f.Body, ":"); i >= 0 {
		suffix := strings.TrimSpace(f.Body[i+1:])
		if suffix == "" {
			name = f.Body[:i]
		} else if n, err := strconv.Atoi(suffix); err == nil && n >= 0 {
			name, pid = f.Body[:i], n
		}
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return RegisterFrame{}, fmt.Errorf("register: empty name: %w", ErrMalformed)
	}
	return RegisterFrame{Name: name, ProcessID: pid}, nil
}

// Registered decodes REGISTERED:<workerId>.
func Registered(f Frame) (string, error) {
	return single(f, TypeRegistered)
}

// Heartbeat decodes HEARTBEAT:<workerId>.
func Heartbeat(f Frame) (string, error) {
	return single(f, TypeHeartbeat)
}

// TaskQueued decodes TASK_QUEUED:<taskId>.
func TaskQueued(f Frame) (string, error) {
	return single(f, TypeTaskQueued)
}

// Error decodes ERROR:<reason>.
func Error(f Frame) (string, error) {
	return single(f, TypeError)
}

// Execute decodes EXECUTE:<command>:<taskId>. The task id is the last
// field; everything before it is the command.
func Execute(f Frame) (ExecuteFrame, error) {
	if err := expect(f, TypeExecute); err != nil {
		return ExecuteFrame{}, err
	}
	i := strings.LastIndex(f.Body, ":")
	if i < 0 {
		return ExecuteFrame{}, fmt.Errorf("execute: missing task id: %w", ErrMalformed)
	}
	cmd, id := f.Body[:i], strings.TrimSpace(f.Body[i+1:])
	if strings.TrimSpace(cmd) == "" || id == "" {
		return ExecuteFrame{}, fmt.Errorf("execute: empty field: %w", ErrMalformed)
	}
	return ExecuteFrame{Command: cmd, TaskID: id}, nil
}

// Result decodes RESULT:<taskId>:<workerId>:<payload>. The payload may be
// empty and may contain colons.
func Result(f Frame) (ResultFrame, error) {
	if err := expect(f, TypeResult); err != nil {
		return ResultFrame{}, err
	}
	parts := strings.SplitN(f.Body, ":", 3)
	if len(parts) != 3 {
		return ResultFrame{}, fmt.Errorf("result: want 3 fields, got %d: %w", len(parts), ErrMalformed)
	}
	taskID, workerID := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	if taskID == "" || workerID == "" {
		return ResultFrame{}, fmt.Errorf("result: empty id: %w", ErrMalformed)
	}
	return ResultFrame{
		TaskID:   taskID,
		WorkerID: workerID,
		Raw:      parts[2],
		Payload:  UnescapePayload(parts[2]),
	}, nil
}

// Reply decodes the RESULT:<payload> frame delivered to an admin caller.
func Reply(f Frame) (string, error) {
	if err := expect(f, TypeResult); err != nil {
		return "", err
	}
	return UnescapePayload(f.Body), nil
}

// AdminExecute decodes ADMIN_EXECUTE:<command>.
func AdminExecute(f Frame) (string, error) {
	if err := expect(f, TypeAdminExecute); err != nil {
		return "", err
	}
	if strings.TrimSpace(f.Body) == "" {
		return "", fmt.Errorf("admin execute: empty command: %w", ErrMalformed)
	}
	return f.Body, nil
}

// EncodeRegister builds REGISTER:<name>[:<pid>]. A pid of zero is omitted.
func EncodeRegister(name string, pid int) string {
	if pid > 0 {
		return fmt.Sprintf("%s:%s:%d", TypeRegister, name, pid)
	}
	return string(TypeRegister) + ":" + name
}

// EncodeRegistered builds the coordinator's answer to REGISTER.
func EncodeRegistered(workerID string) string { return string(TypeRegistered) + ":" + workerID }

// EncodeHeartbeat builds a worker's liveness frame.
func EncodeHeartbeat(workerID string) string { return string(TypeHeartbeat) + ":" + workerID }

// EncodeTaskQueued acknowledges an ADMIN_EXECUTE.
func EncodeTaskQueued(taskID string) string { return string(TypeTaskQueued) + ":" + taskID }

// EncodeError builds the rejection sent to an admin caller.
func EncodeError(reason string) string { return string(TypeError) + ":" + reason }

// EncodeAdminExecute builds a caller's synchronous submission.
func EncodeAdminExecute(command string) string {
	return string(TypeAdminExecute) + ":" + command
}

// EncodeExecute builds the frame that hands a task to a worker.
func EncodeExecute(command, taskID string) string {
	return string(TypeExecute) + ":" + command + ":" + taskID
}

// EncodeResult builds the worker's RESULT frame, escaping the payload.
func EncodeResult(taskID, workerID, payload string) string {
	return string(TypeResult) + ":" + taskID + ":" + workerID + ":" + EscapePayload(payload)
}

// FitResult is EncodeResult limited to limit bytes. When the frame would be
// longer the escaped payload is cut on a character and escape boundary and
// TruncationMarker is appended; the second result reports the cut.
func FitResult(taskID, workerID, payload string, limit int) (string, bool) {
	head := string(TypeResult) + ":" + taskID + ":" + workerID + ":"
	body := EscapePayload(payload)
	if len(head)+len(body) <= limit {
		return head + body, false
	}

	marker := EscapePayload(TruncationMarker)
	n := max(limit-len(head)-len(marker), 0)
	for n > 0 && !utf8.RuneStart(body[n]) {
		n--
	}
	// An odd run of trailing backslashes ends in half an escape.
	slashes := 0
	for i := n - 1; i >= 0 && body[i] == '\\'; i-- {
		slashes++
	}
	if slashes%2 == 1 {
		n--
	}
	return head + body[:n] + marker, true
}

// EncodeReply builds the RESULT frame delivered to an admin caller,
// escaping the payload.
func EncodeReply(payload string) string {
	return string(TypeResult) + ":" + EscapePayload(payload)
}

// ForwardReply builds the RESULT frame delivered to an admin caller from a
// payload exactly as the worker sent it.
func ForwardReply(raw string) string {
	return string(TypeResult) + ":" + raw
}

// EscapePayload makes arbitrary output safe to carry on one line.
// Backslashes are doubled, newlines become \n and carriage returns are
// dropped.
func EscapePayload(s string) string {
	if !strings.ContainsAny(s, "\\\n\r") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 8)
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// UnescapePayload reverses EscapePayload. Unknown escapes are kept as-is.
func UnescapePayload(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i == len(s)-1 {
			b.WriteByte(c)
			continue
		}
		switch s[i+1] {
		case '\\':
			b.WriteByte('\\')
			i++
		case 'n':
			b.WriteByte('\n')
			i++
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func expect(f Frame, t Type) error {
	if f.Type != t {
		return fmt.Errorf("expected %s frame, got %s: %w", t, f.Type, ErrMalformed)
	}
	return nil
}

func single(f Frame, t Type) (string, error) {
	if err := expect(f, t); err != nil {
		return "", err
	}
	v := strings.TrimSpace(f.Body)
	if v == "" {
		return "", fmt.Errorf("%s: empty field: %w", strings.ToLower(string(t)), ErrMalformed)
	}
	return v, nil
}
