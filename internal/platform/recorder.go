package platform

import (
	"context"
	"sync"
)

// Call is one recorded executor invocation.
type Call struct {
	Op         string
	GuildID    string
	SubjectID  string
	ChannelID  string
	Reason     string
	PruneDays  int
	MessageIDs []string
	Text       string
}

// Recorder is an in-memory ActionExecutor that records calls. Errors can be
// scripted per operation.
type Recorder struct {
	mu     sync.Mutex
	calls  []Call
	errors map[string]error
}

func NewRecorder() *Recorder {
	return &Recorder{errors: map[string]error{}}
}

// FailWith makes every later call of op return err. A nil err clears it.
func (r *Recorder) FailWith(op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.errors, op)
		return
	}
	r.errors[op] = err
}

func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// CallsTo returns the recorded calls of one operation.
func (r *Recorder) CallsTo(op string) []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Call
	for _, c := range r.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

func (r *Recorder) record(c Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
	return r.errors[c.Op]
}

func (r *Recorder) ApplyMute(ctx context.Context, guildID, subjectID, reason string) error {
	return r.record(Call{Op: OpApplyMute, GuildID: guildID, SubjectID: subjectID, Reason: reason})
}

func (r *Recorder) RemoveMute(ctx context.Context, guildID, subjectID, reason string) error {
	return r.record(Call{Op: OpRemoveMute, GuildID: guildID, SubjectID: subjectID, Reason: reason})
}

func (r *Recorder) ApplyBan(ctx context.Context, guildID, subjectID, reason string, pruneDays int) error {
	return r.record(Call{Op: OpApplyBan, GuildID: guildID, SubjectID: subjectID, Reason: reason, PruneDays: pruneDays})
}

func (r *Recorder) RemoveBan(ctx context.Context, guildID, subjectID, reason string) error {
	return r.record(Call{Op: OpRemoveBan, GuildID: guildID, SubjectID: subjectID, Reason: reason})
}

func (r *Recorder) Kick(ctx context.Context, guildID, subjectID, reason string) error {
	return r.record(Call{Op: OpKick, GuildID: guildID, SubjectID: subjectID, Reason: reason})
}

func (r *Recorder) DeleteMessages(ctx context.Context, channelID string, messageIDs []string) error {
	return r.record(Call{Op: OpDeleteMessages, ChannelID: channelID, MessageIDs: append([]string(nil), messageIDs...)})
}

func (r *Recorder) NotifySubject(ctx context.Context, subjectID, text string) error {
	return r.record(Call{Op: OpNotifySubject, SubjectID: subjectID, Text: text})
}
