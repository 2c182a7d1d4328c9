package conversation

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/MikeSquared-Agency/callingjournal/internal/domain"
	"github.com/MikeSquared-Agency/callingjournal/internal/llm"
)

// ReplyStream yields the assistant's reply fragment by fragment. The
// assistant turn is recorded only when the stream is fully drained; closing
// it early records nothing and leaves the user turn as the last turn.
type ReplyStream struct {
	c      *Controller
	ls     *liveSession
	ctx    context.Context
	stream llm.Stream

	buf  strings.Builder
	once sync.Once
	done bool
}

// Next returns the next fragment, or io.EOF once the reply is complete and
// recorded.
func (r *ReplyStream) Next() (string, error) {
	if r.done {
		return "", io.EOF
	}

	frag, err := r.stream.Next()
	if errors.Is(err, io.EOF) {
		reply := r.buf.String()
		r.finish(func() {
			r.c.appendTurn(r.ctx, r.ls, domain.RoleAssistant, reply)
			r.c.publishReply(r.ls, reply)
		})
		return "", io.EOF
	}
	if err != nil {
		r.c.logger.Error("reply stream failed",
			"owner_id", r.ls.session.OwnerID,
			"session_id", r.ls.session.ID,
			"error", err,
		)
		r.finish(nil)
		return "", err
	}

	r.buf.WriteString(frag)
	return frag, nil
}

// Close cancels the stream if it has not been drained. It is safe to call
// more than once and after io.EOF.
func (r *ReplyStream) Close() error {
	if !r.done {
		r.c.logger.Info("reply stream cancelled",
			"owner_id", r.ls.session.OwnerID,
			"session_id", r.ls.session.ID,
			"fragments_len", r.buf.Len(),
		)
	}
	r.finish(nil)
	return nil
}

// Text returns everything received so far.
func (r *ReplyStream) Text() string {
	return r.buf.String()
}

func (r *ReplyStream) finish(commit func()) {
	r.once.Do(func() {
		r.done = true
		_ = r.stream.Close()
		if commit != nil {
			commit()
		}
		r.ls.release()
	})
}
