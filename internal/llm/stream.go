package llm

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
)

// timedStream ties a provider stream to the gateway's call timeout.
type timedStream struct {
	Stream
	ctx    context.Context
	cancel context.CancelFunc
	gw     *Gateway
	once   sync.Once
}

func (s *timedStream) Next() (string, error) {
	frag, err := s.Stream.Next()
	if err == nil || errors.Is(err, io.EOF) {
		return frag, err
	}
	return "", s.gw.classify(s.ctx, err)
}

func (s *timedStream) Close() error {
	var err error
	s.once.Do(func() {
		err = s.Stream.Close()
		s.cancel()
	})
	return err
}

// Collect drains a stream into a single string and closes it.
func Collect(s Stream) (string, error) {
	defer s.Close()
	var b strings.Builder
	for {
		frag, err := s.Next()
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return b.String(), err
		}
		b.WriteString(frag)
	}
}

// SliceStream replays fixed fragments. Useful for providers that cannot
// stream and for tests.
type SliceStream struct {
	mu     sync.Mutex
	frags  []string
	pos    int
	closed bool
}

func NewSliceStream(frags ...string) *SliceStream {
	return &SliceStream{frags: frags}
}

func (s *SliceStream) Next() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.pos >= len(s.frags) {
		return "", io.EOF
	}
	frag := s.frags[s.pos]
	s.pos++
	return frag, nil
}

func (s *SliceStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *SliceStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
