package agent

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"

	"github.com/easeaico/persona-core/internal/types"
)

var (
	// ErrStreamConsumed is returned when Chunks is ranged over a second time.
	ErrStreamConsumed = errors.New("stream already consumed")
	// ErrStreamIncomplete is returned by Result before the stream finished.
	ErrStreamIncomplete = errors.New("stream not finished")
)

// Stream is a single-use sequence of reply chunks.
type Stream struct {
	agent    *Agent
	ctx      context.Context
	cancel   context.CancelFunc
	userText string
	system   string
	window   []types.ConversationTurn

	mu     sync.Mutex
	used   bool
	done   bool
	result Reply
	err    error
}

// StreamMessage prepares a streaming turn. The provider is not called until Chunks is ranged.
func (a *Agent) StreamMessage(ctx context.Context, text string) *Stream {
	streamCtx, cancel := context.WithCancel(ctx)
	s := &Stream{agent: a, ctx: streamCtx, cancel: cancel, userText: strings.TrimSpace(text)}

	system, window, err := a.beginTurn(streamCtx, text)
	if err != nil {
		s.err = err
		return s
	}
	s.system = system
	s.window = window
	a.setState(StateAwaitingModel)
	return s
}

// Chunks yields reply text as it arrives. Breaking out of the loop cancels the provider call
// and leaves no assistant turn behind.
func (s *Stream) Chunks() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		s.mu.Lock()
		if s.used {
			s.mu.Unlock()
			yield("", ErrStreamConsumed)
			return
		}
		s.used = true
		preErr := s.err
		s.mu.Unlock()

		defer s.cancel()
		if preErr != nil {
			yield("", preErr)
			return
		}

		var sb strings.Builder
		for chunk, err := range s.agent.cfg.Model.Stream(s.ctx, s.system, s.window) {
			if err != nil {
				s.fail(asProviderError(s.ctx, err))
				yield("", s.Err())
				return
			}
			if chunk == "" {
				continue
			}
			if sb.Len() == 0 {
				s.agent.setState(StateStreaming)
			}
			sb.WriteString(chunk)
			if !yield(chunk, nil) {
				s.fail(fmt.Errorf("stream closed by consumer: %w", context.Canceled))
				return
			}
		}

		if sb.Len() == 0 {
			s.fail(asProviderError(s.ctx, errors.New("empty reply")))
			yield("", s.Err())
			return
		}
		reply := s.agent.completeTurn(s.ctx, s.userText, sb.String())
		s.mu.Lock()
		s.result = reply
		s.done = true
		s.mu.Unlock()
	}
}

// Result returns the same Reply ProcessMessage would have produced, once Chunks is exhausted.
func (s *Stream) Result() (Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return s.result, nil
	}
	if s.err != nil {
		return Reply{}, s.err
	}
	return Reply{}, ErrStreamIncomplete
}

// Err returns the error that ended the stream, if any.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close releases the provider call. It is safe to call more than once.
func (s *Stream) Close() {
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.done && s.err == nil {
		s.err = fmt.Errorf("stream closed before completion: %w", context.Canceled)
		s.agent.setState(StateFailed)
	}
}

func (s *Stream) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	s.agent.setState(StateFailed)
}
