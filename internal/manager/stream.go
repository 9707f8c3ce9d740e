package manager

import (
	"context"
	"io"
	"sync/atomic"
)

// fragmentStream runs a producer in its own goroutine and hands its output
// to NextFragment one piece at a time.
type fragmentStream struct {
	frags  chan string
	err    error // written before frags is closed
	cancel context.CancelFunc
}

// startStream starts run with an emit callback. emit reports false once the
// stream has been stopped; producers should return promptly after that.
func startStream(parent context.Context, run func(ctx context.Context, emit func(string) bool) error) *fragmentStream {
	ctx, cancel := context.WithCancel(parent)
	s := &fragmentStream{frags: make(chan string, 16), cancel: cancel}
	go func() {
		emit := func(frag string) bool {
			select {
			case s.frags <- frag:
				return true
			case <-ctx.Done():
				return false
			}
		}
		s.err = run(ctx, emit)
		close(s.frags)
	}()
	return s
}

func (s *fragmentStream) next(ctx context.Context) (string, error) {
	select {
	case frag, ok := <-s.frags:
		if !ok {
			if s.err != nil {
				return "", s.err
			}
			return "", io.EOF
		}
		return frag, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// stop cancels the producer and waits for it to exit.
func (s *fragmentStream) stop() {
	s.cancel()
	for range s.frags {
	}
}

// streamState is the per-completion bookkeeping shared by the adapters.
type streamState struct {
	budget  int
	emitted atomic.Int64
	cur     *fragmentStream
}

func (st *streamState) swap(s *fragmentStream) {
	if st.cur != nil {
		st.cur.stop()
	}
	st.cur = s
	st.emitted.Store(0)
}

func (st *streamState) next(ctx context.Context) (string, error) {
	if st.cur == nil {
		return "", io.EOF
	}
	frag, err := st.cur.next(ctx)
	if err != nil {
		return "", err
	}
	st.emitted.Add(1)
	return frag, nil
}

func (st *streamState) TokensEmitted() int { return int(st.emitted.Load()) }
func (st *streamState) TokenBudget() int   { return st.budget }
