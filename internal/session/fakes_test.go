package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rbright/parley/internal/gateway"
	"github.com/rbright/parley/internal/transcript"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	lookupResult gateway.LookupResult
	lookupErr    error
	chatReply    gateway.ChatReply
	chatErr      error
	release      chan struct{}

	mu      sync.Mutex
	names   []string
	texts   []string
	lookups atomic.Int32
	chats   atomic.Int32
}

func (g *fakeGateway) wait(ctx context.Context) {
	if g.release == nil {
		return
	}
	select {
	case <-g.release:
	case <-ctx.Done():
	}
}

func (g *fakeGateway) LookupCustomer(ctx context.Context, name string) (gateway.LookupResult, error) {
	g.lookups.Add(1)
	g.mu.Lock()
	g.names = append(g.names, name)
	g.mu.Unlock()
	g.wait(ctx)
	return g.lookupResult, g.lookupErr
}

func (g *fakeGateway) SendChatTurn(ctx context.Context, text string) (gateway.ChatReply, error) {
	g.chats.Add(1)
	g.mu.Lock()
	g.texts = append(g.texts, text)
	g.mu.Unlock()
	g.wait(ctx)
	return g.chatReply, g.chatErr
}

func (g *fakeGateway) chatTexts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.texts...)
}

type fakeListener struct {
	available bool
	startErr  error
	startGate chan struct{}

	starts atomic.Int32
	stops  atomic.Int32
}

func (l *fakeListener) Available() bool { return l.available }

func (l *fakeListener) Start(ctx context.Context) error {
	l.starts.Add(1)
	if l.startGate != nil {
		select {
		case <-l.startGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return l.startErr
}

func (l *fakeListener) Stop() error {
	l.stops.Add(1)
	return nil
}

type fakeSpeaker struct {
	mu      sync.Mutex
	spoken  []string
	ids     []string
	cancels atomic.Int32
}

func (s *fakeSpeaker) Speak(_ context.Context, text string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := fmt.Sprintf("utt-%d", len(s.ids)+1)
	s.spoken = append(s.spoken, text)
	s.ids = append(s.ids, id)
	return id
}

func (s *fakeSpeaker) Cancel() { s.cancels.Add(1) }

func (s *fakeSpeaker) last() (string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ids) == 0 {
		return "", ""
	}
	return s.ids[len(s.ids)-1], s.spoken[len(s.spoken)-1]
}

func (s *fakeSpeaker) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

type fakeIndicator struct {
	starts atomic.Int32
	stops  atomic.Int32
	errors atomic.Int32
}

func (f *fakeIndicator) CueStart(context.Context) { f.starts.Add(1) }
func (f *fakeIndicator) CueStop(context.Context)  { f.stops.Add(1) }
func (f *fakeIndicator) CueError(context.Context) { f.errors.Add(1) }

type harness struct {
	ctrl      *Controller
	gateway   *fakeGateway
	listener  *fakeListener
	speaker   *fakeSpeaker
	indicator *fakeIndicator
	log       *transcript.Log
}

func newHarness(t *testing.T, gw *fakeGateway, listener *fakeListener) *harness {
	t.Helper()
	h := &harness{
		gateway:   gw,
		listener:  listener,
		speaker:   &fakeSpeaker{},
		indicator: &fakeIndicator{},
		log:       transcript.NewLog(nil),
	}
	h.ctrl = NewController(nil, gw, h.log, h.indicator)
	if listener != nil {
		h.ctrl.UseVoice(listener, h.speaker)
	} else {
		h.ctrl.UseVoice(nil, h.speaker)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.ctrl.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func (h *harness) lines() []string {
	entries := h.log.Entries()
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.String())
	}
	return out
}

func waitForView(t *testing.T, ctrl *Controller, cond func(View) bool) View {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if view := ctrl.View(); cond(view) {
			return view
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for view; last view: %+v", ctrl.View())
	return View{}
}

func waitForSurface(t *testing.T, ctrl *Controller, surface Surface) View {
	t.Helper()
	return waitForView(t, ctrl, func(v View) bool { return v.Surface == surface })
}

// settle waits until every closure posted so far has run.
func settle(t *testing.T, ctrl *Controller) {
	t.Helper()
	done := make(chan struct{})
	ctrl.post(func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		require.FailNow(t, "controller did not drain its queue")
	}
}

func foundGateway() *fakeGateway {
	return &fakeGateway{
		lookupResult: gateway.LookupResult{Found: true, Message: "Found Jane Doe, balance $200"},
		chatReply:    gateway.ChatReply{Message: "Great, I'll note that."},
	}
}

// locate drives a successful lookup and waits for the post-lookup surface.
func locate(t *testing.T, h *harness, want Surface) {
	t.Helper()
	require.NoError(t, h.ctrl.RequestLookup("Jane Doe"))
	waitForSurface(t, h.ctrl, want)
}
