package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spigell/autoapply/internal/automation"
	"github.com/spigell/autoapply/internal/dom"
	"github.com/spigell/autoapply/internal/dom/htmlpage"
)

type fakeSurface struct {
	*htmlpage.Page
	id string

	readyAfter int
	sendFails  int
	sendErr    error

	mu       sync.Mutex
	polls    int
	sends    int
	injected bool
	closed   bool
	messages []Message
}

func (s *fakeSurface) ID() string { return s.id }

func (s *fakeSurface) Ready(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls++
	return s.readyAfter >= 0 && s.polls > s.readyAfter, nil
}

func (s *fakeSurface) Inject(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.injected = true
	return nil
}

func (s *fakeSurface) Send(ctx context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sends++
	if s.sendErr != nil {
		return s.sendErr
	}
	if s.sends <= s.sendFails {
		return dom.ErrNotReady
	}
	s.messages = append(s.messages, msg)
	return nil
}

func (s *fakeSurface) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type fakeOpener struct {
	mu       sync.Mutex
	surfaces map[string]*fakeSurface
	opened   []string
}

func (o *fakeOpener) Open(ctx context.Context, url string) (Surface, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.surfaces[url]
	if !ok {
		return nil, errors.New("no such tab")
	}
	o.opened = append(o.opened, url)
	s.SetLocation(url)
	return s, nil
}

func newSurface(id string) *fakeSurface {
	return &fakeSurface{Page: htmlpage.MustNew(`<html><body><form></form></body></html>`), id: id}
}

func fastConfig() Config {
	return Config{
		LoadTimeout:      200 * time.Millisecond,
		LoadPoll:         time.Millisecond,
		DeliveryAttempts: 3,
		DeliveryDelay:    time.Millisecond,
		WallClock:        time.Second,
		MaxConcurrent:    1,
	}
}

var submitted = HandlerFunc(func(ctx context.Context, s Surface, msg Message) (Outcome, error) {
	return Outcome{Status: Submitted}, nil
})

func TestProcessDeliversStartMessage(t *testing.T) {
	s := newSurface("tab-1")
	s.readyAfter = 2
	s.sendFails = 2
	opener := &fakeOpener{surfaces: map[string]*fakeSurface{"https://jobs.acme.co.uk/apply/1": s}}

	d := New(opener, submitted, fastConfig(), zap.NewNop())
	res := d.Process(context.Background(), Request{Board: "linkedin", JobID: "1", URL: "https://jobs.acme.co.uk/apply/1"})

	require.NoError(t, res.Err)
	assert.Equal(t, Submitted, res.Status)
	assert.Equal(t, "acme.co.uk", res.Domain)
	assert.Equal(t, "tab-1", res.SurfaceID)
	assert.True(t, s.injected)
	assert.True(t, s.closed)
	assert.Equal(t, 3, s.sends)
	require.Len(t, s.messages, 1)
	assert.Equal(t, Message{Type: MessageStart, Board: "linkedin", JobID: "1"}, s.messages[0])
}

func TestProcessWithoutLogger(t *testing.T) {
	s := newSurface("tab-1")
	opener := &fakeOpener{surfaces: map[string]*fakeSurface{"https://jobs.acme.com/1": s}}

	res := New(opener, submitted, fastConfig(), nil).Process(context.Background(), Request{Board: "indeed", JobID: "1", URL: "https://jobs.acme.com/1"})
	require.NoError(t, res.Err)
	assert.Equal(t, Submitted, res.Status)
}

func TestProcessReportsLoadTimeout(t *testing.T) {
	s := newSurface("tab-1")
	s.readyAfter = -1
	opener := &fakeOpener{surfaces: map[string]*fakeSurface{"https://example.com/": s}}

	cfg := fastConfig()
	cfg.LoadTimeout = 20 * time.Millisecond
	d := New(opener, submitted, cfg, zap.NewNop())
	res := d.Process(context.Background(), Request{URL: "https://example.com/"})

	assert.Equal(t, LoadTimeout, res.Status)
	assert.ErrorIs(t, res.Err, automation.ErrSurfaceLoadTimeout)
	assert.True(t, s.closed)
	assert.False(t, s.injected)
}

func TestProcessReportsExhaustedDelivery(t *testing.T) {
	s := newSurface("tab-1")
	s.sendFails = 10
	opener := &fakeOpener{surfaces: map[string]*fakeSurface{"https://example.com/": s}}

	d := New(opener, submitted, fastConfig(), zap.NewNop())
	res := d.Process(context.Background(), Request{URL: "https://example.com/"})

	assert.Equal(t, DeliveryFailed, res.Status)
	assert.ErrorIs(t, res.Err, automation.ErrMessageDeliveryExhausted)
	assert.ErrorIs(t, res.Err, dom.ErrNotReady)
	assert.Equal(t, 3, s.sends)
}

func TestProcessDoesNotRetryOtherDeliveryErrors(t *testing.T) {
	s := newSurface("tab-1")
	s.sendErr = errors.New("target closed")
	opener := &fakeOpener{surfaces: map[string]*fakeSurface{"https://example.com/": s}}

	d := New(opener, submitted, fastConfig(), zap.NewNop())
	res := d.Process(context.Background(), Request{URL: "https://example.com/"})

	assert.Equal(t, DeliveryFailed, res.Status)
	assert.Equal(t, 1, s.sends)
}

func TestProcessSkipsListedDomains(t *testing.T) {
	s := newSurface("tab-1")
	url := "https://jobs.wellfound.com/apply/7"
	opener := &fakeOpener{surfaces: map[string]*fakeSurface{url: s}}

	called := false
	handler := HandlerFunc(func(ctx context.Context, s Surface, msg Message) (Outcome, error) {
		called = true
		return Outcome{}, nil
	})

	cfg := fastConfig()
	cfg.SkipDomains = DefaultSkipDomains
	d := New(opener, handler, cfg, zap.NewNop())
	res := d.Process(context.Background(), Request{URL: url})

	assert.Equal(t, DomainSkipped, res.Status)
	assert.Equal(t, "wellfound", res.Detail)
	assert.NoError(t, res.Err)
	assert.False(t, called)
	assert.False(t, s.injected)
	assert.True(t, s.closed)
}

func TestProcessEnforcesWallClock(t *testing.T) {
	s := newSurface("tab-1")
	opener := &fakeOpener{surfaces: map[string]*fakeSurface{"https://example.com/": s}}

	handler := HandlerFunc(func(ctx context.Context, s Surface, msg Message) (Outcome, error) {
		<-ctx.Done()
		return Outcome{Status: Unfinished}, ctx.Err()
	})

	cfg := fastConfig()
	cfg.WallClock = 20 * time.Millisecond
	d := New(opener, handler, cfg, zap.NewNop())
	res := d.Process(context.Background(), Request{URL: "https://example.com/"})

	assert.Equal(t, TimeExceeded, res.Status)
	assert.NoError(t, res.Err)
}

func TestProcessMapsHandlerResults(t *testing.T) {
	tests := []struct {
		name   string
		out    Outcome
		err    error
		status Status
		fails  bool
	}{
		{name: "soft ceiling", err: automation.E(automation.KindMaxAttemptsReached, "session", nil), status: MaxAttemptsReached},
		{name: "failure", err: errors.New("boom"), status: Failed, fails: true},
		{name: "no status", status: Unfinished},
		{name: "handler status", out: Outcome{Status: Failed, Detail: "no apply control"}, status: Failed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSurface("tab-1")
			opener := &fakeOpener{surfaces: map[string]*fakeSurface{"https://example.com/": s}}
			handler := HandlerFunc(func(ctx context.Context, s Surface, msg Message) (Outcome, error) {
				return tt.out, tt.err
			})

			res := New(opener, handler, fastConfig(), zap.NewNop()).Process(context.Background(), Request{URL: "https://example.com/"})
			assert.Equal(t, tt.status, res.Status)
			assert.Equal(t, tt.fails, res.Err != nil)
		})
	}
}

func TestDispatchBoundsConcurrentSurfaces(t *testing.T) {
	urls := []string{"https://a.example.com/", "https://b.example.com/", "https://c.example.com/", "https://d.example.com/"}
	opener := &fakeOpener{surfaces: map[string]*fakeSurface{}}
	for i, u := range urls {
		opener.surfaces[u] = newSurface(string(rune('a' + i)))
	}

	var active, peak atomic.Int32
	handler := HandlerFunc(func(ctx context.Context, s Surface, msg Message) (Outcome, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		return Outcome{Status: Submitted}, nil
	})

	cfg := fastConfig()
	cfg.MaxConcurrent = 2
	d := New(opener, handler, cfg, zap.NewNop())

	var got []Result
	done := make(chan struct{})
	go func() {
		for r := range d.Results() {
			got = append(got, r)
		}
		close(done)
	}()

	for _, u := range urls {
		require.NoError(t, d.Dispatch(context.Background(), Request{URL: u}))
	}
	d.Wait()
	<-done

	assert.Len(t, got, len(urls))
	assert.LessOrEqual(t, peak.Load(), int32(2))
	for _, r := range got {
		assert.Equal(t, Submitted, r.Status)
	}
}

func TestDispatchedRequestOutlivesCallerContext(t *testing.T) {
	s := newSurface("tab-1")
	opener := &fakeOpener{surfaces: map[string]*fakeSurface{"https://example.com/": s}}

	release := make(chan struct{})
	handler := HandlerFunc(func(ctx context.Context, s Surface, msg Message) (Outcome, error) {
		<-release
		return Outcome{Status: Submitted}, ctx.Err()
	})

	d := New(opener, handler, fastConfig(), zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, d.Dispatch(ctx, Request{URL: "https://example.com/"}))
	cancel()
	close(release)

	res := <-d.Results()
	assert.Equal(t, Submitted, res.Status)
	assert.NoError(t, res.Err)
	d.Wait()
}

func TestDomain(t *testing.T) {
	assert.Equal(t, "greenhouse.io", Domain("https://boards.greenhouse.io/acme/jobs/1"))
	assert.Equal(t, "localhost", Domain("http://localhost:8080/apply"))
	assert.Equal(t, "", Domain("not a url"))
}
