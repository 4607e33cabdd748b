package ask

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/convocore/pkg/session"
	"github.com/go-go-golems/convocore/pkg/timeline"
)

const (
	DefaultMinDelay         = 2 * time.Second
	DefaultFragmentDelay    = 2 * time.Second
	DefaultMaxMessageLength = 4096
)

var (
	ErrInFlight  = errors.New("ask: a previous turn is still in flight")
	ErrNoSession = errors.New("ask: no active session")
	ErrStopped   = errors.New("ask: pipeline stopped")
)

// Sessions resolves the backend session a turn is sent to. *session.Manager implements it.
type Sessions interface {
	Current() (session.Descriptor, bool)
}

// Dispatcher receives the command declared by an assistant message. *commands.Dispatcher
// implements it.
type Dispatcher interface {
	DispatchSpec(ctx context.Context, spec timeline.CommandSpec, origin timeline.Message)
}

type Options struct {
	HideUserEcho        bool
	WaitForAllResponses bool
	OptionID            string
}

type Config struct {
	Store        *timeline.Store
	Sessions     Sessions
	Dispatcher   Dispatcher
	Conversation *Conversation

	// MinDelay is the minimum time the first placeholder stays visible.
	MinDelay time.Duration
	// FragmentDelay paces every fragment after the first.
	FragmentDelay time.Duration
	// MaxMessageLength is a limit in runes; 0 disables it.
	MaxMessageLength int
}

type Pipeline struct {
	store        *timeline.Store
	sessions     Sessions
	dispatcher   Dispatcher
	conversation *Conversation

	minDelay      time.Duration
	fragmentDelay time.Duration
	maxLength     int

	inFlight atomic.Bool

	// mu orders Stop against goroutine registration so Wait never races an Add.
	mu   sync.Mutex
	done chan struct{}
	wg   sync.WaitGroup
}

func NewPipeline(cfg Config) (*Pipeline, error) {
	if cfg.Store == nil {
		return nil, errors.New("ask: timeline store is nil")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("ask: session source is nil")
	}
	if cfg.MinDelay < 0 || cfg.FragmentDelay < 0 || cfg.MaxMessageLength < 0 {
		return nil, errors.New("ask: negative delay or length limit")
	}
	conv := cfg.Conversation
	if conv == nil {
		conv = &Conversation{}
	}
	return &Pipeline{
		store:         cfg.Store,
		sessions:      cfg.Sessions,
		dispatcher:    cfg.Dispatcher,
		conversation:  conv,
		minDelay:      cfg.MinDelay,
		fragmentDelay: cfg.FragmentDelay,
		maxLength:     cfg.MaxMessageLength,
		done:          make(chan struct{}),
	}, nil
}

func (p *Pipeline) Conversation() *Conversation { return p.conversation }

// InFlight reports whether a turn currently holds the single-flight guard.
func (p *Pipeline) InFlight() bool { return p.inFlight.Load() }

// Stop discards the results of any running turn and rejects further turns. The backend call
// itself is not aborted.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.stopped() {
		close(p.done)
	}
}

// track registers a pipeline goroutine. It fails once the pipeline is stopped.
func (p *Pipeline) track() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped() {
		return false
	}
	p.wg.Add(1)
	return true
}

// Wait blocks until every goroutine started by the pipeline has returned.
func (p *Pipeline) Wait() { p.wg.Wait() }

func (p *Pipeline) stopped() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Ask runs one user turn. Blank text is ignored. A second call while a turn is running fails
// with ErrInFlight without touching the timeline. Backend failures are written to the timeline
// as a request-error pair and returned.
func (p *Pipeline) Ask(ctx context.Context, text string, opts Options) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if p.stopped() {
		return ErrStopped
	}
	if !p.inFlight.CompareAndSwap(false, true) {
		return ErrInFlight
	}
	release := true
	defer func() {
		if release {
			p.inFlight.Store(false)
		}
	}()

	logger := log.With().Str("component", "ask").Logger()

	if p.maxLength > 0 && utf8.RuneCountInString(text) > p.maxLength {
		logger.Debug().Int("limit", p.maxLength).Msg("message too long")
		p.append(logger, timeline.NewSystem(timeline.KindMessageTooLong, strconv.Itoa(p.maxLength)))
		return nil
	}

	if !opts.HideUserEcho {
		p.append(logger, timeline.UserMessage{Base: timeline.NewBase(), Text: text})
	}
	placeholder := timeline.NewPlaceholder()
	p.append(logger, placeholder)

	resp, err := p.send(ctx, logger, text, opts)
	if err != nil {
		if errors.Is(err, ErrStopped) {
			return err
		}
		p.fail(logger, placeholder.ID, err)
		return err
	}

	t := &turn{p: p, logger: logger, usage: toUsage(resp.Usage)}
	if resp.Empty() {
		p.store.ReplaceByID(placeholder.ID, timeline.NewSystem(timeline.KindEmptyResponse))
		return nil
	}
	t.resolve(ctx, placeholder.ID, resp.Fragments[0], true)
	rest := resp.Fragments[1:]
	if len(rest) == 0 {
		return nil
	}
	if opts.WaitForAllResponses {
		return t.finish(ctx, rest)
	}

	tailCtx := context.WithoutCancel(ctx)
	if !p.track() {
		return ErrStopped
	}
	// the guard stays held until the tail is rendered
	release = false
	go func() {
		defer p.wg.Done()
		defer p.inFlight.Store(false)
		_ = t.finish(tailCtx, rest)
	}()
	return nil
}

// finish renders the fragments after the first. A failure while pacing them ends the turn
// with the request-error pair, like a failed send.
func (t *turn) finish(ctx context.Context, rest []session.Fragment) error {
	err := t.expand(ctx, rest)
	if err != nil && !errors.Is(err, ErrStopped) {
		t.p.fail(t.logger, "", err)
	}
	return err
}

type sendResult struct {
	resp *session.Response
	err  error
}

// send calls the backend and waits for both the reply and the minimum delay. A failed call
// returns immediately.
func (p *Pipeline) send(ctx context.Context, logger zerolog.Logger, text string, opts Options) (*session.Response, error) {
	d, ok := p.sessions.Current()
	if !ok || d.Session == nil {
		return nil, ErrNoSession
	}
	sess := d.Session

	timer := time.NewTimer(p.minDelay)
	defer timer.Stop()

	convID := p.conversation.ID()
	if convID == "" {
		conv, err := sess.CreateNewConversation(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "ask: create conversation")
		}
		p.conversation.Set(conv.ID)
		convID = conv.ID
		logger.Debug().Str("conversation_id", convID).Str("model_id", d.ModelID).Msg("conversation created")
	}

	results := make(chan sendResult, 1)
	if !p.track() {
		return nil, ErrStopped
	}
	go func() {
		defer p.wg.Done()
		resp, err := sess.SendMessage(ctx, convID, text, session.SendOptions{OptionID: opts.OptionID})
		results <- sendResult{resp: resp, err: err}
	}()

	var res sendResult
	select {
	case res = <-results:
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "ask: waiting for backend")
	case <-p.done:
		return nil, ErrStopped
	}
	if res.err != nil {
		return nil, errors.Wrapf(res.err, "ask: send to model %s", d.ModelID)
	}

	select {
	case <-timer.C:
	case <-ctx.Done():
	case <-p.done:
		return nil, ErrStopped
	}
	return res.resp, nil
}

// fail writes the request-error pair. placeholderID is removed first unless empty.
func (p *Pipeline) fail(logger zerolog.Logger, placeholderID string, err error) {
	logger.Error().Err(err).Msg("turn failed")
	if placeholderID != "" {
		p.store.RemoveByID(placeholderID)
	}
	p.append(logger, timeline.NewSystem(timeline.KindRequestError))
	p.append(logger, timeline.NewBanner(timeline.KindRequestError))
}

func (p *Pipeline) append(logger zerolog.Logger, m timeline.Message) {
	if p.stopped() {
		return
	}
	if err := p.store.Append(m); err != nil {
		logger.Error().Err(err).Msg("append to timeline")
	}
}

// sleep waits d unless the pipeline stops first.
func (p *Pipeline) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "ask: pacing fragments")
	case <-p.done:
		return ErrStopped
	}
}
