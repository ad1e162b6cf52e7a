package run

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
	"go.uber.org/zap"

	"github.com/spigell/autoapply/internal/ai"
	"github.com/spigell/autoapply/internal/boards"
	"github.com/spigell/autoapply/internal/dispatch"
	"github.com/spigell/autoapply/internal/dom"
	"github.com/spigell/autoapply/internal/external"
	"github.com/spigell/autoapply/internal/filtering"
	"github.com/spigell/autoapply/internal/fill"
	"github.com/spigell/autoapply/internal/form"
	"github.com/spigell/autoapply/internal/history"
	"github.com/spigell/autoapply/internal/jobs"
	"github.com/spigell/autoapply/internal/listing"
	"github.com/spigell/autoapply/internal/retry"
	"github.com/spigell/autoapply/internal/sections"
	"github.com/spigell/autoapply/internal/utils"
)

const (
	// PayloadDescription carries the job description to an external surface.
	PayloadDescription = "description"

	modalPoll = 250 * time.Millisecond
)

// board is the state of one board in a run. Only the goroutine running the
// board touches it.
type board struct {
	ctrl   *Controller
	name   string
	runID  string
	limit  int
	cmd    Command
	logger *zap.Logger

	adapter *boards.Adapter
	page    dispatch.Surface
	kit     *Kit
	chain   *filtering.Chain
	engine  *listing.Engine
	disp    *dispatch.Dispatcher

	applied  int
	inFlight int
	tokens   int
	pending  map[string]*jobs.Job
}

func (b *board) run(ctx context.Context) boardResult {
	adapter, err := b.ctrl.deps.Adapters(b.name)
	if err != nil {
		return boardResult{state: Failed, err: err}
	}
	b.adapter = adapter
	b.pending = make(map[string]*jobs.Job)

	if t := b.ctrl.cfg.BoardTimeout; t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	err = b.setup(ctx)
	if err == nil {
		var sum listing.Summary
		sum, err = b.engine.Traverse(ctx, b.visit)
		b.logger.Info("listing traversal ended",
			zap.Int("pages", sum.Pages),
			zap.Int("visited", sum.Visited),
			zap.Bool("exhausted", sum.Exhausted),
		)
	}

	b.drain()
	if b.chain != nil {
		b.chain.LogSummary(b.logger)
	}
	if b.page != nil {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if cerr := b.page.Close(cctx); cerr != nil {
			b.logger.Warn("closing the listing surface failed", zap.Error(cerr))
		}
		cancel()
	}

	state := stateOf(ctx, b.applied, b.limit, err)
	if state == RateLimited || state == TimeExceeded {
		err = nil
	}
	return boardResult{state: state, applied: b.applied, tokens: b.tokens, err: err}
}

func (b *board) setup(ctx context.Context) error {
	deps, cfg := b.ctrl.deps, b.ctrl.cfg

	address := b.adapter.ListingURL(b.cmd.Profile, b.cmd.Filters)
	b.logger.Info("opening job listing", zap.String("url", address))
	page, err := deps.Opener.Open(ctx, address)
	if err != nil {
		return fmt.Errorf("open listing: %w", err)
	}
	b.page = page

	dcfg := cfg.Dispatch.WithDefaults()
	if err := dispatch.WaitReady(ctx, page, dcfg.LoadTimeout, dcfg.LoadPoll); err != nil {
		return fmt.Errorf("listing: %w", err)
	}

	fcfg := cfg.Fill
	fcfg.Dates = b.adapter.Dates
	b.kit = &Kit{Profile: b.cmd.Profile, Oracle: deps.Oracle, Fill: fcfg, Logger: b.logger}

	b.chain, err = filtering.NewChain(&deps.Filters, filtering.Deps{
		History:   deps.History,
		Oracle:    deps.Oracle,
		Logger:    b.logger,
		Applicant: b.cmd.Profile.Summary(),
	}, deps.Steps())
	if err != nil {
		return fmt.Errorf("filters: %w", err)
	}

	b.engine = listing.New(page, b.adapter.Listing, cfg.Listing, b.logger)

	session := external.New(func(p dom.Page, msg dispatch.Message) *fill.Auto {
		return b.tailored(msg.Payload[PayloadDescription]).Auto(p, nil)
	}, deps.Oracle, cfg.External, b.logger)
	b.disp = dispatch.New(deps.Opener, session, cfg.Dispatch, b.logger)
	return nil
}

// visit handles one card. Problems with a single job are logged and the
// traversal goes on; only a finished context ends it.
func (b *board) visit(ctx context.Context, card listing.Card) (listing.Decision, error) {
	b.collect(false)
	for b.applied < b.limit && b.applied+b.inFlight >= b.limit {
		b.collect(true)
	}
	if b.applied >= b.limit {
		b.logger.Info("board limit reached", zap.Int("limit", b.limit))
		return listing.Stop, nil
	}

	err := b.handle(ctx, card)
	if err == nil {
		return listing.Continue, nil
	}
	if ctx.Err() != nil {
		return listing.Stop, ctx.Err()
	}
	b.logger.Warn("job skipped after an error",
		zap.Int("page", card.Page),
		zap.Int("index", card.Index),
		zap.Error(err),
	)
	return listing.Continue, nil
}

func (b *board) handle(ctx context.Context, card listing.Card) error {
	job, err := b.readCard(ctx, card)
	if err != nil {
		return err
	}
	log := b.logger.With(zap.String("job_id", job.ID), zap.String("title", job.Title))

	if err := b.openJob(ctx, card, job); err != nil {
		return fmt.Errorf("open job %s: %w", job.ID, err)
	}

	verdict, err := b.chain.Run(ctx, job)
	b.tokens += verdict.Tokens
	if err != nil {
		return fmt.Errorf("filter job %s: %w", job.ID, err)
	}
	if !verdict.Pass {
		if _, err := b.engine.Dismiss(ctx, card); err != nil {
			log.Debug("dismissing the card failed", zap.Error(err))
		}
		return nil
	}

	if job.EasyApply && b.adapter.Mode == boards.InPage {
		return b.applyInPage(ctx, job, log)
	}
	if job.ApplyURL == "" {
		log.Info("job has no application address")
		return nil
	}
	return b.dispatch(ctx, job, log)
}

func (b *board) readCard(ctx context.Context, card listing.Card) (*jobs.Job, error) {
	sel := b.adapter.Card
	job := &jobs.Job{Board: b.name}

	if sel.JobIDAttr != "" {
		id, err := b.page.Attr(ctx, card.Ref, sel.JobIDAttr)
		if err != nil {
			return nil, err
		}
		job.ID = strings.TrimSpace(id)
	}
	if job.ID == "" {
		href, err := b.page.Attr(ctx, card.Ref+" "+sel.Link, "href")
		if err != nil {
			return nil, fmt.Errorf("card link: %w", err)
		}
		job.ID = b.adapter.JobID(href)
	}
	if job.ID == "" {
		return nil, fmt.Errorf("card %d of page %d has no job id", card.Index, card.Page)
	}

	job.Title = b.optionalText(ctx, card.Ref+" "+sel.Title)
	job.Company = b.optionalText(ctx, card.Ref+" "+sel.Company)
	if sel.Applied != "" {
		badge := b.optionalText(ctx, card.Ref+" "+sel.Applied)
		job.Applied = strings.Contains(strings.ToLower(badge), "applied")
	}
	job.URL = b.adapter.ViewURL(job.ID)
	return job, nil
}

// openJob shows the job in the detail pane and completes the record from it.
func (b *board) openJob(ctx context.Context, card listing.Card, job *jobs.Job) error {
	if err := b.page.Click(ctx, card.Ref+" "+b.adapter.Card.Link); err != nil {
		return err
	}
	if err := utils.WaitFor(ctx, b.ctrl.cfg.Settle); err != nil {
		return err
	}

	if t := b.optionalText(ctx, b.adapter.DetailTitle); t != "" {
		job.Title = t
	}
	if c := b.optionalText(ctx, b.adapter.DetailCompany); c != "" {
		job.Company = c
	}
	job.Description = b.description(ctx)

	apply := b.adapter.Apply
	text := strings.ToLower(b.optionalText(ctx, apply.Button))
	job.EasyApply = apply.EasyText != "" && strings.Contains(text, apply.EasyText)

	switch {
	case job.EasyApply:
	case b.adapter.Mode == boards.OutOfFlow:
		job.ApplyURL = job.URL
	default:
		for _, attr := range []string{"href", "data-apply-url"} {
			if v, err := b.page.Attr(ctx, apply.Button, attr); err == nil && v != "" {
				job.ApplyURL = v
				break
			}
		}
	}
	return nil
}

// description joins the labelled detail blocks of the job. Without any of
// them the readable text of the whole page is used.
func (b *board) description(ctx context.Context) string {
	var parts []string
	for _, part := range b.adapter.Description {
		text := b.optionalText(ctx, part.Selector)
		if text == "" {
			continue
		}
		parts = append(parts, part.Label+":\n"+text)
	}
	if len(parts) > 0 {
		return strings.Join(parts, "\n\n")
	}

	html, err := b.page.HTML(ctx)
	if err != nil {
		return ""
	}
	var base *url.URL
	if loc, err := b.page.Location(ctx); err == nil {
		base, _ = url.Parse(loc)
	}
	article, err := readability.FromReader(strings.NewReader(html), base)
	if err != nil {
		b.logger.Debug("readable text extraction failed", zap.Error(err))
		return ""
	}
	return strings.TrimSpace(article.TextContent)
}

func (b *board) applyInPage(ctx context.Context, job *jobs.Job, log *zap.Logger) error {
	apply := b.adapter.Apply
	if err := b.page.Click(ctx, apply.Button); err != nil {
		return fmt.Errorf("apply button: %w", err)
	}
	if err := b.waitFor(ctx, apply.Modal, b.ctrl.cfg.ApplyWait); err != nil {
		return fmt.Errorf("application form: %w", err)
	}

	kit := b.tailored(job.Description)
	auto := kit.Auto(b.page, b.adapter.Resume)
	ctrl := sections.New(auto, b.adapter.Sections, b.ctrl.cfg.Settle, log)
	res, err := form.New(auto, ctrl, kit.Entries(), b.adapter.Form, b.ctrl.cfg.Form, log).Run(ctx)
	b.tokens += res.Stats.Tokens
	if err != nil {
		b.closeModal(ctx, log)
		return fmt.Errorf("application form: %w", err)
	}

	log.Info("application form ended",
		zap.Stringer("outcome", res.Outcome),
		zap.Int("pages", len(res.Pages)),
		zap.Int("filled", res.Stats.Filled),
	)
	b.closeModal(ctx, log)
	if res.Outcome != form.Submitted {
		return nil
	}

	b.applied++
	b.record(ctx, job, "", string(dispatch.Submitted))
	return nil
}

func (b *board) dispatch(ctx context.Context, job *jobs.Job, log *zap.Logger) error {
	req := dispatch.Request{
		Board:   b.name,
		JobID:   job.ID,
		URL:     job.ApplyURL,
		Payload: map[string]string{PayloadDescription: job.Description},
	}
	if err := b.disp.Dispatch(ctx, req); err != nil {
		return err
	}
	b.inFlight++
	b.pending[job.Key()] = job
	log.Info("application handed to an external surface", zap.String("url", job.ApplyURL))
	return nil
}

// collect takes finished dispatches. With block set it waits for one.
func (b *board) collect(block bool) {
	for b.inFlight > 0 {
		if block {
			b.complete(<-b.disp.Results())
			return
		}
		select {
		case res := <-b.disp.Results():
			b.complete(res)
		default:
			return
		}
	}
}

func (b *board) drain() {
	if b.disp == nil {
		return
	}
	for b.inFlight > 0 {
		b.collect(true)
	}
	b.disp.Wait()
}

func (b *board) complete(res dispatch.Result) {
	b.inFlight--
	b.tokens += res.Stats.Tokens

	key := (&jobs.Job{Board: res.Board, ID: res.JobID}).Key()
	job, ok := b.pending[key]
	delete(b.pending, key)
	if !ok {
		job = &jobs.Job{Board: res.Board, ID: res.JobID, URL: res.URL}
	}

	if !res.Status.Applied() {
		return
	}
	b.applied++
	b.record(context.Background(), job, res.Domain, string(res.Status))
}

func (b *board) record(ctx context.Context, job *jobs.Job, domain, status string) {
	store := b.ctrl.deps.History
	if store == nil {
		return
	}
	err := store.Record(context.WithoutCancel(ctx), history.Entry{
		Board:     job.Board,
		JobID:     job.ID,
		Title:     job.Title,
		Company:   job.Company,
		URL:       job.URL,
		Domain:    domain,
		Status:    status,
		RunID:     b.runID,
		AppliedAt: time.Now().UTC(),
	})
	if err != nil {
		b.logger.Error("recording the application failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func (b *board) closeModal(ctx context.Context, log *zap.Logger) {
	sel := b.adapter.Apply.Close
	if sel == "" {
		return
	}
	ok, err := b.page.Exists(ctx, sel)
	if err != nil || !ok {
		return
	}
	if err := b.page.Click(ctx, sel); err != nil {
		log.Debug("closing the application failed", zap.Error(err))
	}
}

// waitFor polls until selector exists or timeout passes.
func (b *board) waitFor(ctx context.Context, selector string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = modalPoll
	}
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	attempts := int(timeout/modalPoll) + 1
	return retry.Do(wctx, retry.Fixed(attempts, modalPoll), func(ctx context.Context, _ int) error {
		ok, err := b.page.Exists(ctx, selector)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s: %w", selector, dom.ErrNotFound)
		}
		return nil
	})
}

func (b *board) optionalText(ctx context.Context, selector string) string {
	if strings.TrimSpace(selector) == "" {
		return ""
	}
	text, err := b.page.Text(ctx, selector)
	if err != nil {
		if !errors.Is(err, dom.ErrNotFound) {
			b.logger.Debug("reading text failed", zap.String("selector", selector), zap.Error(err))
		}
		return ""
	}
	return text
}

// tailored returns the kit whose oracle sees description as the job the
// answers are for.
func (b *board) tailored(description string) *Kit {
	if !b.cmd.TailorResume || b.kit.Oracle == nil || description == "" {
		return b.kit
	}
	k := *b.kit
	k.Oracle = withJob{next: b.kit.Oracle, description: description}
	return &k
}

// withJob adds the job description to questions asked without context.
type withJob struct {
	next        ai.Oracle
	description string
}

func (w withJob) Classify(ctx context.Context, q ai.Query) (ai.Answer, error) {
	if q.Context == "" {
		q.Context = "Job description:\n" + w.description
	}
	return w.next.Classify(ctx, q)
}
