// Package browser implements a reference domain.Executor that drives a
// headless Chrome instance through an application form: a shared
// chromedp ExecAllocator, a per-call task context with a navigation
// timeout, and an acquire/release semaphore bounding parallel browser
// sessions.
package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/autoapply/orchestrator/internal/domain"
)

// Config controls the headless browser pool.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
}

// FieldFiller supplies the value to submit for one encountered field,
// given the effort level in force; it is the seam through which resume
// data, LLM-generated answers, or templates reach the browser executor
// without this package knowing anything about profile storage.
type FieldFiller interface {
	Fill(ctx context.Context, field domain.FieldDescriptor, effort domain.Effort) (value string, source domain.ValueSource, confidence float64, err error)
}

// Executor drives one job application to submission using headless Chrome.
type Executor struct {
	cfg         Config
	filler      FieldFiller
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// New creates a browser-backed Executor.
func New(cfg Config, filler FieldFiller, logger *zap.Logger) (*Executor, error) {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Executor{cfg: cfg, filler: filler, limiter: limiter, allocator: allocCtx, allocCancel: allocCancel, logger: logger}, nil
}

// Close releases the shared browser allocator.
func (e *Executor) Close() { e.allocCancel() }

// RunApplication navigates to the job URL, detects CAPTCHA/login walls,
// fills each discovered field via the FieldFiller, and submits the form.
// It never raises a distinguished exception for CAPTCHA: instead it
// returns ExecutorOutcome{Kind: OutcomeNeedsIntervention}.
func (e *Executor) RunApplication(ctx context.Context, app domain.Application, effort domain.Effort, onEvent domain.EventCallback) (domain.ExecutorOutcome, error) {
	if err := e.acquire(ctx); err != nil {
		return domain.ExecutorOutcome{}, fmt.Errorf("browser: acquire slot: %w", err)
	}
	defer e.release()

	taskCtx, taskCancel := chromedp.NewContext(e.allocator)
	defer taskCancel()
	taskCtx, cancel := context.WithTimeout(taskCtx, e.cfg.NavigationTimeout)
	defer cancel()

	actions := []chromedp.Action{network.Enable()}
	if e.cfg.UserAgent != "" {
		actions = append(actions, emulation.SetUserAgentOverride(e.cfg.UserAgent))
	}
	actions = append(actions, chromedp.Navigate(app.JobURL), chromedp.WaitReady("body", chromedp.ByQuery))
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return domain.ExecutorOutcome{}, fmt.Errorf("browser: navigate %s: %w", app.JobURL, err)
	}

	if captcha, err := e.detectCaptcha(taskCtx); err != nil {
		return domain.ExecutorOutcome{}, fmt.Errorf("browser: detect captcha: %w", err)
	} else if captcha {
		onEvent(domain.EventCaptchaDetected, app.ID, map[string]any{"url": app.JobURL})
		return domain.ExecutorOutcome{Kind: domain.OutcomeNeedsIntervention, InterventionKind: domain.InterventionCaptcha}, nil
	}

	fields, err := e.discoverFields(taskCtx)
	if err != nil {
		return domain.ExecutorOutcome{}, fmt.Errorf("browser: discover fields: %w", err)
	}

	var questions []domain.Question
	for i, field := range fields {
		value, source, confidence, err := e.filler.Fill(ctx, field, effort)
		if err != nil {
			return domain.ExecutorOutcome{Kind: domain.OutcomeFailed, FailureReason: "field_fill_error"}, nil
		}
		if err := e.fillField(taskCtx, field, value); err != nil {
			return domain.ExecutorOutcome{Kind: domain.OutcomeFailed, FailureReason: "field_submit_error"}, nil
		}
		questions = append(questions, domain.Question{
			ApplicationID: app.ID, StepIndex: i, Field: field, Value: value, Source: source, Confidence: confidence,
		})
	}

	twoFactor, err := e.detectTwoFactor(taskCtx)
	if err != nil {
		return domain.ExecutorOutcome{}, fmt.Errorf("browser: detect two-factor: %w", err)
	}
	if twoFactor {
		onEvent(domain.EventTwoFactorRequested, app.ID, nil)
		return domain.ExecutorOutcome{Kind: domain.OutcomeNeedsIntervention, InterventionKind: domain.InterventionTwoFactor, Questions: questions}, nil
	}

	if err := e.submitForm(taskCtx); err != nil {
		return domain.ExecutorOutcome{Kind: domain.OutcomeFailed, FailureReason: "submit_error"}, nil
	}

	return domain.ExecutorOutcome{Kind: domain.OutcomeSubmitted, Questions: questions}, nil
}

func (e *Executor) detectCaptcha(ctx context.Context) (bool, error) {
	var count int
	err := chromedp.Run(ctx, chromedp.EvaluateAsDevTools(
		`document.querySelectorAll('iframe[src*="captcha"], .g-recaptcha, #cf-challenge-running').length`, &count))
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (e *Executor) detectTwoFactor(ctx context.Context) (bool, error) {
	var count int
	err := chromedp.Run(ctx, chromedp.EvaluateAsDevTools(
		`document.querySelectorAll('input[name*="otp"], input[autocomplete="one-time-code"]').length`, &count))
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (e *Executor) discoverFields(ctx context.Context) ([]domain.FieldDescriptor, error) {
	var raw []map[string]any
	script := `Array.from(document.querySelectorAll('input, select, textarea')).map(el => ({
		type: el.tagName.toLowerCase(),
		key: el.name || el.id || '',
		label: (el.labels && el.labels[0] && el.labels[0].innerText) || el.placeholder || '',
		required: el.required === true
	}))`
	if err := chromedp.Run(ctx, chromedp.Evaluate(script, &raw)); err != nil {
		return nil, err
	}
	fields := make([]domain.FieldDescriptor, 0, len(raw))
	for _, r := range raw {
		fields = append(fields, domain.FieldDescriptor{
			Type:          fmt.Sprint(r["type"]),
			NormalizedKey: fmt.Sprint(r["key"]),
			RawLabel:      fmt.Sprint(r["label"]),
			Required:      r["required"] == true,
		})
	}
	return fields, nil
}

func (e *Executor) fillField(ctx context.Context, field domain.FieldDescriptor, value string) error {
	if field.NormalizedKey == "" {
		return nil
	}
	selector := fmt.Sprintf(`[name=%q], #%s`, field.NormalizedKey, field.NormalizedKey)
	return chromedp.Run(ctx, chromedp.SetValue(selector, value, chromedp.ByQueryAll))
}

func (e *Executor) submitForm(ctx context.Context) error {
	return chromedp.Run(ctx, chromedp.Submit(`form`, chromedp.ByQuery))
}

func (e *Executor) acquire(ctx context.Context) error {
	if e.limiter == nil {
		return nil
	}
	select {
	case e.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Executor) release() {
	if e.limiter == nil {
		return
	}
	select {
	case <-e.limiter:
	default:
	}
}
