// Package hygiene implements the Transcript Hygiene sweep (C9): an
// offline routine that prunes short/inactive conversations, dedupes
// exact-duplicate messages, archives abandoned threads, and asks the
// Provider Gateway to retitle conversations still carrying a generic
// title. It never runs on the request path; a caller (cron, CLI) drives
// one Run per sweep.
package hygiene

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/haasonsaas/nexus/internal/orcherr"
	"github.com/haasonsaas/nexus/internal/routing"
	"github.com/haasonsaas/nexus/internal/storage"
	"github.com/haasonsaas/nexus/pkg/models"
)

const (
	defaultPruneEmptyAfter   = time.Hour
	defaultPruneShortAfter   = 24 * time.Hour
	defaultDedupeWindow      = 7 * 24 * time.Hour
	defaultAbandonedAfter    = 24 * time.Hour
	defaultRetitleBatchSize  = 5
	shortConversationMaxSize = 2
	retitleSourceMessages    = 3
	retitleSourceMaxChars    = 1000
)

// genericTitles is the closed set spec.md §4.9 names, plus the one-word
// greeting tokens the expert selector (C4) also treats as simple greetings.
var genericTitles = map[string]struct{}{
	"":                      {},
	"new conversation":      {},
	"untitled conversation": {},
	"hi":                    {},
	"hello":                 {},
	"hey":                   {},
	"yo":                    {},
	"sup":                   {},
}

// Config configures one Runner. Every duration has a spec-mandated
// default and only needs overriding in tests or non-default deployments.
type Config struct {
	Store   storage.Store
	Gateway *routing.Gateway
	Logger  *slog.Logger

	// Now overrides the clock; defaults to time.Now. Tests set this to get
	// deterministic ages without sleeping.
	Now func() time.Time

	// DryRun reports what the sweep would do without mutating storage.
	DryRun bool

	PruneEmptyAfter  time.Duration
	PruneShortAfter  time.Duration
	DedupeWindow     time.Duration
	AbandonedAfter   time.Duration
	RetitleBatchSize int
}

// Report tallies the effect of one Run, whether or not DryRun was set.
type Report struct {
	DryRun            bool
	ConversationsSeen int
	Pruned            int
	Deduped           int
	Archived          int
	Retitled          int
	Errors            []string
}

// Runner executes hygiene sweeps against a fixed Config.
type Runner struct {
	cfg Config
}

// NewRunner builds a Runner, filling in spec-mandated defaults for any
// zero-valued duration/batch-size fields.
func NewRunner(cfg Config) *Runner {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Logger = cfg.Logger.With("component", "hygiene")
	if cfg.PruneEmptyAfter <= 0 {
		cfg.PruneEmptyAfter = defaultPruneEmptyAfter
	}
	if cfg.PruneShortAfter <= 0 {
		cfg.PruneShortAfter = defaultPruneShortAfter
	}
	if cfg.DedupeWindow <= 0 {
		cfg.DedupeWindow = defaultDedupeWindow
	}
	if cfg.AbandonedAfter <= 0 {
		cfg.AbandonedAfter = defaultAbandonedAfter
	}
	if cfg.RetitleBatchSize <= 0 {
		cfg.RetitleBatchSize = defaultRetitleBatchSize
	}
	return &Runner{cfg: cfg}
}

// privilegedCaller is used for every storage call this package makes:
// hygiene operates across every user's conversations, never just one.
var privilegedCaller = storage.Caller{Privileged: true}

// Run executes the four hygiene rules in order (prune, dedupe, archive,
// retitle) and returns a Report. Rules run in this order deliberately:
// pruning first shrinks the working set before the more expensive dedupe
// and retitle passes touch it. Re-running Run is always safe: prune and
// archive only act on conversations still matching their criteria, dedupe
// only ever removes exact duplicates, and retitle is a no-op once a
// conversation's title is no longer generic.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	report := &Report{DryRun: r.cfg.DryRun}

	all, err := r.cfg.Store.ListAllConversations(ctx, privilegedCaller, storage.ListConversationsOptions{})
	if err != nil {
		return nil, err
	}
	report.ConversationsSeen = len(all.Items)
	now := r.cfg.Now()

	remaining := all.Items[:0:0]
	for _, conv := range all.Items {
		messages, err := r.cfg.Store.ListMessages(ctx, privilegedCaller, conv.ID, storage.ListMessagesOptions{})
		if err != nil {
			report.Errors = append(report.Errors, "list messages for "+conv.ID+": "+err.Error())
			continue
		}

		if r.shouldPrune(conv, messages.Items, now) {
			report.Pruned++
			if !r.cfg.DryRun {
				if err := r.prune(ctx, conv, messages.Items); err != nil {
					report.Errors = append(report.Errors, "prune "+conv.ID+": "+err.Error())
				}
			}
			continue
		}
		remaining = append(remaining, conv)
	}

	for _, conv := range remaining {
		messages, err := r.cfg.Store.ListMessages(ctx, privilegedCaller, conv.ID, storage.ListMessagesOptions{})
		if err != nil {
			report.Errors = append(report.Errors, "list messages for "+conv.ID+": "+err.Error())
			continue
		}
		n, err := r.dedupe(ctx, conv, messages.Items, now)
		if err != nil {
			report.Errors = append(report.Errors, "dedupe "+conv.ID+": "+err.Error())
		}
		report.Deduped += n
	}

	for _, conv := range remaining {
		messages, err := r.cfg.Store.ListMessages(ctx, privilegedCaller, conv.ID, storage.ListMessagesOptions{})
		if err != nil {
			report.Errors = append(report.Errors, "list messages for "+conv.ID+": "+err.Error())
			continue
		}
		if r.shouldArchive(conv, messages.Items, now) {
			report.Archived++
			if !r.cfg.DryRun {
				if err := r.cfg.Store.ArchiveConversation(ctx, privilegedCaller, conv.ID, true); err != nil {
					report.Errors = append(report.Errors, "archive "+conv.ID+": "+err.Error())
				}
			}
		}
	}

	retitled, retitleErrs := r.retitleBatch(ctx, remaining)
	report.Retitled += retitled
	report.Errors = append(report.Errors, retitleErrs...)

	return report, nil
}

// shouldPrune implements rule 1: empty conversations older than
// PruneEmptyAfter, or short (<=2 message) conversations untouched for
// PruneShortAfter, as long as they are not archived (archived
// conversations are left to rule 3's disposition, never silently deleted).
func (r *Runner) shouldPrune(conv *models.Conversation, messages []*models.Message, now time.Time) bool {
	if conv.IsArchived {
		return false
	}
	if len(messages) == 0 {
		return now.Sub(conv.CreatedAt) > r.cfg.PruneEmptyAfter
	}
	if len(messages) <= shortConversationMaxSize {
		return now.Sub(conv.UpdatedAt) > r.cfg.PruneShortAfter
	}
	return false
}

func (r *Runner) prune(ctx context.Context, conv *models.Conversation, messages []*models.Message) error {
	for _, m := range messages {
		if err := r.cfg.Store.DeleteMessage(ctx, privilegedCaller, conv.ID, m.ID); err != nil && !orcherr.Is(err, orcherr.NotFound) {
			return err
		}
	}
	return r.cfg.Store.DeleteConversation(ctx, privilegedCaller, conv.ID)
}

// dedupeGroupKey is (role, content); conversation_id is implicit
// since dedupe always operates within a single conversation's messages.
type dedupeGroupKey struct {
	role    models.Role
	content string
}

// dedupe implements rule 2: within DedupeWindow, group messages by
// (role, content), keep the earliest by created_at, delete the rest.
func (r *Runner) dedupe(ctx context.Context, conv *models.Conversation, messages []*models.Message, now time.Time) (int, error) {
	cutoff := now.Add(-r.cfg.DedupeWindow)
	groups := make(map[dedupeGroupKey][]*models.Message)
	for _, m := range messages {
		if m.CreatedAt.Before(cutoff) {
			continue
		}
		key := dedupeGroupKey{role: m.Role, content: m.Content}
		groups[key] = append(groups[key], m)
	}

	removed := 0
	for _, group := range groups {
		if len(group) < 2 {
			continue
		}
		sort.Slice(group, func(i, j int) bool { return group[i].CreatedAt.Before(group[j].CreatedAt) })
		for _, dup := range group[1:] {
			removed++
			if r.cfg.DryRun {
				continue
			}
			if err := r.cfg.Store.DeleteMessage(ctx, privilegedCaller, conv.ID, dup.ID); err != nil && !orcherr.Is(err, orcherr.NotFound) {
				return removed, err
			}
		}
	}
	return removed, nil
}

// shouldArchive implements rule 3: generic-titled, short, inactive
// conversations get archived rather than deleted, so a user who returns
// to an abandoned thread still finds it (in the archive) instead of it
// having vanished.
func (r *Runner) shouldArchive(conv *models.Conversation, messages []*models.Message, now time.Time) bool {
	if conv.IsArchived {
		return false
	}
	if !isGenericTitle(conv.Title) {
		return false
	}
	if len(messages) > shortConversationMaxSize {
		return false
	}
	return now.Sub(conv.UpdatedAt) > r.cfg.AbandonedAfter
}

func isGenericTitle(title string) bool {
	_, ok := genericTitles[normalizeTitle(title)]
	return ok
}
