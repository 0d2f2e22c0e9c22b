package agentsession

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/latticehq/minionrt/internal/agentresolver"
	"github.com/latticehq/minionrt/internal/chatdriver"
	"github.com/latticehq/minionrt/internal/diffbundle"
	"github.com/latticehq/minionrt/internal/errutil"
	"github.com/latticehq/minionrt/internal/history"
	"github.com/latticehq/minionrt/internal/idutil"
	"github.com/latticehq/minionrt/internal/logging"
	"github.com/latticehq/minionrt/internal/minion"
	"github.com/latticehq/minionrt/internal/pipeline"
	"github.com/latticehq/minionrt/internal/stream"
)

// fileEditToolPattern matches the tool names whose tool-call-end should
// trigger a post-compaction state refresh.
var fileEditToolPattern = regexp.MustCompile(`^file_edit_.*`)

// turnOutcome is how one streamWithHistory invocation concluded, captured
// off whichever terminal event arrived for this minion's stream.
type turnOutcome struct {
	event stream.Event
}

// Session is AgentSession for one minion.
type Session struct {
	minionID string
	driver   chatdriver.ChatDriver
	history  *history.Store
	resolver *agentresolver.Resolver
	dataRoot string
	logger   logging.Logger

	opts Options

	// sendMu serializes sendMessage calls for this minion: the public
	// contract is "queues (default) or rejects"; blocking
	// on this mutex implements the queuing option.
	sendMu sync.Mutex

	mu        sync.Mutex
	disposed  bool
	listeners []stream.Listener
	turnDone  chan turnOutcome
}

// New constructs a Session for minionID, wired to driver's stream events.
func New(minionID string, driver chatdriver.ChatDriver, historyStore *history.Store, resolver *agentresolver.Resolver, dataRoot string, logger logging.Logger, opts Options) *Session {
	s := &Session{
		minionID: minionID,
		driver:   driver,
		history:  historyStore,
		resolver: resolver,
		dataRoot: dataRoot,
		logger:   logging.OrNop(logger),
		opts:     opts,
	}
	driver.Subscribe(s)
	return s
}

// Subscribe registers an external listener for this session's own stream
// events (httpapi, tests). Distinct from the driver-level subscription
// New already performed.
func (s *Session) Subscribe(l stream.Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}
	s.listeners = append(s.listeners, l)
}

// OnEvent implements stream.Listener. It is registered once, process-wide,
// against the shared ChatDriver, so every event for every minion passes
// through here; events for other minions are dropped immediately.
func (s *Session) OnEvent(event stream.Event) {
	if event.MinionID != s.minionID {
		return
	}

	s.mu.Lock()
	disposed := s.disposed
	listeners := append([]stream.Listener(nil), s.listeners...)
	s.mu.Unlock()
	if disposed {
		return
	}

	for _, l := range listeners {
		l.OnEvent(event)
	}

	if event.Kind == stream.EventToolCallEnd && fileEditToolPattern.MatchString(event.ToolName) {
		if s.opts.OnPostCompactionStateChange != nil {
			s.opts.OnPostCompactionStateChange(s.minionID)
		}
	}

	switch event.Kind {
	case stream.EventStreamEnd, stream.EventError, stream.EventStreamAbort:
		s.mu.Lock()
		ch := s.turnDone
		s.mu.Unlock()
		if ch != nil {
			select {
			case ch <- turnOutcome{event: event}:
			default:
			}
		}
	}
}

// Dispose removes this session's own listeners. Idempotent. It cannot
// literally unsubscribe from the shared ChatDriver (stream.Manager exposes
// no Unsubscribe), so OnEvent keeps being invoked but becomes a silent
// no-op once disposed is set.
func (s *Session) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disposed = true
	s.listeners = nil
}

func (s *Session) minionDir() string {
	return filepath.Join(s.dataRoot, s.minionID)
}

// buildEditedParts implements the preserve-vs-clear-image-parts rule: when
// fileParts is nil (omitted), any PartFile parts already on target are
// carried over; when non-nil, fileParts (even empty) replaces them outright.
func buildEditedParts(text string, fileParts *[]minion.Part, target minion.Message) []minion.Part {
	parts := []minion.Part{{Kind: minion.PartText, Text: text}}
	if fileParts == nil {
		for _, p := range target.Parts {
			if p.Kind == minion.PartFile {
				parts = append(parts, p)
			}
		}
		return parts
	}
	parts = append(parts, *fileParts...)
	return parts
}

func findMessage(messages []minion.Message, id string) (minion.Message, int, bool) {
	for i, m := range messages {
		if m.ID == id {
			return m, i, true
		}
	}
	return minion.Message{}, -1, false
}

// SendMessage appends a user message (or, with EditMessageID set and found,
// rewrites history from that point forward) and starts a new turn.
func (s *Session) SendMessage(ctx context.Context, text string, opts SendOptions) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if s.opts.OnMessageQueued != nil {
		s.opts.OnMessageQueued(s.minionID, true)
	}
	defer func() {
		if s.opts.OnMessageQueued != nil {
			s.opts.OnMessageQueued(s.minionID, false)
		}
	}()

	if opts.EditMessageID != "" {
		messages, err := s.history.GetHistoryFromLatestBoundary(s.minionID)
		if err != nil {
			return fmt.Errorf("agentsession: load history for edit: %w", err)
		}
		if target, idx, found := findMessage(messages, opts.EditMessageID); found {
			edited := minion.Message{
				ID:       idutil.New(),
				Role:     minion.RoleUser,
				Parts:    buildEditedParts(text, opts.FileParts, target),
				Metadata: minion.Metadata{Timestamp: time.Now()},
			}
			if idx == 0 {
				if err := s.history.ClearHistory(s.minionID); err != nil {
					return fmt.Errorf("agentsession: clear history for edit: %w", err)
				}
			} else if err := s.history.TruncateAfterMessage(s.minionID, messages[idx-1].ID); err != nil {
				return fmt.Errorf("agentsession: truncate history for edit: %w", err)
			}
			if _, err := s.history.Append(s.minionID, edited); err != nil {
				return fmt.Errorf("agentsession: append edited message: %w", err)
			}
			return s.streamWithHistory(ctx, opts.AdditionalSystemInstructions)
		}
		// Missing edit target: treated as a no-op for the edit behavior —
		// fall through to a plain append below.
	}

	msg := minion.Message{
		ID:       idutil.New(),
		Role:     minion.RoleUser,
		Parts:    []minion.Part{{Kind: minion.PartText, Text: text}},
		Metadata: minion.Metadata{Timestamp: time.Now()},
	}
	if _, err := s.history.Append(s.minionID, msg); err != nil {
		return fmt.Errorf("agentsession: append message: %w", err)
	}

	return s.streamWithHistory(ctx, opts.AdditionalSystemInstructions)
}

// ResumeStream continues an interrupted turn: fails if history is empty,
// else re-derives the boundary-sliced payload and streams it again.
func (s *Session) ResumeStream(ctx context.Context) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	messages, err := s.history.GetHistoryFromLatestBoundary(s.minionID)
	if err != nil {
		return fmt.Errorf("agentsession: load history: %w", err)
	}
	if len(messages) == 0 {
		return errors.New(errHistoryEmptyMsg)
	}
	return s.streamWithHistory(ctx, "")
}

// streamWithHistory reads boundary-sliced history, attaches any pending
// post-compaction diff, starts the stream, and blocks until it concludes,
// applying the context-exceeded recovery ladder on failure. Only the
// turn's first context_exceeded gets a recovery attempt; attempt
// tracks which call this is within that one turn.
func (s *Session) streamWithHistory(ctx context.Context, additionalSystemInstructions string) error {
	return s.runTurn(ctx, additionalSystemInstructions, true, 0)
}

func (s *Session) runTurn(ctx context.Context, additionalSystemInstructions string, allowPostCompactionAttachment bool, attempt int) error {
	messages, err := s.history.GetHistoryFromLatestBoundary(s.minionID)
	if err != nil {
		return fmt.Errorf("agentsession: load history: %w", err)
	}

	var attachment *pipeline.PostCompactionAttachment
	if allowPostCompactionAttachment {
		bundle, loadErr := diffbundle.Load(s.minionDir())
		if loadErr != nil {
			s.logger.Warn("agentsession: load post-compaction bundle minionId=%s: %v", s.minionID, loadErr)
		} else {
			attachment = diffbundle.CombineForAttachment(bundle)
		}
	}

	outcome, err := s.startAndAwait(ctx, chatdriver.StreamMessageInput{
		MinionID:                     s.minionID,
		Messages:                     messages,
		Provider:                     s.opts.Provider,
		ThinkingLevel:                s.opts.ThinkingLevel,
		AdditionalSystemInstructions: additionalSystemInstructions,
		PostCompactionAttachment:     attachment,
		PromptCacheKey:               s.opts.PromptCacheKeyPrefix,
	})
	if err != nil {
		return err
	}

	if outcome.event.Kind != stream.EventError {
		return nil
	}
	if errutil.Kind(outcome.event.ErrorType) != errutil.KindContextExceeded {
		return fmt.Errorf("agentsession: stream error: %s", outcome.event.ErrorMessage)
	}
	if attempt > 0 {
		return fmt.Errorf("agentsession: context exceeded again in the same turn: %s", outcome.event.ErrorMessage)
	}

	return s.recoverContextExceeded(ctx, outcome.event, attachment != nil, messages)
}

func (s *Session) startAndAwait(ctx context.Context, in chatdriver.StreamMessageInput) (turnOutcome, error) {
	done := make(chan turnOutcome, 1)
	s.mu.Lock()
	s.turnDone = done
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.turnDone == done {
			s.turnDone = nil
		}
		s.mu.Unlock()
	}()

	if _, err := s.driver.StreamMessage(ctx, in); err != nil {
		return turnOutcome{}, fmt.Errorf("agentsession: start stream: %w", err)
	}

	select {
	case outcome := <-done:
		return outcome, nil
	case <-ctx.Done():
		return turnOutcome{}, ctx.Err()
	}
}

// recoverContextExceeded implements the first-occurrence recovery
// ladder: drop the failed placeholder, then either retry once without
// post-compaction attachments (if one was present) or fall back to the
// exec-sidekick hard restart. Only ever called for attempt 0's failure —
// runTurn itself refuses to recurse here a second time.
func (s *Session) recoverContextExceeded(ctx context.Context, errEvent stream.Event, hadAttachment bool, turnMessages []minion.Message) error {
	if err := s.history.DeleteMessage(s.minionID, errEvent.MessageID); err != nil {
		s.logger.Warn("agentsession: delete failed placeholder minionId=%s messageId=%s: %v", s.minionID, errEvent.MessageID, err)
	}
	if err := s.history.DeletePartial(s.minionID); err != nil {
		s.logger.Warn("agentsession: delete partial minionId=%s: %v", s.minionID, err)
	}

	if hadAttachment {
		if err := diffbundle.Discard(s.minionDir()); err != nil {
			s.logger.Warn("agentsession: discard post-compaction bundle minionId=%s: %v", s.minionID, err)
		}
		return s.runTurn(ctx, "", false, 1)
	}

	m, ok := s.driver.GetMinionMetadata(s.minionID)
	if !ok || !m.IsSidekick() || !s.opts.Experiments.ExecSidekickHardRestart {
		return fmt.Errorf("agentsession: context exceeded: %s", errEvent.ErrorMessage)
	}
	execLike, err := s.resolver.IsExecLike(ctx, m.AgentID)
	if err != nil || !execLike {
		return fmt.Errorf("agentsession: context exceeded: %s", errEvent.ErrorMessage)
	}

	return s.execSidekickHardRestart(ctx, turnMessages)
}

// execSidekickHardRestart wipes history, inserts a synthetic continuity
// notice, replays the turn's preserved snapshot and seed messages (the
// conversation as it stood going into the failed turn) in original order,
// then retries once with the notice text also carried as
// additionalSystemInstructions.
func (s *Session) execSidekickHardRestart(ctx context.Context, turnMessages []minion.Message) error {
	const noticeText = "This session was restarted after exceeding its context window; continuing from a clean history."

	if err := s.history.ClearHistory(s.minionID); err != nil {
		return fmt.Errorf("agentsession: clear history for hard restart: %w", err)
	}

	notice := minion.Message{
		ID:    idutil.New(),
		Role:  minion.RoleSystem,
		Parts: []minion.Part{{Kind: minion.PartText, Text: noticeText}},
		Metadata: minion.Metadata{
			Timestamp: time.Now(),
			Synthetic: true,
			UIVisible: true,
		},
	}
	if _, err := s.history.Append(s.minionID, notice); err != nil {
		return fmt.Errorf("agentsession: append restart notice: %w", err)
	}

	for _, preserved := range turnMessages {
		if _, err := s.history.Append(s.minionID, preserved); err != nil {
			return fmt.Errorf("agentsession: append preserved message: %w", err)
		}
	}

	return s.runTurn(ctx, noticeText, false, 1)
}
