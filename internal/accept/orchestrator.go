// Package accept implements the acceptance command pipeline: parsing the
// chat utterance, resolving requirement names to records, carrying referenced
// attachments and links, and mutating records to the accepted state.
package accept

import (
	"context"
	"log/slog"
	"time"

	"github.com/miniplay/acceptbot/internal/bitable"
	"github.com/miniplay/acceptbot/internal/command"
	"github.com/miniplay/acceptbot/internal/dedup"
	"github.com/miniplay/acceptbot/internal/im"
	"github.com/miniplay/acceptbot/internal/project"
)

// senderTypeApp marks messages authored by an app/bot sender, including this
// bot's own replies.
const senderTypeApp = "app"

type recordAccepter interface {
	Accept(ctx context.Context, proj project.Project, recordID string, patch bitable.AcceptPatch) error
}

type messenger interface {
	GetMessage(ctx context.Context, messageID string) (*im.Referenced, error)
	Reply(ctx context.Context, messageID, text string) error
}

type payloadExtractor interface {
	Attachments(ctx context.Context, proj project.Project, ref *im.Referenced) []bitable.Attachment
	Links(ref *im.Referenced) []bitable.Link
}

// InboundEvent is one delivered message event, already decoded from the
// transport envelope.
type InboundEvent struct {
	MessageID  string
	ChatID     string
	ParentID   string
	Text       string
	SenderType string
	CreatedAt  time.Time
}

// Orchestrator drives one inbound event from gate checks to the single
// consolidated reply. Events are processed synchronously start to finish; the
// dedup set is the only state shared across events.
type Orchestrator struct {
	logger    *slog.Logger
	registry  *project.Registry
	resolver  *Resolver
	store     recordAccepter
	extractor payloadExtractor
	messenger messenger
	events    *dedup.Set
	staleness time.Duration
}

func NewOrchestrator(
	log *slog.Logger,
	registry *project.Registry,
	resolver *Resolver,
	store recordAccepter,
	extractor payloadExtractor,
	msgr messenger,
	events *dedup.Set,
	staleness time.Duration,
) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		logger:    log.With(slog.String("component", "accept")),
		registry:  registry,
		resolver:  resolver,
		store:     store,
		extractor: extractor,
		messenger: msgr,
		events:    events,
		staleness: staleness,
	}
}

// HandleEvent is the top-level boundary for one delivered event. Gate checks
// run first: stale events and the bot's own messages are dropped silently,
// and redelivered event ids are rejected by the dedup set. Any panic below is
// caught and logged so the transport can still acknowledge receipt; a
// redelivery caused by a reported failure would only duplicate side effects.
func (o *Orchestrator) HandleEvent(ctx context.Context, ev InboundEvent) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("event handling panicked",
				slog.String("message_id", ev.MessageID),
				slog.Any("panic", r),
			)
		}
	}()

	if o.staleness > 0 && !ev.CreatedAt.IsZero() && time.Since(ev.CreatedAt) > o.staleness {
		o.logger.Info("stale event dropped",
			slog.String("message_id", ev.MessageID),
			slog.Time("created_at", ev.CreatedAt),
		)
		return
	}
	if ev.SenderType == senderTypeApp {
		o.logger.Debug("own message dropped", slog.String("message_id", ev.MessageID))
		return
	}
	if !o.events.Admit(ev.MessageID) {
		o.logger.Info("duplicate event dropped", slog.String("message_id", ev.MessageID))
		return
	}

	o.handle(ctx, ev)
}

func (o *Orchestrator) handle(ctx context.Context, ev InboundEvent) {
	cmd, ok := command.Parse(ev.Text, o.registry.Names())
	if !ok {
		return
	}
	o.logger.Info("acceptance command received",
		slog.String("message_id", ev.MessageID),
		slog.String("chat_id", ev.ChatID),
		slog.String("project_hint", cmd.ProjectHint),
		slog.Int("requirements", len(cmd.Requirements)),
	)
	if len(cmd.Requirements) == 0 {
		o.reply(ctx, ev.MessageID, replyNoRequirement)
		return
	}

	// Scope: explicit qualifier beats the chat binding. An unknown qualifier
	// aborts the whole event; an unbound chat means global search.
	var scope *project.Project
	if cmd.ProjectHint != "" {
		proj, found := o.registry.ByName(cmd.ProjectHint)
		if !found {
			o.reply(ctx, ev.MessageID, replyUnknownProject(cmd.ProjectHint, o.registry.Names()))
			return
		}
		scope = &proj
	} else if proj, found := o.registry.ByChat(ev.ChatID); found {
		scope = &proj
	}

	var ref *im.Referenced
	if ev.ParentID != "" {
		fetched, err := o.messenger.GetMessage(ctx, ev.ParentID)
		if err != nil {
			o.logger.Warn("fetch referenced message failed",
				slog.String("parent_id", ev.ParentID),
				slog.Any("error", err),
			)
		} else {
			ref = fetched
		}
	}

	// Links are extracted once and shared across every requirement;
	// attachments are re-extracted per resolved requirement because the
	// upload targets that project's storage.
	links := o.extractor.Links(ref)
	var firstLink *bitable.Link
	if len(links) > 0 {
		firstLink = &links[0]
	}

	outcomes := make([]Outcome, 0, len(cmd.Requirements))
	totalAttachments := 0
	for _, requirement := range cmd.Requirements {
		outcome := o.processRequirement(ctx, scope, requirement, ref, firstLink, &totalAttachments)
		outcomes = append(outcomes, outcome)
	}

	o.reply(ctx, ev.MessageID, composeReply(outcomes, totalAttachments, len(links)))
}

// processRequirement resolves and mutates one requirement name. One item's
// failure never short-circuits its siblings.
func (o *Orchestrator) processRequirement(
	ctx context.Context,
	scope *project.Project,
	requirement string,
	ref *im.Referenced,
	link *bitable.Link,
	totalAttachments *int,
) Outcome {
	var proj project.Project
	var record *bitable.Record

	if scope != nil {
		proj = *scope
		record = o.resolver.FindScoped(ctx, proj, requirement)
	} else {
		matches := o.resolver.FindAll(ctx, requirement)
		switch len(matches) {
		case 0:
		case 1:
			proj = matches[0].Project
			record = matches[0].Record
		default:
			names := make([]string, 0, len(matches))
			for _, m := range matches {
				names = append(names, m.Project.Name)
			}
			return Outcome{Requirement: requirement, Kind: OutcomeAmbiguous, Collisions: names}
		}
	}

	if record == nil {
		o.logger.Info("requirement not found", slog.String("requirement", requirement))
		return Outcome{Requirement: requirement, Kind: OutcomeMissing}
	}

	attachments := o.extractor.Attachments(ctx, proj, ref)
	*totalAttachments += len(attachments)

	patch := bitable.AcceptPatch{Attachments: attachments, Link: link}
	if err := o.store.Accept(ctx, proj, record.ID, patch); err != nil {
		o.logger.Error("accept failed",
			slog.String("project", proj.Name),
			slog.String("requirement", requirement),
			slog.Any("error", err),
		)
		return Outcome{Requirement: requirement, Kind: OutcomeUpdateFailed}
	}
	return Outcome{Requirement: requirement, Kind: OutcomeAccepted, Project: proj.Name}
}

func (o *Orchestrator) reply(ctx context.Context, messageID, text string) {
	if err := o.messenger.Reply(ctx, messageID, text); err != nil {
		o.logger.Error("reply failed", slog.String("message_id", messageID), slog.Any("error", err))
	}
}
