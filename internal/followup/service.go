package followup

import (
	"context"
	"errors"
	"time"

	"serviceflow_backend/internal/accounts"
	"serviceflow_backend/internal/events"
	"serviceflow_backend/internal/jobber"
	"serviceflow_backend/internal/profile"
	"serviceflow_backend/platform/logger"

	"github.com/google/uuid"
)

// Collaborator interfaces, satisfied by the concrete types wired in main.

type accountResolver interface {
	Resolve(ctx context.Context, jobberAccountID, visitID string) (accounts.Account, error)
}

type tokenSource interface {
	ValidAccessToken(ctx context.Context, account *accounts.Account) (string, error)
}

type visitFetcher interface {
	FetchVisitDetails(ctx context.Context, visitID, accessToken string) (jobber.VisitGraph, error)
}

type profileReader interface {
	GetByAccountID(ctx context.Context, accountID uuid.UUID) (profile.Profile, error)
}

type draftComposer interface {
	Generate(ctx context.Context, input ComposeInput) (Draft, error)
}

type attemptStore interface {
	gateStore
	RecordAttempt(ctx context.Context, attempt *EmailAttempt) error
	VisitProcessed(ctx context.Context, accountID uuid.UUID, visitID string) (bool, error)
	MarkVisitProcessed(ctx context.Context, accountID uuid.UUID, visitID string) error
}

// Service runs the follow-up pipeline for inbound webhook events:
// resolve, deduplicate, fetch, classify, gate, compose, dispatch, record.
type Service struct {
	store      attemptStore
	resolver   accountResolver
	tokens     tokenSource
	fetcher    visitFetcher
	profiles   profileReader
	gate       *SafetyGate
	classifier *Classifier
	composer   draftComposer // nil when AI is not configured
	dispatcher Dispatcher
	bus        events.Bus
	log        *logger.Logger
}

// NewService creates the pipeline service. composer may be nil; every send
// then uses the deterministic template.
func NewService(
	store attemptStore,
	resolver accountResolver,
	tokens tokenSource,
	fetcher visitFetcher,
	profiles profileReader,
	gate *SafetyGate,
	classifier *Classifier,
	composer draftComposer,
	dispatcher Dispatcher,
	bus events.Bus,
	log *logger.Logger,
) *Service {
	return &Service{
		store:      store,
		resolver:   resolver,
		tokens:     tokens,
		fetcher:    fetcher,
		profiles:   profiles,
		gate:       gate,
		classifier: classifier,
		composer:   composer,
		dispatcher: dispatcher,
		bus:        bus,
		log:        log,
	}
}

// Process runs one webhook event through the pipeline and returns the
// terminal result. Errors bubble up only when the caller should see a
// non-200: unresolvable tenants and unexpected internal failures. Everything
// else resolves to a 200 result so the delivery is not retried forever.
func (s *Service) Process(ctx context.Context, event WebhookEvent) (Result, error) {
	account, err := s.resolver.Resolve(ctx, event.AccountID, event.VisitID)
	if err != nil {
		return Result{}, err
	}
	log := &logger.Logger{Logger: s.log.With("account_id", account.JobberAccountID, "visit_id", event.VisitID)}

	// Cheap replay shortcut. The email-scoped attempt log below remains the
	// authoritative duplicate check.
	processed, err := s.store.VisitProcessed(ctx, account.ID, event.VisitID)
	if err != nil {
		return Result{}, err
	}
	if processed {
		log.Info("visit already processed, replay ignored")
		return Result{Status: ResultDuplicate, AccountUsed: account.JobberAccountID}, nil
	}

	visit, degraded := s.fetchVisit(ctx, &account, event.VisitID)

	prof, err := s.profiles.GetByAccountID(ctx, account.ID)
	if err != nil && !errors.Is(err, profile.ErrProfileNotFound) {
		return Result{}, err
	}

	if degraded {
		visit = syntheticVisit(event.VisitID, prof)
	}

	customerEmail := visit.Client.PrimaryEmail()
	if customerEmail == "" {
		// Nothing to send to. Mark the visit so replays don't loop.
		s.record(ctx, &EmailAttempt{
			AccountID:    account.ID,
			VisitID:      event.VisitID,
			JobID:        visit.Job.ID,
			WebhookTopic: event.Topic,
			Status:       StatusFailed,
			ErrorMessage: "visit has no customer email",
		})
		s.markProcessed(ctx, account.ID, event.VisitID)
		log.Warn("visit has no customer email, nothing sent")
		return Result{
			Status:      ResultProcessed,
			JobID:       visit.Job.ID,
			AccountUsed: account.JobberAccountID,
		}, nil
	}

	decision, err := s.gate.Evaluate(ctx, event.Topic, event.VisitID, customerEmail)
	if err != nil {
		return Result{}, err
	}
	if !decision.Allowed {
		return s.blocked(ctx, account, event, visit, customerEmail, decision.BlockReason), nil
	}

	// Composition and dispatch run on a detached context: once we start
	// drafting, a dropped webhook connection must not abandon the send
	// mid-flight.
	pipelineCtx := context.WithoutCancel(ctx)

	classification := s.classifier.Classify(visit.Notes, visit.CompletionTime())
	input := composeInput(prof, visit, classification)

	draft := s.compose(pipelineCtx, input, log)

	dispatch, err := s.dispatcher.Send(pipelineCtx, Message{
		To:      customerEmail,
		ToName:  visit.Client.Name(),
		Subject: draft.Subject,
		Body:    draft.Body,
	})
	if err != nil {
		// Generated but not delivered. The visit stays unmarked so a retry
		// can attempt delivery again.
		s.record(pipelineCtx, &EmailAttempt{
			AccountID:      account.ID,
			VisitID:        event.VisitID,
			JobID:          visit.Job.ID,
			WebhookTopic:   event.Topic,
			CustomerEmail:  customerEmail,
			CustomerName:   visit.Client.Name(),
			Subject:        draft.Subject,
			Status:         StatusFailed,
			AIGenerated:    draft.AIGenerated,
			FallbackData:   degraded,
			ErrorMessage:   err.Error(),
			SandboxSuspect: decision.SandboxSuspect,
		})
		s.publish(pipelineCtx, events.FollowUpDispatchFailed{
			BaseEvent:     events.NewBaseEvent(),
			AccountID:     account.JobberAccountID,
			VisitID:       event.VisitID,
			CustomerEmail: customerEmail,
			ErrorMessage:  err.Error(),
		})
		log.Error("email dispatch failed", "error", err.Error())
		return Result{
			Status:       ResultProcessed,
			JobID:        visit.Job.ID,
			Customer:     visit.Client.Name(),
			AIGenerated:  draft.AIGenerated,
			EmailSent:    false,
			AccountUsed:  account.JobberAccountID,
			FallbackData: degraded,
		}, nil
	}

	attempt := &EmailAttempt{
		AccountID:         account.ID,
		VisitID:           event.VisitID,
		JobID:             visit.Job.ID,
		WebhookTopic:      event.Topic,
		CustomerEmail:     customerEmail,
		CustomerName:      visit.Client.Name(),
		Subject:           draft.Subject,
		Status:            StatusSent,
		AIGenerated:       draft.AIGenerated,
		FallbackData:      degraded,
		ProviderMessageID: dispatch.MessageID,
		SandboxSuspect:    decision.SandboxSuspect,
	}
	if err := s.store.RecordAttempt(pipelineCtx, attempt); err != nil {
		if errors.Is(err, ErrDuplicateAttempt) {
			// A concurrent run won the race at the constraint. Our email went
			// out too, which is exactly what the constraint exists to make
			// rare; report duplicate so the caller stops replaying.
			log.Warn("concurrent duplicate send detected at commit")
			return Result{Status: ResultDuplicate, JobID: visit.Job.ID, AccountUsed: account.JobberAccountID}, nil
		}
		// The email is out; a logging failure must not turn success into a 500.
		s.log.DatabaseError("record sent attempt", err)
	}
	s.markProcessed(pipelineCtx, account.ID, event.VisitID)

	s.publish(pipelineCtx, events.FollowUpEmailSent{
		BaseEvent:     events.NewBaseEvent(),
		AttemptID:     attempt.ID,
		AccountID:     account.JobberAccountID,
		VisitID:       event.VisitID,
		JobID:         visit.Job.ID,
		CustomerEmail: customerEmail,
		AIGenerated:   draft.AIGenerated,
	})
	s.log.WebhookEvent(event.Topic, event.VisitID, "sent")

	return Result{
		Status:       ResultProcessed,
		JobID:        visit.Job.ID,
		Customer:     visit.Client.Name(),
		AIGenerated:  draft.AIGenerated,
		EmailSent:    true,
		AccountUsed:  account.JobberAccountID,
		FallbackData: degraded,
	}, nil
}

// fetchVisit returns the visit graph, or degraded=true when credentials or
// the upstream API fail. Auth failures have already flagged the account by
// the time this returns.
func (s *Service) fetchVisit(ctx context.Context, account *accounts.Account, visitID string) (jobber.VisitGraph, bool) {
	token, err := s.tokens.ValidAccessToken(ctx, account)
	if err != nil {
		s.log.Warn("no usable token, degrading to synthetic snapshot",
			"account_id", account.JobberAccountID, "error", err.Error())
		return jobber.VisitGraph{}, true
	}

	visit, err := s.fetcher.FetchVisitDetails(ctx, visitID, token)
	if err != nil {
		s.log.Warn("visit fetch failed, degrading to synthetic snapshot",
			"visit_id", visitID, "error", err.Error())
		return jobber.VisitGraph{}, true
	}
	return visit, false
}

// syntheticVisit builds the degraded-path snapshot from the provider
// profile. The placeholder address is caught by sandbox detection, so
// degraded sends are visible in the attempt log.
func syntheticVisit(visitID string, prof profile.Profile) jobber.VisitGraph {
	email := prof.ContactEmail
	if email == "" {
		email = "customer@example.com"
	}
	now := time.Now().UTC()
	return jobber.VisitGraph{
		ID:          visitID,
		CompletedAt: &now,
		Job:         jobber.Job{ID: "job-" + visitID},
		Client: jobber.Customer{
			FirstName: "Valued",
			LastName:  "Customer",
			Emails:    []jobber.EmailAddress{{Address: email, Primary: true}},
		},
	}
}

func (s *Service) blocked(ctx context.Context, account accounts.Account, event WebhookEvent, visit jobber.VisitGraph, customerEmail, reason string) Result {
	s.record(ctx, &EmailAttempt{
		AccountID:     account.ID,
		VisitID:       event.VisitID,
		JobID:         visit.Job.ID,
		WebhookTopic:  event.Topic,
		CustomerEmail: customerEmail,
		CustomerName:  visit.Client.Name(),
		Status:        StatusBlocked,
		BlockReason:   reason,
	})
	s.publish(ctx, events.FollowUpBlocked{
		BaseEvent:     events.NewBaseEvent(),
		AccountID:     account.JobberAccountID,
		VisitID:       event.VisitID,
		CustomerEmail: customerEmail,
		Reason:        reason,
	})
	s.log.EmailBlocked(event.VisitID, customerEmail, reason)

	status := ResultBlocked
	if reason == BlockReasonDuplicateVisit {
		status = ResultDuplicate
	}
	return Result{
		Status:      status,
		JobID:       visit.Job.ID,
		Customer:    visit.Client.Name(),
		AccountUsed: account.JobberAccountID,
		BlockReason: reason,
	}
}

func (s *Service) compose(ctx context.Context, input ComposeInput, log *logger.Logger) Draft {
	if s.composer != nil {
		draft, err := s.composer.Generate(ctx, input)
		if err == nil {
			return draft
		}
		log.Warn("composer failed, using fallback template", "error", err.Error())
	}
	return FallbackDraft(input)
}

func composeInput(prof profile.Profile, visit jobber.VisitGraph, cl Classification) ComposeInput {
	visitDate := ""
	if t := visit.CompletionTime(); t != nil {
		visitDate = t.Format("January 2, 2006")
	}
	technician := ""
	if len(visit.AssignedUsers) > 0 {
		technician = visit.AssignedUsers[0]
	}
	return ComposeInput{
		Profile:         prof,
		CustomerName:    visit.Client.Name(),
		JobTitle:        visit.Job.Title,
		Location:        visit.Property.Location(),
		VisitDate:       visitDate,
		Technician:      technician,
		CurrentNotes:    cl.CurrentOrSynthetic(visit.Job.LineItems),
		HistoricalNotes: cl.HistoricalForPrompt(),
	}
}

func (s *Service) record(ctx context.Context, attempt *EmailAttempt) {
	if err := s.store.RecordAttempt(ctx, attempt); err != nil && !errors.Is(err, ErrDuplicateAttempt) {
		s.log.DatabaseError("record email attempt", err)
	}
}

func (s *Service) markProcessed(ctx context.Context, accountID uuid.UUID, visitID string) {
	if err := s.store.MarkVisitProcessed(ctx, accountID, visitID); err != nil {
		s.log.DatabaseError("mark visit processed", err)
	}
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if s.bus != nil {
		s.bus.Publish(ctx, event)
	}
}
