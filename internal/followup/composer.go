package followup

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"serviceflow_backend/internal/profile"
	"serviceflow_backend/platform/ai/grok"
	"serviceflow_backend/platform/config"

	"github.com/google/uuid"
	"google.golang.org/adk/agent"
	"google.golang.org/adk/agent/llmagent"
	"google.golang.org/adk/runner"
	"google.golang.org/adk/session"
	"google.golang.org/genai"
)

// ComposeInput is everything the composer knows about one visit.
type ComposeInput struct {
	Profile         profile.Profile
	CustomerName    string
	JobTitle        string
	Location        string
	VisitDate       string
	Technician      string
	CurrentNotes    []string
	HistoricalNotes []string
}

// Draft is a composed email ready for dispatch.
type Draft struct {
	Subject     string
	Body        string
	AIGenerated bool
}

const composerAppName = "followup-composer"

// Composer drafts follow-up emails with an LLM agent. Generate fails with an
// error rather than returning a partial draft; the caller falls back to the
// deterministic template.
type Composer struct {
	agent          agent.Agent
	runner         *runner.Runner
	sessionService session.Service
	runMu          sync.Mutex
}

// NewComposer creates the email composer agent without tools.
func NewComposer(cfg config.AIConfig) (*Composer, error) {
	model := grok.NewModel(grok.Config{
		APIKey:      cfg.GetGrokAPIKey(),
		BaseURL:     cfg.GetGrokBaseURL(),
		Model:       cfg.GetGrokModel(),
		Temperature: cfg.GetGrokTemperature(),
	})

	adkAgent, err := llmagent.New(llmagent.Config{
		Name:        "FollowUpComposer",
		Model:       model,
		Description: "Drafts warm, concise customer follow-up emails after completed service visits.",
		Instruction: composerSystemPrompt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create composer agent: %w", err)
	}

	sessionService := session.InMemoryService()
	r, err := runner.New(runner.Config{
		AppName:        composerAppName,
		Agent:          adkAgent,
		SessionService: sessionService,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create composer runner: %w", err)
	}

	return &Composer{
		agent:          adkAgent,
		runner:         r,
		sessionService: sessionService,
	}, nil
}

const composerSystemPrompt = "You write short follow-up emails from a home service business to its customer after a completed visit. " +
	"Warm, professional, specific to the work performed. Never invent work that is not in the notes. " +
	"Start the output with a line 'Subject: ...' followed by the email body."

// Generate drafts an email for the visit. The draft is never blank: an empty
// completion is treated as a failure so the fallback template takes over.
func (c *Composer) Generate(ctx context.Context, input ComposeInput) (Draft, error) {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	sessionID := uuid.New().String()
	userID := "composer-" + sessionID

	_, err := c.sessionService.Create(ctx, &session.CreateRequest{
		AppName:   composerAppName,
		UserID:    userID,
		SessionID: sessionID,
	})
	if err != nil {
		return Draft{}, fmt.Errorf("composer: create session: %w", err)
	}
	defer func() {
		_ = c.sessionService.Delete(ctx, &session.DeleteRequest{
			AppName:   composerAppName,
			UserID:    userID,
			SessionID: sessionID,
		})
	}()

	userMessage := &genai.Content{
		Role:  "user",
		Parts: []*genai.Part{{Text: buildComposerPrompt(input)}},
	}

	runConfig := agent.RunConfig{StreamingMode: agent.StreamingModeNone}

	var outputText strings.Builder
	for event, err := range c.runner.Run(ctx, userID, sessionID, userMessage, runConfig) {
		if err != nil {
			return Draft{}, fmt.Errorf("composer: run failed: %w", err)
		}
		if event.Content == nil {
			continue
		}
		for _, part := range event.Content.Parts {
			outputText.WriteString(part.Text)
		}
	}

	raw := strings.TrimSpace(outputText.String())
	if raw == "" {
		return Draft{}, fmt.Errorf("composer: empty completion")
	}

	subject, body := splitSubject(raw)
	if subject == "" {
		subject = defaultSubject(input.Profile.CompanyName)
	}
	return Draft{Subject: subject, Body: body, AIGenerated: true}, nil
}

var subjectLine = regexp.MustCompile(`(?i)^subject:\s*(.+)$`)

// splitSubject extracts a leading "Subject:" line from the completion.
func splitSubject(raw string) (subject, body string) {
	lines := strings.SplitN(raw, "\n", 2)
	if m := subjectLine.FindStringSubmatch(strings.TrimSpace(lines[0])); m != nil {
		subject = strings.TrimSpace(m[1])
		if len(lines) > 1 {
			body = strings.TrimSpace(lines[1])
		}
		return subject, body
	}
	return "", raw
}

func defaultSubject(companyName string) string {
	if companyName != "" {
		return "Thank you from " + companyName
	}
	return "Thank you for your recent service visit"
}

// Service-type-specific guidance keyed by keywords in the job title and line
// items. Closed table; anything unmatched gets the default branch.
var serviceTypeGuidance = map[string]string{
	"plumb":    "Mention that the customer should reach out right away if they notice any leaks or pressure issues.",
	"hvac":     "Suggest seasonal maintenance and remind them to replace filters regularly.",
	"electric": "Remind the customer to contact you immediately about any flickering, warm outlets, or tripped breakers.",
	"roof":     "Mention that the work is weather-tested and invite them to call after the next heavy storm if anything looks off.",
	"landscap": "Mention simple upkeep the customer can do between visits.",
	"clean":    "Mention how to keep the results lasting longer between visits.",
	"pest":     "Remind the customer that activity may briefly increase before it stops, and when to expect full results.",
	"gutter":   "Suggest a recurring cleaning schedule before the rainy season.",
}

// Checked in this order so a title matching two keys resolves the same way
// every run.
var serviceTypeKeys = []string{"plumb", "hvac", "electric", "roof", "landscap", "gutter", "clean", "pest"}

const defaultServiceGuidance = "Thank the customer for their business and invite questions about the work performed."

// guidanceFor picks the service-type guidance from the closed table.
func guidanceFor(jobTitle string, currentNotes []string) string {
	haystack := strings.ToLower(jobTitle + " " + strings.Join(currentNotes, " "))
	for _, key := range serviceTypeKeys {
		if strings.Contains(haystack, key) {
			return serviceTypeGuidance[key]
		}
	}
	return defaultServiceGuidance
}

func buildComposerPrompt(input ComposeInput) string {
	p := input.Profile

	var b strings.Builder
	b.WriteString("Business profile:\n")
	writeField(&b, "Company", p.CompanyName)
	writeField(&b, "About", p.Description)
	writeField(&b, "Tone of voice", p.ToneOfVoice)
	writeField(&b, "Services", p.ServiceDetails)
	writeField(&b, "What sets us apart", p.UniqueSellingPoints)
	writeField(&b, "Local expertise", p.LocalExpertise)
	if p.YearsInBusiness > 0 {
		writeField(&b, "Years in business", fmt.Sprintf("%d", p.YearsInBusiness))
	}

	b.WriteString("\nVisit:\n")
	writeField(&b, "Customer", input.CustomerName)
	writeField(&b, "Job", input.JobTitle)
	writeField(&b, "Location", input.Location)
	writeField(&b, "Date", input.VisitDate)
	writeField(&b, "Technician", input.Technician)

	b.WriteString("\nWork performed today:\n")
	for _, n := range input.CurrentNotes {
		b.WriteString("- " + n + "\n")
	}
	if len(input.HistoricalNotes) > 0 {
		b.WriteString("\nEarlier work on this job (context only, do not present as today's work):\n")
		for _, n := range input.HistoricalNotes {
			b.WriteString("- " + n + "\n")
		}
	}

	b.WriteString("\nGuidance: " + guidanceFor(input.JobTitle, input.CurrentNotes) + "\n")
	b.WriteString("\nWrite the follow-up email now. Keep it under 150 words. " +
		"Sign off as the company, not an individual, unless an owner name is given in the profile.")

	return b.String()
}

func writeField(b *strings.Builder, label, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	b.WriteString("- " + label + ": " + value + "\n")
}

// =============================================================================
// Deterministic fallback template
// =============================================================================

var ownerNamePattern = regexp.MustCompile(`(?:[Oo]wner|[Ff]ounded by|[Rr]un by|[Ll]ed by)[,:\s]+([A-Z][a-z]+(?:\s[A-Z][a-z]+)?)`)

// FallbackDraft renders the deterministic template used when the AI composer
// is unavailable or fails. Output is never blank.
func FallbackDraft(input ComposeInput) Draft {
	p := input.Profile

	company := p.CompanyName
	if company == "" {
		company = "our team"
	}

	greeting := "Hello"
	if input.CustomerName != "" {
		greeting = "Hello " + firstName(input.CustomerName)
	}

	var b strings.Builder
	b.WriteString(greeting + ",\n\n")
	b.WriteString("Thank you for choosing " + company + ". We have completed your recent service visit")
	if input.Location != "" {
		b.WriteString(" at " + input.Location)
	}
	b.WriteString(".\n\n")

	if len(input.CurrentNotes) > 0 {
		b.WriteString("Summary of the work:\n")
		for _, n := range input.CurrentNotes {
			b.WriteString("- " + n + "\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("If you have any questions about the work, or if anything doesn't look right, just reply to this email")
	if p.ContactPhone != "" {
		b.WriteString(" or call us at " + p.ContactPhone)
	}
	b.WriteString(".\n\n")
	b.WriteString(signature(p))

	return Draft{
		Subject: defaultSubject(p.CompanyName),
		Body:    b.String(),
	}
}

// signature assembles the sign-off from profile fields, with a best-effort
// owner name pulled out of the free-form description.
func signature(p profile.Profile) string {
	var lines []string
	lines = append(lines, "Best regards,")

	if owner := extractOwnerName(p.Description); owner != "" {
		lines = append(lines, owner)
	}
	if p.CompanyName != "" {
		lines = append(lines, p.CompanyName)
	}
	if p.ContactPhone != "" {
		lines = append(lines, p.ContactPhone)
	}
	if p.Website != "" {
		lines = append(lines, p.Website)
	}

	return strings.Join(lines, "\n")
}

func extractOwnerName(description string) string {
	m := ownerNamePattern.FindStringSubmatch(description)
	if m == nil {
		return ""
	}
	return m[1]
}

func firstName(full string) string {
	parts := strings.Fields(full)
	if len(parts) == 0 {
		return full
	}
	return parts[0]
}
