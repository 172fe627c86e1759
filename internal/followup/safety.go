package followup

import (
	"context"
	_ "embed"
	"regexp"
	"strings"
	"time"

	"serviceflow_backend/platform/logger"

	"gopkg.in/yaml.v3"
)

//go:embed topic_policy.yaml
var topicPolicyYAML []byte

// Rate limit: at this many attempts to one address inside the trailing hour,
// further sends are blocked.
const (
	rateLimitMax    = 3
	rateLimitWindow = time.Hour
)

// Addresses that look like fixtures or sandbox data. Detection is recorded
// on the attempt but never blocks: a real customer may have an odd-looking
// address, and a false positive must not cost them their email.
var sandboxEmailPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)@example\.(com|org|net)$`),
	regexp.MustCompile(`(?i)^test[_.+\-@]`),
	regexp.MustCompile(`(?i)^(mock|fake|demo|sandbox)[_.+\-@]`),
	regexp.MustCompile(`(?i)@mailinator\.com$`),
}

// TopicPolicy is a closed allow-list over webhook topics. Unknown topics are
// denied by default.
type TopicPolicy struct {
	Allow []string `yaml:"allow"`
	Deny  []string `yaml:"deny"`
}

// LoadTopicPolicy parses the embedded policy file.
func LoadTopicPolicy() (TopicPolicy, error) {
	var p TopicPolicy
	if err := yaml.Unmarshal(topicPolicyYAML, &p); err != nil {
		return TopicPolicy{}, err
	}
	return p, nil
}

// Allowed reports whether a topic may trigger a send.
func (p TopicPolicy) Allowed(topic string) bool {
	for _, t := range p.Allow {
		if strings.EqualFold(t, topic) {
			return true
		}
	}
	return false
}

// Denied reports whether a topic is on the explicit deny list. Blocking does
// not depend on it (anything not allowed is blocked); it distinguishes
// known-denied topics from unknown ones in logs.
func (p TopicPolicy) Denied(topic string) bool {
	for _, t := range p.Deny {
		if strings.EqualFold(t, topic) {
			return true
		}
	}
	return false
}

// Decision is the safety gate's verdict for one candidate send.
type Decision struct {
	Allowed        bool
	BlockReason    string
	SandboxSuspect bool
}

// gateStore is the slice of the repository the gate needs.
type gateStore interface {
	AlreadySent(ctx context.Context, visitID, customerEmail string) (bool, error)
	CountRecentAttempts(ctx context.Context, customerEmail string, window time.Duration) (int, error)
}

// SafetyGate is the last check before the irreversible send.
type SafetyGate struct {
	store  gateStore
	policy TopicPolicy
	log    *logger.Logger
}

// NewSafetyGate creates the gate with the embedded topic policy.
func NewSafetyGate(store gateStore, policy TopicPolicy, log *logger.Logger) *SafetyGate {
	return &SafetyGate{store: store, policy: policy, log: log}
}

// Evaluate runs the checks in fixed order and short-circuits on the first
// block: duplicate, then topic policy, then rate limit. Sandbox detection
// runs last and only annotates the decision. The duplicate check runs first
// so a replayed delivery always reports duplicate no matter what else is
// wrong with it.
func (g *SafetyGate) Evaluate(ctx context.Context, topic, visitID, customerEmail string) (Decision, error) {
	sent, err := g.store.AlreadySent(ctx, visitID, customerEmail)
	if err != nil {
		return Decision{}, err
	}
	if sent {
		return Decision{BlockReason: BlockReasonDuplicateVisit}, nil
	}

	if !g.policy.Allowed(topic) {
		if g.policy.Denied(topic) {
			g.log.Debug("topic denied by policy", "topic", topic)
		} else {
			g.log.Warn("unknown topic denied", "topic", topic)
		}
		return Decision{BlockReason: BlockReasonInvalidTopic}, nil
	}

	count, err := g.store.CountRecentAttempts(ctx, customerEmail, rateLimitWindow)
	if err != nil {
		return Decision{}, err
	}
	if count >= rateLimitMax {
		return Decision{BlockReason: BlockReasonRateLimit}, nil
	}

	return Decision{Allowed: true, SandboxSuspect: IsSandboxEmail(customerEmail)}, nil
}

// IsSandboxEmail reports whether an address matches a known fixture pattern.
func IsSandboxEmail(email string) bool {
	for _, p := range sandboxEmailPatterns {
		if p.MatchString(email) {
			return true
		}
	}
	return false
}
