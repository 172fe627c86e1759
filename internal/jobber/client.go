package jobber

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
	"time"

	"serviceflow_backend/platform/apperr"
	"serviceflow_backend/platform/config"
	"serviceflow_backend/platform/logger"
)

// Synthetic identifiers used by local tooling and sandboxes. They are
// rejected before any network call so a stray test webhook can never hit the
// production API.
var testIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^test_`),
	regexp.MustCompile(`(?i)^mock_`),
	regexp.MustCompile(`(?i)^dev_`),
	regexp.MustCompile(`(?i)^demo_`),
	regexp.MustCompile(`(?i)^test\d+$`),
	regexp.MustCompile(`(?i)fake`),
}

// IsTestVisitID reports whether an identifier matches a known synthetic pattern.
func IsTestVisitID(id string) bool {
	for _, p := range testIDPatterns {
		if p.MatchString(id) {
			return true
		}
	}
	return false
}

const visitQuery = `
query VisitDetails($visitId: EncodedId!) {
  visit(id: $visitId) {
    id
    title
    completedAt
    endAt
    job {
      id
      jobNumber
      title
      lineItems {
        nodes { name description }
      }
      notes {
        nodes {
          ... on JobNote { message createdAt }
        }
      }
    }
    client {
      id
      firstName
      lastName
      emails { address primary }
    }
    property {
      address { street city province postalCode }
    }
    assignedUsers {
      nodes { name { full } }
    }
  }
}`

const visitExistsQuery = `
query VisitExists($visitId: EncodedId!) {
  visit(id: $visitId) { id }
}`

// Client calls the field-service platform's GraphQL API.
type Client struct {
	cfg    config.JobberConfig
	log    *logger.Logger
	client *http.Client
}

// NewClient creates a client with a 30 second request timeout.
func NewClient(cfg config.JobberConfig, log *logger.Logger) *Client {
	return &Client{
		cfg:    cfg,
		log:    log,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

type graphQLError struct {
	Message string `json:"message"`
}

type visitResponse struct {
	Data struct {
		Visit *visitPayload `json:"visit"`
	} `json:"data"`
	Errors []graphQLError `json:"errors"`
}

type visitPayload struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	CompletedAt *string `json:"completedAt"`
	EndAt       *string `json:"endAt"`
	Job         struct {
		ID        string `json:"id"`
		JobNumber int    `json:"jobNumber"`
		Title     string `json:"title"`
		LineItems struct {
			Nodes []struct {
				Name        string `json:"name"`
				Description string `json:"description"`
			} `json:"nodes"`
		} `json:"lineItems"`
		Notes struct {
			Nodes []struct {
				Message   string `json:"message"`
				CreatedAt string `json:"createdAt"`
			} `json:"nodes"`
		} `json:"notes"`
	} `json:"job"`
	Client struct {
		ID        string `json:"id"`
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
		Emails    []struct {
			Address string `json:"address"`
			Primary bool   `json:"primary"`
		} `json:"emails"`
	} `json:"client"`
	Property struct {
		Address struct {
			Street     string `json:"street"`
			City       string `json:"city"`
			Province   string `json:"province"`
			PostalCode string `json:"postalCode"`
		} `json:"address"`
	} `json:"property"`
	AssignedUsers struct {
		Nodes []struct {
			Name struct {
				Full string `json:"full"`
			} `json:"name"`
		} `json:"nodes"`
	} `json:"assignedUsers"`
}

// FetchVisitDetails retrieves the full visit snapshot for the pipeline.
func (c *Client) FetchVisitDetails(ctx context.Context, visitID, accessToken string) (VisitGraph, error) {
	if IsTestVisitID(visitID) {
		return VisitGraph{}, apperr.BadRequest("synthetic visit id rejected: " + visitID)
	}

	var result visitResponse
	if err := c.post(ctx, visitQuery, visitID, accessToken, &result); err != nil {
		return VisitGraph{}, err
	}
	if err := classifyErrors(result.Errors); err != nil {
		return VisitGraph{}, err
	}
	if result.Data.Visit == nil {
		return VisitGraph{}, apperr.NotFound("visit not found: " + visitID)
	}

	return toVisitGraph(*result.Data.Visit), nil
}

// VisitExists probes whether the given credentials can see a visit. A
// not-found or invalid-id answer is a clean "no", anything else is an error
// the caller decides how to treat.
func (c *Client) VisitExists(ctx context.Context, visitID, accessToken string) (bool, error) {
	if IsTestVisitID(visitID) {
		return false, nil
	}

	var result visitResponse
	if err := c.post(ctx, visitExistsQuery, visitID, accessToken, &result); err != nil {
		return false, err
	}
	if err := classifyErrors(result.Errors); err != nil {
		if apperr.Is(err, apperr.KindNotFound) || apperr.Is(err, apperr.KindBadRequest) {
			return false, nil
		}
		return false, err
	}
	return result.Data.Visit != nil, nil
}

func (c *Client) post(ctx context.Context, query, visitID, accessToken string, out *visitResponse) error {
	payload, _ := json.Marshal(map[string]interface{}{
		"query":     query,
		"variables": map[string]string{"visitId": visitID},
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.GetJobberGraphQLURL(), bytes.NewReader(payload))
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "build graphql request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("X-JOBBER-GRAPHQL-VERSION", c.cfg.GetJobberGraphQLVersion())

	resp, err := c.client.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.KindUpstream, "graphql request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized:
		return apperr.Unauthorized("graphql request unauthorized")
	default:
		return apperr.Upstream("graphql endpoint returned " + resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.Wrap(apperr.KindUpstream, "decode graphql response", err)
	}
	return nil
}

// classifyErrors distinguishes an invalid identifier from other API failures
// so the pipeline can fail closed on bad ids but degrade on outages.
func classifyErrors(errs []graphQLError) error {
	if len(errs) == 0 {
		return nil
	}
	msg := errs[0].Message
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "invalid") && strings.Contains(lower, "id") {
		return apperr.BadRequest("invalid visit id: " + msg)
	}
	if strings.Contains(lower, "not found") || strings.Contains(lower, "does not exist") {
		return apperr.NotFound(msg)
	}
	return apperr.Upstream("graphql error: " + msg)
}

func toVisitGraph(p visitPayload) VisitGraph {
	v := VisitGraph{
		ID:          p.ID,
		Title:       p.Title,
		CompletedAt: parseTimePtr(p.CompletedAt),
		EndAt:       parseTimePtr(p.EndAt),
		Job: Job{
			ID:        p.Job.ID,
			JobNumber: p.Job.JobNumber,
			Title:     p.Job.Title,
		},
		Client: Customer{
			ID:        p.Client.ID,
			FirstName: p.Client.FirstName,
			LastName:  p.Client.LastName,
		},
		Property: Property{
			Street:     p.Property.Address.Street,
			City:       p.Property.Address.City,
			Province:   p.Property.Address.Province,
			PostalCode: p.Property.Address.PostalCode,
		},
	}

	for _, li := range p.Job.LineItems.Nodes {
		v.Job.LineItems = append(v.Job.LineItems, LineItem{Name: li.Name, Description: li.Description})
	}
	for _, n := range p.Job.Notes.Nodes {
		if strings.TrimSpace(n.Message) == "" {
			continue
		}
		v.Notes = append(v.Notes, Note{Message: n.Message, CreatedAt: n.CreatedAt})
	}
	for _, e := range p.Client.Emails {
		v.Client.Emails = append(v.Client.Emails, EmailAddress{Address: e.Address, Primary: e.Primary})
	}
	for _, u := range p.AssignedUsers.Nodes {
		if u.Name.Full != "" {
			v.AssignedUsers = append(v.AssignedUsers, u.Name.Full)
		}
	}

	return v
}

func parseTimePtr(raw *string) *time.Time {
	if raw == nil || *raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, *raw)
	if err != nil {
		return nil
	}
	return &t
}
