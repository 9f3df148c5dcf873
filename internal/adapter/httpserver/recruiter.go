package httpserver

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/httprate"

	"github.com/Ugoplus/smartcvnaija/internal/domain"
	"github.com/Ugoplus/smartcvnaija/pkg/textx"
)

const (
	// recruiterPostLimit caps free job posts per client address per window.
	recruiterPostLimit  = 5
	recruiterPostWindow = time.Hour

	// recruiterSource tags rows from the public form so scraper refreshes
	// never collide with them.
	recruiterSource = "free_website_form"

	// recruiterListingTTL is how long a free post stays searchable.
	recruiterListingTTL = 30 * 24 * time.Hour
)

// RecruiterRateLimit caps public job posts per client. The client IP is
// salted and hashed before it becomes a limiter key so raw addresses never
// reach the shared store or its logs.
func RecruiterRateLimit(salt string) func(http.Handler) http.Handler {
	return httprate.Limit(recruiterPostLimit, recruiterPostWindow,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			ip, err := httprate.KeyByIP(r)
			if err != nil {
				return "", err
			}
			sum := sha256.Sum256([]byte(salt + ip))
			return hex.EncodeToString(sum[:16]), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, r, fmt.Errorf("%w: too many job posts from this address, try again later", domain.ErrRateLimited), nil)
		}),
	)
}

// postJobRequest is the public recruiter form. Fields are sanitized before
// validation so markup never counts toward minimum lengths.
type postJobRequest struct {
	Title        string `json:"title" validate:"required,min=4,max=120"`
	Company      string `json:"company" validate:"required,min=2,max=120"`
	Email        string `json:"email" validate:"required,email,max=254"`
	Location     string `json:"location" validate:"max=120"`
	State        string `json:"state" validate:"required,max=40"`
	Category     string `json:"category" validate:"required,max=60"`
	Description  string `json:"description" validate:"required,min=30,max=5000"`
	Requirements string `json:"requirements" validate:"max=3000"`
	Experience   string `json:"experience" validate:"max=200"`
	Deadline     string `json:"deadline" validate:"omitempty,datetime=2006-01-02"`
	Remote       bool   `json:"remote"`
}

func (p *postJobRequest) sanitize() {
	p.Title = textx.StripHTML(p.Title)
	p.Company = textx.StripHTML(p.Company)
	p.Email = strings.TrimSpace(p.Email)
	p.Location = textx.StripHTML(p.Location)
	p.State = textx.StripHTML(p.State)
	p.Category = strings.TrimSpace(p.Category)
	p.Description = textx.StripHTML(p.Description)
	p.Requirements = textx.StripHTML(p.Requirements)
	p.Experience = textx.StripHTML(p.Experience)
	p.Deadline = strings.TrimSpace(p.Deadline)
}

// PostJobHandler publishes a recruiter-submitted vacancy. The form accepts
// JSON or classic form encoding, enforces the closed state and category
// tables, and notifies the operator mailbox on every accepted post.
func (s *Server) PostJobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decodePostJob(w, r)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		req.sanitize()

		if err := getValidator().Struct(req); err != nil {
			writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), fieldErrors(err))
			return
		}

		j := domain.JobListing{
			Title:        req.Title,
			Company:      req.Company,
			Email:        strings.ToLower(req.Email),
			Location:     req.Location,
			Description:  req.Description,
			Requirements: req.Requirements,
			Experience:   req.Experience,
			Source:       recruiterSource,
		}

		switch {
		case strings.EqualFold(req.State, "remote"):
			j.IsRemote = true
			j.State = "Remote"
		case s.Catalog.IsState(req.State):
			if name, ok := s.Catalog.MatchState(strings.ToLower(strings.TrimSpace(req.State))); ok {
				j.State = name
			}
			j.IsRemote = req.Remote
		default:
			writeError(w, r, fmt.Errorf("%w: unknown state %q", domain.ErrInvalidArgument, req.State),
				map[string]string{"state": "must be a Nigerian state, FCT or Remote"})
			return
		}
		if j.Location == "" {
			j.Location = j.State
		}

		cat, ok := s.Catalog.ByKey(req.Category)
		if !ok {
			keys := make([]string, 0, len(s.Catalog.Categories))
			for _, c := range s.Catalog.Categories {
				keys = append(keys, c.Key)
			}
			writeError(w, r, fmt.Errorf("%w: unknown category %q", domain.ErrInvalidArgument, req.Category),
				map[string]any{"category": "must be one of the listed keys", "valid": keys})
			return
		}
		j.Category = cat.Key

		now := time.Now().UTC()
		j.ExpiresAt = now.Add(recruiterListingTTL)
		if req.Deadline != "" {
			d, err := time.Parse("2006-01-02", req.Deadline)
			if err != nil || !d.After(now) {
				writeError(w, r, fmt.Errorf("%w: deadline must be a future date", domain.ErrInvalidArgument),
					map[string]string{"deadline": "future date, format 2006-01-02"})
				return
			}
			if d.Before(j.ExpiresAt) {
				j.ExpiresAt = d
			}
		}

		id, err := s.Listings.Upsert(r.Context(), j)
		if err != nil {
			writeError(w, r, fmt.Errorf("publish listing: %w", err), nil)
			return
		}

		LoggerFrom(r).Info("recruiter job published",
			slog.String("id", id),
			slog.String("company", j.Company),
			slog.String("category", j.Category),
			slog.String("state", j.State))
		go s.alert("New recruiter job post",
			fmt.Sprintf("Title: %s\nCompany: %s\nCategory: %s\nState: %s\nContact: %s\nListing: %s\nExpires: %s",
				j.Title, j.Company, j.Category, j.State, j.Email, id, j.ExpiresAt.Format("2006-01-02")))

		writeJSON(w, http.StatusCreated, map[string]string{
			"id":         id,
			"status":     "published",
			"expires_at": j.ExpiresAt.Format(time.RFC3339),
		})
	}
}

// decodePostJob reads the request as JSON or as a classic HTML form.
func decodePostJob(w http.ResponseWriter, r *http.Request) (postJobRequest, error) {
	var req postJobRequest
	ct := r.Header.Get("Content-Type")
	if strings.Contains(ct, "application/json") {
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			return req, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument)
		}
		return req, nil
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := r.ParseForm(); err != nil {
		return req, fmt.Errorf("%w: invalid form: %v", domain.ErrInvalidArgument, err)
	}
	req = postJobRequest{
		Title:        r.PostFormValue("title"),
		Company:      r.PostFormValue("company"),
		Email:        r.PostFormValue("email"),
		Location:     r.PostFormValue("location"),
		State:        r.PostFormValue("state"),
		Category:     r.PostFormValue("category"),
		Description:  r.PostFormValue("description"),
		Requirements: r.PostFormValue("requirements"),
		Experience:   r.PostFormValue("experience"),
		Deadline:     r.PostFormValue("deadline"),
	}
	req.Remote, _ = strconv.ParseBool(r.PostFormValue("remote"))
	return req, nil
}
