package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/storytracker/storytracker/internal/campaign"
	"github.com/storytracker/storytracker/internal/schedule"
	"github.com/storytracker/storytracker/internal/scrape"
	"github.com/storytracker/storytracker/internal/storage"
)

type Format string

const (
	FormatJSON  Format = "json"
	FormatText  Format = "text"
	FormatHuman Format = "human"
)

type Formatter struct {
	format Format
	out    io.Writer
	err    io.Writer
}

// NewFormatter creates a new output formatter
func NewFormatter(format Format) *Formatter {
	return &Formatter{
		format: format,
		out:    os.Stdout,
		err:    os.Stderr,
	}
}

// NewFormatterWithWriters creates a formatter with custom output writers for testability
func NewFormatterWithWriters(format Format, out, errW io.Writer) *Formatter {
	return &Formatter{
		format: format,
		out:    out,
		err:    errW,
	}
}

// OutputCollectStats outputs the result of a collection pass
func (f *Formatter) OutputCollectStats(stats scrape.CollectStats) error {
	switch f.format {
	case FormatJSON:
		return json.NewEncoder(f.out).Encode(stats)
	case FormatText:
		fmt.Fprintf(f.out, "added=%d\n", stats.Added)
		fmt.Fprintf(f.out, "skipped=%d\n", stats.Skipped)
		fmt.Fprintf(f.out, "failed=%d\n", stats.Failed)
		return nil
	case FormatHuman:
		fmt.Fprintf(f.out, "Collected %d new articles\n", stats.Added)
		if stats.Skipped > 0 {
			fmt.Fprintf(f.out, "Skipped %d already-seen articles\n", stats.Skipped)
		}
		if stats.Failed > 0 {
			fmt.Fprintf(f.out, "⚠️  Dropped %d invalid candidates\n", stats.Failed)
		}
		return nil
	}
	return fmt.Errorf("unknown format: %s", f.format)
}

// OutputArticleList outputs a list of articles
func (f *Formatter) OutputArticleList(articles []storage.Article) error {
	switch f.format {
	case FormatJSON:
		return json.NewEncoder(f.out).Encode(articles)
	case FormatText:
		for _, a := range articles {
			fmt.Fprintf(f.out, "fingerprint=%s\tcategory=%s\ttitle=%s\turl=%s\tcollected=%s\texcluded=%t\n",
				a.Fingerprint, a.Category, a.Title, a.URL, a.CollectedAt.Format(time.RFC3339), a.Excluded)
		}
		return nil
	case FormatHuman:
		if len(articles) == 0 {
			fmt.Fprintln(f.out, "No articles")
			return nil
		}
		fmt.Fprintf(f.out, "Articles (%d):\n\n", len(articles))
		for _, a := range articles {
			fmt.Fprintf(f.out, "Title: %s\n", a.Title)
			fmt.Fprintf(f.out, "Category: %s | Outlet: %s\n", a.Category, a.Outlet)
			fmt.Fprintf(f.out, "URL: %s\n", a.URL)
			fmt.Fprintf(f.out, "Collected: %s\n", a.CollectedAt.Format("2006-01-02 15:04"))
			if a.Excluded {
				fmt.Fprintln(f.out, "Excluded: yes")
			}
			fmt.Fprintf(f.out, "Fingerprint: %s\n", a.Fingerprint)
			fmt.Fprintln(f.out, "---")
		}
		return nil
	}
	return fmt.Errorf("unknown format: %s", f.format)
}

// OutputSubscriberList outputs the subscriber roster
func (f *Formatter) OutputSubscriberList(subs []storage.Subscriber) error {
	switch f.format {
	case FormatJSON:
		return json.NewEncoder(f.out).Encode(subs)
	case FormatText:
		for _, s := range subs {
			fmt.Fprintf(f.out, "email=%s\ttopics=%s\tactive=%t\n",
				s.Email, strings.Join(s.Topics[:], ","), s.Active)
		}
		return nil
	case FormatHuman:
		if len(subs) == 0 {
			fmt.Fprintln(f.out, "No subscribers")
			return nil
		}
		fmt.Fprintf(f.out, "Subscribers (%d):\n\n", len(subs))
		for _, s := range subs {
			fmt.Fprintf(f.out, "📧 %s\n", s.Email)
			fmt.Fprintf(f.out, "   Topics: %s\n", strings.Join(s.Topics[:], ", "))
			fmt.Fprintf(f.out, "   Since: %s\n", s.CreatedAt.Format("2006-01-02"))
		}
		return nil
	}
	return fmt.Errorf("unknown format: %s", f.format)
}

// OutputCampaignReport outputs the result of a campaign run
func (f *Formatter) OutputCampaignReport(report *campaign.Report) error {
	switch f.format {
	case FormatJSON:
		return json.NewEncoder(f.out).Encode(report)
	case FormatText:
		fmt.Fprintf(f.out, "campaign=%s\n", report.CampaignID)
		fmt.Fprintf(f.out, "trigger=%s\n", report.Trigger)
		fmt.Fprintf(f.out, "subscribers=%d\n", report.SubscribersProcessed)
		fmt.Fprintf(f.out, "generated=%d\n", report.EmailsGenerated)
		fmt.Fprintf(f.out, "failures=%d\n", report.Failures)
		return nil
	case FormatHuman:
		fmt.Fprintf(f.out, "Campaign %s (%s)\n", report.CampaignID, report.Trigger)
		fmt.Fprintf(f.out, "Generated %d digests for %d subscribers\n",
			report.EmailsGenerated, report.SubscribersProcessed)
		if report.Failures > 0 {
			fmt.Fprintf(f.out, "⚠️  %d subscribers could not be served:\n", report.Failures)
			for _, r := range report.Results {
				if r.Error != "" {
					fmt.Fprintf(f.out, "   %s: %s\n", r.Email, r.Error)
				}
			}
		}
		return nil
	}
	return fmt.Errorf("unknown format: %s", f.format)
}

// OutputCampaignList outputs campaign history
func (f *Formatter) OutputCampaignList(campaigns []storage.Campaign) error {
	switch f.format {
	case FormatJSON:
		return json.NewEncoder(f.out).Encode(campaigns)
	case FormatText:
		for _, c := range campaigns {
			finished := ""
			if c.FinishedAt != nil {
				finished = c.FinishedAt.Format(time.RFC3339)
			}
			fmt.Fprintf(f.out, "id=%s\ttrigger=%s\tstarted=%s\tfinished=%s\tgenerated=%d\tfailures=%d\n",
				c.ID, c.Trigger, c.StartedAt.Format(time.RFC3339), finished, c.EmailsGenerated, c.Failures)
		}
		return nil
	case FormatHuman:
		if len(campaigns) == 0 {
			fmt.Fprintln(f.out, "No campaigns yet")
			return nil
		}
		for _, c := range campaigns {
			status := "running"
			if c.FinishedAt != nil {
				status = fmt.Sprintf("%d digests, %d failures", c.EmailsGenerated, c.Failures)
			}
			fmt.Fprintf(f.out, "📬 %s  %s  (%s)\n", c.ID, c.StartedAt.Format("2006-01-02 15:04"), status)
		}
		return nil
	}
	return fmt.Errorf("unknown format: %s", f.format)
}

// OutputJobStatuses outputs the scheduler's job table
func (f *Formatter) OutputJobStatuses(statuses []schedule.JobStatus) error {
	switch f.format {
	case FormatJSON:
		type jobStatus struct {
			Name    string `json:"name"`
			Running bool   `json:"running"`
			NextRun string `json:"next_run,omitempty"`
			LastRun string `json:"last_run,omitempty"`
			LastErr string `json:"last_error,omitempty"`
		}
		out := make([]jobStatus, 0, len(statuses))
		for _, s := range statuses {
			js := jobStatus{Name: s.Name, Running: s.Running, LastErr: s.LastErr}
			if !s.NextRun.IsZero() {
				js.NextRun = s.NextRun.Format(time.RFC3339)
			}
			if !s.LastRun.IsZero() {
				js.LastRun = s.LastRun.Format(time.RFC3339)
			}
			out = append(out, js)
		}
		return json.NewEncoder(f.out).Encode(out)
	case FormatText:
		for _, s := range statuses {
			fmt.Fprintf(f.out, "job=%s\trunning=%t\tnext=%s\n",
				s.Name, s.Running, s.NextRun.Format(time.RFC3339))
		}
		return nil
	case FormatHuman:
		for _, s := range statuses {
			state := "idle"
			if s.Running {
				state = "running"
			}
			fmt.Fprintf(f.out, "⏰ %-10s %s, next run %s\n", s.Name, state, s.NextRun.Format("Mon 2006-01-02 15:04"))
			if s.LastErr != "" {
				fmt.Fprintf(f.out, "   last run failed: %s\n", s.LastErr)
			}
		}
		return nil
	}
	return fmt.Errorf("unknown format: %s", f.format)
}

// OutputDigestPreview outputs a rendered digest body
func (f *Formatter) OutputDigestPreview(email, body string) error {
	switch f.format {
	case FormatJSON:
		return json.NewEncoder(f.out).Encode(map[string]string{
			"email": email,
			"body":  body,
		})
	case FormatText, FormatHuman:
		fmt.Fprint(f.out, body)
		return nil
	}
	return fmt.Errorf("unknown format: %s", f.format)
}

// Error outputs an error message to stderr
func (f *Formatter) Error(format string, args ...interface{}) {
	fmt.Fprintf(f.err, format+"\n", args...)
}

// Warning outputs a warning message to stderr
func (f *Formatter) Warning(format string, args ...interface{}) {
	fmt.Fprintf(f.err, "Warning: "+format+"\n", args...)
}
