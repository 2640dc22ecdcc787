package campaign

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/storytracker/storytracker/internal/selection"
	"github.com/storytracker/storytracker/internal/storage"
)

// RenderError marks a digest that could not be produced for one subscriber.
// The campaign records it and moves on.
type RenderError struct {
	Email string
	Err   error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("failed to render digest for %s: %v", e.Email, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// Artifact is one produced digest. ID is a stable handle for the artifact
// independent of where it lives on disk.
type Artifact struct {
	ID    string
	Email string
	Path  string
}

// Renderer turns a selection into a deliverable digest artifact.
type Renderer interface {
	Render(sub *storage.Subscriber, picks *selection.Picks, campaignID string) (*Artifact, error)
}

// FileRenderer writes plain-text digests under dir/<campaignID>/, one file
// per subscriber.
type FileRenderer struct {
	dir string
	now func() time.Time
}

func NewFileRenderer(dir string) *FileRenderer {
	return &FileRenderer{dir: dir, now: time.Now}
}

func (r *FileRenderer) Render(sub *storage.Subscriber, picks *selection.Picks, campaignID string) (*Artifact, error) {
	body := RenderBody(sub, picks, r.now().UTC())

	dir := filepath.Join(r.dir, campaignID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &RenderError{Email: sub.Email, Err: err}
	}

	path := filepath.Join(dir, safeFilename(sub.Email)+".txt")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return nil, &RenderError{Email: sub.Email, Err: err}
	}

	return &Artifact{ID: uuid.NewString(), Email: sub.Email, Path: path}, nil
}

// RenderBody produces the digest text itself. Preview uses it directly so the
// admin sees exactly what a campaign would send.
func RenderBody(sub *storage.Subscriber, picks *selection.Picks, at time.Time) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Your StoryTracker Digest\n")
	fmt.Fprintf(&b, "%s\n", at.Format("Monday, January 2, 2006"))
	fmt.Fprintf(&b, "For: %s\n\n", sub.Email)

	for i, a := range picks.Articles {
		fmt.Fprintf(&b, "%d. %s\n", i+1, a.Title)
		fmt.Fprintf(&b, "   %s | %s\n", a.Outlet, a.Category)
		if picks.FromFallback[i] {
			fmt.Fprintf(&b, "   (outside your usual topics)\n")
		}
		fmt.Fprintf(&b, "   %s\n\n", a.URL)
	}

	fmt.Fprintf(&b, "You receive this digest because you follow %s.\n", topicList(sub))
	return b.String()
}

func topicList(sub *storage.Subscriber) string {
	var topics []string
	for _, t := range sub.Topics {
		if t != "" {
			topics = append(topics, t)
		}
	}
	switch len(topics) {
	case 0:
		return "local news"
	case 1:
		return topics[0]
	default:
		return strings.Join(topics[:len(topics)-1], ", ") + " and " + topics[len(topics)-1]
	}
}

func safeFilename(email string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '.', r == '_':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '_'
		}
	}, email)
}
