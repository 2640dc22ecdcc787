package storytracker

import (
	"github.com/storytracker/storytracker/internal/campaign"
	"github.com/storytracker/storytracker/internal/schedule"
	"github.com/storytracker/storytracker/internal/scrape"
	"github.com/storytracker/storytracker/internal/selection"
	"github.com/storytracker/storytracker/internal/storage"
)

// The error taxonomy, re-exported for embedders. Fetch and validation errors
// are contained within a collection pass; selection and render errors are
// contained within a campaign; storage errors abort the current job.
type (
	FetchError      = scrape.FetchError
	ValidationError = scrape.ValidationError
	SelectionError  = selection.SelectionError
	RenderError     = campaign.RenderError
	StoreError      = storage.StoreError
)

var (
	// ErrNotFound is returned when a lookup matches no record.
	ErrNotFound = storage.ErrNotFound

	// ErrJobBusy is returned by manual triggers while the job is mid-run.
	ErrJobBusy = schedule.ErrJobBusy
)
