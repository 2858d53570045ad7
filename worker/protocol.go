package worker

import "pricescout/models"

// Command is a message sent from the coordinator to a page worker. The
// set is closed; the worker loop matches it exhaustively so an unknown
// shape is a compile-time gap, not a silent no-op.
type Command interface{ isCommand() }

// ScrapeCommand asks the worker to extract the current page. Keyword
// overrides the term the worker was attached with when non-empty.
type ScrapeCommand struct {
	Keyword string
}

// CancelCommand sets the worker's cancellation flag.
type CancelCommand struct{}

// NextPageCommand asks the worker to activate the site's in-page
// next-page control.
type NextPageCommand struct{}

func (ScrapeCommand) isCommand()   {}
func (CancelCommand) isCommand()   {}
func (NextPageCommand) isCommand() {}

// Event is a message sent from a page worker back to the coordinator.
type Event interface{ isEvent() }

// ConnectionEstablished is emitted exactly once when the worker starts
// serving its channel.
type ConnectionEstablished struct{}

// Progress is emitted periodically during long extractions.
type Progress struct {
	Count int
	Total int
	Page  int
}

// ScrapeResult carries one page's extraction output, or the error that
// prevented it.
type ScrapeResult struct {
	Result models.PageResult
	Err    string
}

// ScrapeCancelled reports that an extraction aborted at a cancellation
// check point.
type ScrapeCancelled struct{}

// NextPageResult reports whether an in-page pagination control was found
// and activated.
type NextPageResult struct {
	Success bool
	Err     string
}

func (ConnectionEstablished) isEvent() {}
func (Progress) isEvent()              {}
func (ScrapeResult) isEvent()          {}
func (ScrapeCancelled) isEvent()       {}
func (NextPageResult) isEvent()        {}
