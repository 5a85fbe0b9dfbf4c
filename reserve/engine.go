package reserve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"nicotsm/internal"
	"nicotsm/niconico"
	"nicotsm/utils"
)

// SearchService is the content-search API for live programs
const SearchService = "live"

// Exit codes of a run
const (
	ExitOK          = 0
	ExitError       = 1
	ExitConfigError = 2
)

// Upstream is the part of the Niconico client the engine drives
type Upstream interface {
	internal.TimeshiftClient
	ServerClock
	Search(q niconico.SearchQuery) (*niconico.SearchIterator, error)
	IsPPVLive(ctx context.Context, liveID, channelID interface{}) (bool, error)
}

// Options configures one engine run
type Options struct {
	Filters   []internal.SearchFilter
	Overwrite bool
	Warn      internal.WarningSet
	Stdout    io.Writer
	Stderr    io.Writer
}

// Engine searches for programs and reserves timeshifts for them
type Engine struct {
	client   Upstream
	planner  *FilterPlanner
	options  Options
	progress *utils.RunProgress
	logger   zerolog.Logger
}

// NewEngine creates an engine. Range filters are rendered in location.
func NewEngine(client Upstream, location *time.Location, options Options) *Engine {
	if options.Stdout == nil {
		options.Stdout = os.Stdout
	}
	if options.Stderr == nil {
		options.Stderr = os.Stderr
	}
	return &Engine{
		client:   client,
		planner:  NewFilterPlanner(client, location),
		options:  options,
		progress: utils.NewRunProgress(),
		logger:   internal.WithComponent("reserve"),
	}
}

// RunAutoReserve registers every matching program that is not reserved yet
// and prints the difference of the reservation list. Errors are printed and
// mapped to an exit code; a malformed search query is returned instead.
func (e *Engine) RunAutoReserve(ctx context.Context) (int, error) {
	defer e.progress.Finish(e.logger)
	return e.finish(e.autoReserve(ctx))
}

func (e *Engine) autoReserve(ctx context.Context) error {
	before, err := e.client.List(ctx)
	if err != nil {
		return err
	}
	reserved := make(map[string]bool, len(before))
	for _, r := range before {
		reserved[r.VID] = true
	}

	source := e.IterSearchAll([]string{"contentId", "title"})
loop:
	for {
		program, err := source.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		e.progress.Matched()

		if reserved[program.ContentID] {
			e.progress.Skipped()
			continue
		}

		outcome, err := e.client.Register(ctx, program.ContentID, e.options.Overwrite)
		if err != nil {
			return err
		}
		e.logger.Debug().Str("vid", program.ContentID).Stringer("outcome", outcome).Msg("register")

		switch outcome {
		case internal.OutcomeRegistered:
			e.progress.Registered()
		case internal.OutcomeAlreadyRegistered:
			e.progress.Skipped()
		case internal.OutcomeNotSupported:
			e.warn(internal.ErrTSNotSupported, "timeshift is not supported for %s", program.ContentID)
		case internal.OutcomeExpired:
			e.warn(internal.ErrTSRegistrationExpired, "timeshift registration has expired for %s", program.ContentID)
		case internal.OutcomeMaxReservation:
			e.warn(internal.ErrTSMaxReservation, "reservation limit reached while registering %s", program.ContentID)
			break loop
		case internal.OutcomeNotFound:
			return internal.NewNicoError(0, fmt.Sprintf("program %s was not found", program.ContentID), internal.ErrNotFound)
		default:
			return internal.NewInvalidResponseError(fmt.Sprintf("unrecognized reservation response for %s", program.ContentID))
		}
	}

	after, err := e.client.List(ctx)
	if err != nil {
		return err
	}
	e.printDiff(before, after)
	return nil
}

func (e *Engine) printDiff(before, after []internal.TimeshiftReservation) {
	beforeSet := make(map[string]bool, len(before))
	for _, r := range before {
		beforeSet[r.VID] = true
	}
	afterSet := make(map[string]bool, len(after))
	for _, r := range after {
		afterSet[r.VID] = true
	}

	for _, r := range after {
		if !beforeSet[r.VID] {
			fmt.Fprintf(e.options.Stdout, "added: %s: %s\n", r.VID, r.Title)
		}
	}
	for _, r := range before {
		if !afterSet[r.VID] {
			fmt.Fprintf(e.options.Stdout, "removed: %s: %s\n", r.VID, r.Title)
		}
	}
}

// RunSearchOnly prints the first n matches across all filters
func (e *Engine) RunSearchOnly(ctx context.Context, n int) (int, error) {
	return e.finish(e.searchOnly(ctx, n))
}

func (e *Engine) searchOnly(ctx context.Context, n int) error {
	source := e.IterSearchAll([]string{"contentId", "title"})
	for i := 0; i < n; i++ {
		program, err := source.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(e.options.Stdout, "%s: %s\n", program.ContentID, program.Title)
	}
	return nil
}

// RunList prints the current reservations
func (e *Engine) RunList(ctx context.Context) (int, error) {
	reservations, err := e.client.List(ctx)
	if err != nil {
		return e.finish(err)
	}
	for _, r := range reservations {
		fmt.Fprintf(e.options.Stdout, "%s: %s\n", r.VID, r.Title)
	}
	return ExitOK, nil
}

// finish maps a run error onto an exit code. A search rejected as malformed
// is a configuration bug and is handed back to the caller.
func (e *Engine) finish(err error) (int, error) {
	if err == nil {
		return ExitOK, nil
	}

	var cse *internal.ContentSearchError
	if errors.As(err, &cse) && cse.MalformedQuery() {
		return ExitConfigError, err
	}

	internal.LogNicoError(err)
	fmt.Fprintf(e.options.Stderr, "error: %s\n", err)
	return ExitError, nil
}

func (e *Engine) warn(kind internal.ErrorType, format string, args ...interface{}) {
	if !e.options.Warn.Enabled(kind) {
		return
	}
	e.progress.Warned()
	fmt.Fprintf(e.options.Stderr, "warning: %s: %s\n", kind.Key(), fmt.Sprintf(format, args...))
}
