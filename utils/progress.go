package utils

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// RunProgress tracks what one auto-reserve run did
type RunProgress struct {
	mutex     sync.Mutex
	startTime time.Time
	now       func() time.Time

	matched    int
	skipped    int
	registered int
	warned     int
}

// RunSummary contains final run statistics
type RunSummary struct {
	Matched    int
	Skipped    int
	Registered int
	Warned     int
	Elapsed    time.Duration
}

// NewRunProgress starts tracking a run
func NewRunProgress() *RunProgress {
	return &RunProgress{startTime: time.Now(), now: time.Now}
}

// Matched records a search hit
func (p *RunProgress) Matched() {
	p.mutex.Lock()
	p.matched++
	p.mutex.Unlock()
}

// Skipped records a hit that was already reserved
func (p *RunProgress) Skipped() {
	p.mutex.Lock()
	p.skipped++
	p.mutex.Unlock()
}

// Registered records a successful registration
func (p *RunProgress) Registered() {
	p.mutex.Lock()
	p.registered++
	p.mutex.Unlock()
}

// Warned records a recoverable outcome that was reported
func (p *RunProgress) Warned() {
	p.mutex.Lock()
	p.warned++
	p.mutex.Unlock()
}

// Finish returns the summary and logs it at info level
func (p *RunProgress) Finish(logger zerolog.Logger) RunSummary {
	p.mutex.Lock()
	summary := RunSummary{
		Matched:    p.matched,
		Skipped:    p.skipped,
		Registered: p.registered,
		Warned:     p.warned,
		Elapsed:    p.now().Sub(p.startTime),
	}
	p.mutex.Unlock()

	logger.Info().
		Int("matched", summary.Matched).
		Int("skipped", summary.Skipped).
		Int("registered", summary.Registered).
		Int("warned", summary.Warned).
		Dur("elapsed", summary.Elapsed.Round(time.Millisecond)).
		Msg("auto-reserve run finished")

	return summary
}
