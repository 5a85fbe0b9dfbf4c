package reserve

import (
	"context"
	"errors"
	"io"

	"nicotsm/internal"
	"nicotsm/niconico"
)

// Fields the engine always needs to identify and classify a program
var identityFields = []string{"contentId", "channelId"}

// IterSearch streams the programs matching one filter. Only the requested
// fields are kept in Program.Fields.
func (e *Engine) IterSearch(ctx context.Context, filter internal.SearchFilter, fields []string) (internal.ProgramSource, error) {
	compiled, err := e.planner.CompileFilter(ctx, filter)
	if err != nil {
		return nil, err
	}

	iterator, err := e.client.Search(niconico.SearchQuery{
		Q:          filter.Q,
		Service:    SearchService,
		Targets:    filter.Targets,
		Fields:     union(identityFields, fields),
		JSONFilter: compiled,
		Sort:       filter.Sort,
	})
	if err != nil {
		return nil, err
	}

	return &filteredSource{
		engine: e,
		source: iterator,
		ppv:    filter.PPV,
		fields: fields,
	}, nil
}

// IterSearchAll streams the programs of every configured filter in order.
// A program matched by several filters is yielded once.
func (e *Engine) IterSearchAll(fields []string) internal.ProgramSource {
	return &chainedSource{
		engine:  e,
		filters: e.options.Filters,
		fields:  fields,
		seen:    map[string]bool{},
	}
}

type filteredSource struct {
	engine *Engine
	source internal.ProgramSource
	ppv    *bool
	fields []string
}

func (s *filteredSource) Next(ctx context.Context) (*internal.Program, error) {
	for {
		program, err := s.source.Next(ctx)
		if err != nil {
			return nil, err
		}

		if s.ppv != nil {
			isPPV := false
			if program.ChannelID != "" {
				isPPV, err = s.engine.client.IsPPVLive(ctx, program.ContentID, program.ChannelID)
				if err != nil {
					return nil, err
				}
			}
			if isPPV != *s.ppv {
				continue
			}
		}

		return restrict(program, s.fields), nil
	}
}

type chainedSource struct {
	engine  *Engine
	filters []internal.SearchFilter
	fields  []string
	index   int
	current internal.ProgramSource
	seen    map[string]bool
}

func (s *chainedSource) Next(ctx context.Context) (*internal.Program, error) {
	for s.index < len(s.filters) {
		if s.current == nil {
			source, err := s.engine.IterSearch(ctx, s.filters[s.index], s.fields)
			if err != nil {
				return nil, err
			}
			s.current = source
		}

		program, err := s.current.Next(ctx)
		if errors.Is(err, io.EOF) {
			s.current = nil
			s.index++
			continue
		}
		if err != nil {
			return nil, err
		}

		if program.ContentID != "" {
			if s.seen[program.ContentID] {
				continue
			}
			s.seen[program.ContentID] = true
		}
		return program, nil
	}
	return nil, io.EOF
}

func restrict(program *internal.Program, fields []string) *internal.Program {
	restricted := *program
	restricted.Fields = make(map[string]interface{}, len(fields))
	for _, f := range fields {
		if v, ok := program.Fields[f]; ok {
			restricted.Fields[f] = v
		}
	}
	return &restricted
}

func union(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}
