package accept

import (
	"context"
	"log/slog"

	"github.com/miniplay/acceptbot/internal/bitable"
	"github.com/miniplay/acceptbot/internal/project"
)

type recordSearcher interface {
	SearchRecord(ctx context.Context, proj project.Project, requirement string) (*bitable.Record, error)
}

// Match pairs a resolved record with the project it lives in.
type Match struct {
	Project project.Project
	Record  *bitable.Record
}

// Resolver maps a requirement name to records, either within one project or
// across every configured project. A failed search against one project is
// logged and treated as no match there; resolution is single-attempt.
type Resolver struct {
	logger   *slog.Logger
	registry *project.Registry
	searcher recordSearcher
}

func NewResolver(log *slog.Logger, registry *project.Registry, searcher recordSearcher) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{
		logger:   log.With(slog.String("component", "resolver")),
		registry: registry,
		searcher: searcher,
	}
}

// FindScoped looks up requirement inside one project. Nil means no unaccepted
// record matched.
func (r *Resolver) FindScoped(ctx context.Context, proj project.Project, requirement string) *bitable.Record {
	record, err := r.searcher.SearchRecord(ctx, proj, requirement)
	if err != nil {
		r.logger.Warn("search failed",
			slog.String("project", proj.Name),
			slog.String("requirement", requirement),
			slog.Any("error", err),
		)
		return nil
	}
	return record
}

// FindAll runs the per-project query across every configured project and
// collects all matches, in configured project order. More than one match is
// the ambiguity signal; the caller decides how to surface it.
func (r *Resolver) FindAll(ctx context.Context, requirement string) []Match {
	var matches []Match
	for _, proj := range r.registry.All() {
		record := r.FindScoped(ctx, proj, requirement)
		if record != nil {
			matches = append(matches, Match{Project: proj, Record: record})
		}
	}
	return matches
}
