package project

import (
	"strings"

	"github.com/miniplay/acceptbot/internal/config"
)

// Project is one configured tenant: a bitable table plus the chats bound to it.
// Projects are immutable after startup.
type Project struct {
	Name     string
	AppToken string
	TableID  string
	ChatIDs  []string
}

// Registry holds the configured projects in declaration order. Lookups that
// can match more than one project always return the first match in that order.
type Registry struct {
	projects []Project
}

func NewRegistry(configs []config.ProjectConfig) *Registry {
	projects := make([]Project, 0, len(configs))
	for _, pc := range configs {
		projects = append(projects, Project{
			Name:     strings.TrimSpace(pc.Name),
			AppToken: strings.TrimSpace(pc.AppToken),
			TableID:  strings.TrimSpace(pc.TableID),
			ChatIDs:  pc.ChatIDs,
		})
	}
	return &Registry{projects: projects}
}

// All returns the projects in configured order. The slice is shared; callers
// must not mutate it.
func (r *Registry) All() []Project {
	return r.projects
}

// Names returns the project names in configured order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.projects))
	for _, p := range r.projects {
		names = append(names, p.Name)
	}
	return names
}

// ByName finds a project by case-insensitive name match.
func (r *Registry) ByName(name string) (Project, bool) {
	name = strings.TrimSpace(name)
	for _, p := range r.projects {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return Project{}, false
}

// ByChat finds the first project whose chat bindings contain chatID.
func (r *Registry) ByChat(chatID string) (Project, bool) {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return Project{}, false
	}
	for _, p := range r.projects {
		for _, id := range p.ChatIDs {
			if id == chatID {
				return p, true
			}
		}
	}
	return Project{}, false
}
