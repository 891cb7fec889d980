package organization

import (
	"fmt"
	"strings"
)

const systemPreamble = `You assign a newly extracted work item to the right place in an existing
project structure, and flag possible duplicates.

You will be given the entity to organize, the active projects, the open epics (each
scoped to a project), a window of recently created entities, and the user directory.

Suggest a project only if one of the given projects is clearly the right home;
suggest an epic only from the epics of that project; suggest an assignee only from
the given users, and only when the entity or its context names a specific person.
Leave a suggestion out entirely rather than guess.

List duplicateCandidates only for entities in the recent-entities window that
describe the same underlying work — give a similarityScore in [0,1] and a short
reason.

Propose a new epic in epicProposals only when several of the recent entities
clearly belong together under a theme no existing epic covers; name the theme,
pick the project it belongs to, and list every entity that should join it.

Every id you return (project, epic, user, entity) must be copied verbatim from
the ids you were given — never invent one.`

func renderPrompt(in Input, issues []string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Entity to organize:\n  id: %s\n  type: %s\n  content: %s\n\n", in.Entity.ID, in.Entity.Type, in.Entity.Content)

	b.WriteString("Active projects:\n")
	for _, p := range in.ActiveProjects {
		fmt.Fprintf(&b, "  - id: %s, name: %s\n", p.ID, p.Name)
	}
	b.WriteString("\nOpen epics:\n")
	for _, e := range in.OpenEpics {
		fmt.Fprintf(&b, "  - id: %s, projectId: %s, name: %s\n", e.ID, e.ProjectID, e.Name)
	}
	b.WriteString("\nRecent entities:\n")
	for _, e := range in.RecentEntities {
		fmt.Fprintf(&b, "  - id: %s, type: %s, content: %s\n", e.ID, e.Type, e.Content)
	}
	b.WriteString("\nUsers:\n")
	for _, u := range in.Users {
		fmt.Fprintf(&b, "  - id: %s, name: %s\n", u.ID, u.Name)
	}

	if len(issues) > 0 {
		b.WriteString("\nYour previous response failed validation with these issues — fix them and respond again:\n")
		for _, issue := range issues {
			fmt.Fprintf(&b, "- %s\n", issue)
		}
	}
	return b.String()
}
