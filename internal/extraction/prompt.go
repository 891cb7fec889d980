package extraction

import (
	"fmt"
	"strings"
)

const systemPreamble = `You extract structured work items from a raw note: tasks, decisions, and insights.

A task is an actionable item someone needs to do. A decision is a choice that has been
made or needs to be made, with the chosen or candidate options. An insight is an
observation worth remembering that is neither actionable nor a decision.

For every entity, set "content" to a short, self-contained restatement of the item —
not a verbatim copy of the note — and attach any of these attributes that are clearly
present: "assigneeHint" (the name or handle of whoever owns the item), "dueDateHint",
"priorityHint" ("low", "medium", "high"), "decisionOptions" (array of strings, decisions
only). Set "typeConfidence" to how certain you are task/decision/insight is the right
classification — lower it whenever the item could plausibly be read as a different type.

Every field you emit (content and each attribute) carries a confidence in [0,1]
reflecting how certain you are the field is correctly extracted, and at least one
evidence quote copied verbatim from the note supporting it. Lower confidence rather
than guess. If the note contains no extractable entities, return an empty entities
array. Identify relationships between entities you extracted in the same call only
when the note states them explicitly (e.g. one task blocks another); reference
entities by their zero-based index in the entities array you are returning.`

type fewShot struct {
	note   string
	result string
}

var fewShots = []fewShot{
	{
		// CLI short capture
		note: `pm capture "fix the flaky upload test before Friday, assign to dana"`,
		result: `{"entities":[{"type":"task","typeConfidence":0.97,"content":{"value":"Fix the flaky upload test","confidence":0.95,"evidence":[{"quote":"fix the flaky upload test"}]},"attributes":{"assigneeHint":{"value":"dana","confidence":0.9,"evidence":[{"quote":"assign to dana"}]},"dueDateHint":{"value":"Friday","confidence":0.85,"evidence":[{"quote":"before Friday"}]}}}],"relationships":[]}`,
	},
	{
		// Chat message
		note: `[Slack #eng-infra] maya: heads up, we decided to go with Postgres over DynamoDB for the
review queue since we already run Postgres everywhere else. no action needed, just FYI`,
		result: `{"entities":[{"type":"decision","typeConfidence":0.9,"content":{"value":"Use Postgres instead of DynamoDB for the review queue","confidence":0.9,"evidence":[{"quote":"we decided to go with Postgres over DynamoDB for the review queue"}]},"attributes":{"decisionOptions":{"value":["Postgres","DynamoDB"],"confidence":0.85,"evidence":[{"quote":"go with Postgres over DynamoDB"}]}}}],"relationships":[]}`,
	},
	{
		// Meeting transcript
		note: `Transcript — weekly sync
00:03:12 priya: the migration script is still blocked on the schema review, carlos can you
  take that today
00:03:20 carlos: yep, I'll pick it up
00:04:01 priya: also worth noting, we're seeing way more retries on the jobs queue since
  the backoff change landed — not urgent but someone should look eventually`,
		result: `{"entities":[{"type":"task","typeConfidence":0.92,"content":{"value":"Complete the schema review","confidence":0.9,"evidence":[{"quote":"the migration script is still blocked on the schema review, carlos can you\n  take that today"}]},"attributes":{"assigneeHint":{"value":"carlos","confidence":0.9,"evidence":[{"quote":"carlos can you\n  take that today"}]}}},{"type":"task","typeConfidence":0.75,"content":{"value":"Run the migration script","confidence":0.7,"evidence":[{"quote":"the migration script is still blocked on the schema review"}]}},{"type":"insight","typeConfidence":0.8,"content":{"value":"Retries on the jobs queue increased since the backoff change","confidence":0.8,"evidence":[{"quote":"we're seeing way more retries on the jobs queue since\n  the backoff change landed"}]}}],"relationships":[{"sourceIndex":1,"targetIndex":0,"type":"blocks"}]}`,
	},
}

func renderPrompt(in Input, issues []string) string {
	var b strings.Builder
	for i, ex := range fewShots {
		fmt.Fprintf(&b, "Example %d:\nNote:\n%s\n\nOutput:\n%s\n\n", i+1, ex.note, ex.result)
	}
	fmt.Fprintf(&b, "Now extract from this note (source: %s, captured at: %s):\n%s\n", in.Source, in.CapturedAt, in.Content)

	if len(issues) > 0 {
		b.WriteString("\nYour previous response failed validation with these issues — fix them and respond again:\n")
		for _, issue := range issues {
			fmt.Fprintf(&b, "- %s\n", issue)
		}
	}
	return b.String()
}
