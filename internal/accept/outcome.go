package accept

import (
	"fmt"
	"strings"
)

// OutcomeKind classifies what happened to one requirement name.
type OutcomeKind int

const (
	// OutcomeAccepted: the record was found and transitioned.
	OutcomeAccepted OutcomeKind = iota
	// OutcomeMissing: no matching unaccepted record in scope.
	OutcomeMissing
	// OutcomeAmbiguous: an unscoped lookup matched records in more than one
	// project.
	OutcomeAmbiguous
	// OutcomeUpdateFailed: a record was found but the mutation call failed.
	OutcomeUpdateFailed
)

// Outcome is the result of processing one requirement name.
type Outcome struct {
	Requirement string
	Kind        OutcomeKind
	Project     string   // set when accepted
	Collisions  []string // project names, set when ambiguous
}

const (
	replyNoRequirement = "❌ 未识别到需求内容"
)

func replyUnknownProject(name string, available []string) string {
	return fmt.Sprintf("❌ 未找到项目「%s」\n可用项目: %s", name, strings.Join(available, ", "))
}

// composeReply folds per-requirement outcomes into the single consolidated
// reply: a success block, a failure block merging missing, ambiguous and
// update-failed entries, then attachment and link summary lines.
func composeReply(outcomes []Outcome, totalAttachments, linkCount int) string {
	var successes, failures []string
	for _, o := range outcomes {
		switch o.Kind {
		case OutcomeAccepted:
			successes = append(successes, o.Project+"/"+o.Requirement)
		case OutcomeMissing:
			failures = append(failures, o.Requirement)
		case OutcomeAmbiguous:
			failures = append(failures, fmt.Sprintf("%s（存在于 %s，请用「项目名/需求名」指定）",
				o.Requirement, strings.Join(o.Collisions, "、")))
		case OutcomeUpdateFailed:
			failures = append(failures, o.Requirement+"（更新失败）")
		}
	}

	var parts []string
	if len(successes) == 1 {
		parts = append(parts, fmt.Sprintf("✅ 需求「%s」验收通过", successes[0]))
	} else if len(successes) > 1 {
		parts = append(parts, fmt.Sprintf("✅ 验收通过 %d 条：\n%s", len(successes), bulleted(successes)))
	}
	if len(failures) == 1 {
		parts = append(parts, fmt.Sprintf("❌ 未找到需求「%s」", failures[0]))
	} else if len(failures) > 1 {
		parts = append(parts, fmt.Sprintf("❌ 未找到 %d 条：\n%s", len(failures), bulleted(failures)))
	}
	if totalAttachments > 0 {
		parts = append(parts, fmt.Sprintf("📎 已为 %d 条需求各同步附件", len(successes)))
	}
	if linkCount > 0 {
		parts = append(parts, fmt.Sprintf("🔗 已同步 %d 个文档链接", linkCount))
	}
	return strings.Join(parts, "\n\n")
}

func bulleted(items []string) string {
	lines := make([]string, 0, len(items))
	for _, item := range items {
		lines = append(lines, "  • "+item)
	}
	return strings.Join(lines, "\n")
}
