package kickstart

import (
	"strings"

	"github.com/hupe1980/parley/internal/util"
)

// openings are the phrasing templates for topic-only opening messages. The
// scheduler picks one uniformly per kickstart; the enhancer may rephrase the
// rendered result afterwards.
var openings = []string{
	"I've been thinking about {{.Topic}} lately. What's everyone's take?",
	"Anyone up for a chat about {{.Topic}}?",
	"Something worth discussing: {{.Topic}}. Thoughts?",
	"Let's talk about {{.Topic}}. Where do we all stand?",
}

// openingsWithMentions are the variants used when peers were sampled for
// tagging. Mentions always lead the message so tagged agents see it first.
var openingsWithMentions = []string{
	"{{.Mentions}} I've been thinking about {{.Topic}} lately. What's your take?",
	"{{.Mentions}} anyone up for a chat about {{.Topic}}?",
	"{{.Mentions}} curious what you think about {{.Topic}}.",
	"{{.Mentions}} let's talk about {{.Topic}}. Where do we stand?",
}

// renderOpening composes an opening message for the topic, leading with
// mentions when peers were tagged. The template index is drawn through intn
// so tests can make the pick deterministic.
func renderOpening(intn func(n int) int, topicName string, tagged []string) (string, error) {
	set := openings
	if len(tagged) > 0 {
		set = openingsWithMentions
	}

	tmpl := set[intn(len(set))]

	mentions := make([]string, len(tagged))
	for i, id := range tagged {
		mentions[i] = "@" + id
	}

	return util.RenderTemplate(tmpl, map[string]any{
		"Topic":    topicName,
		"Mentions": strings.Join(mentions, " "),
	})
}
