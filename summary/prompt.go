package summary

import (
	"fmt"
	"strings"
)

func outputContract(t *Template) string {
	var sb strings.Builder
	sb.WriteString("Respond with a single JSON object and nothing else. ")
	sb.WriteString("Each key is a section key; each value is {\"title\": string, \"blocks\": [{\"type\": string, \"content\": string}]}.\n")
	sb.WriteString("Sections, in this order:\n")
	for _, s := range t.Sections {
		fmt.Fprintf(&sb, "- %s (%q, block type %q): %s\n", s.Key, s.Title, s.Format, s.Instruction)
	}
	fmt.Fprintf(&sb, "Include \"%s\": [%s].\n", SectionOrderKey, quotedKeys(t))
	sb.WriteString("Use an empty blocks array for a section with nothing to report. Do not invent facts that are not in the transcript.")
	return sb.String()
}

func quotedKeys(t *Template) string {
	keys := t.Keys()
	for i, k := range keys {
		keys[i] = `"` + k + `"`
	}
	return strings.Join(keys, ", ")
}

func withCustom(prompt, custom string) string {
	custom = strings.TrimSpace(custom)
	if custom == "" {
		return prompt
	}
	return prompt + "\n\nAdditional instructions from the user:\n" + custom
}

// ChunkPrompt builds the system and user prompts for one transcript chunk
func ChunkPrompt(t *Template, text string, index, total int, custom string) (system, user string) {
	system = "You summarize meeting transcripts into structured notes.\n" + outputContract(t)

	var sb strings.Builder
	if total > 1 {
		fmt.Fprintf(&sb, "This is part %d of %d of a longer transcript. ", index+1, total)
		sb.WriteString("Summarize only this part; it may begin or end mid-topic.\n\n")
	}
	sb.WriteString("Transcript:\n")
	sb.WriteString(text)
	return system, withCustom(sb.String(), custom)
}

// ReducePrompt builds the prompts that merge per-chunk outputs, given in chunk order
func ReducePrompt(t *Template, partials []string, custom string) (system, user string) {
	system = "You combine partial meeting notes into one set of notes. " +
		"Merge duplicates caused by overlapping transcript parts, keep chronological order, and keep every distinct fact.\n" +
		outputContract(t)

	var sb strings.Builder
	fmt.Fprintf(&sb, "The transcript was summarized in %d consecutive parts:\n", len(partials))
	for i, p := range partials {
		fmt.Fprintf(&sb, "\n--- part %d ---\n%s\n", i+1, p)
	}
	return system, withCustom(sb.String(), custom)
}
