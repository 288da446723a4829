package agentloop

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

const maxNotesBytes = 32 * 1024 // 32KB

// Prompts holds the fixed instructions of a porting run. {{language}} in
// any field is replaced with the target language.
type Prompts struct {
	System    string `yaml:"system"`
	Analyze   string `yaml:"analyze"`
	Create    string `yaml:"create"`
	FixPrefix string `yaml:"fix_prefix"`
}

// DefaultPrompts returns the stock porting instructions.
func DefaultPrompts() Prompts {
	return Prompts{
		System: "You are a large language model that is capable of converting project source code to {{language}} source code. " +
			"You have access to two project directories: the source project directory is read-only and contains the source files of the original project. " +
			"The destination project directory is initially empty and should be populated with project files in {{language}} language. " +
			"When you propose an action or a change to the source code, execute this action or change right away.",
		Analyze:   "Please analyze the project in the source directory, but don't make any changes at this point.",
		Create:    "Now create {{language}} project in the destination project directory so that it matches the implementation in the source project directory.",
		FixPrefix: "Apparently there are some problems with the code. Please correct them. Here is the build check output:\n",
	}
}

// Merge returns p with empty fields filled from defaults.
func (p Prompts) Merge(defaults Prompts) Prompts {
	if p.System == "" {
		p.System = defaults.System
	}
	if p.Analyze == "" {
		p.Analyze = defaults.Analyze
	}
	if p.Create == "" {
		p.Create = defaults.Create
	}
	if p.FixPrefix == "" {
		p.FixPrefix = defaults.FixPrefix
	}
	return p
}

// ForLanguage substitutes the target language into every prompt.
func (p Prompts) ForLanguage(language string) Prompts {
	r := strings.NewReplacer("{{language}}", language)
	return Prompts{
		System:    r.Replace(p.System),
		Analyze:   r.Replace(p.Analyze),
		Create:    r.Replace(p.Create),
		FixPrefix: r.Replace(p.FixPrefix),
	}
}

// BuildSystemPrompt assembles the system message: the porting instructions,
// an environment block describing both projects, and any porting notes
// found in them.
func BuildSystemPrompt(prompts Prompts, src, dst *Project, model string) string {
	parts := []string{prompts.System, BuildEnvironmentContext(src, dst, model)}
	if notes := DiscoverPortingNotes(src.Root(), dst.Root()); notes != "" {
		parts = append(parts, "# Porting notes\n\n"+notes)
	}
	return strings.Join(parts, "\n\n")
}

// BuildEnvironmentContext generates the structured environment context block.
func BuildEnvironmentContext(src, dst *Project, model string) string {
	var sb strings.Builder
	sb.WriteString("<environment>\n")
	fmt.Fprintf(&sb, "Source project directory: %s\n", src.Root())
	if branch := getGitBranch(src.Root()); branch != "" {
		fmt.Fprintf(&sb, "Source git branch: %s\n", branch)
	}
	fmt.Fprintf(&sb, "Destination project directory: %s\n", dst.Root())
	fmt.Fprintf(&sb, "Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(&sb, "Today's date: %s\n", time.Now().Format("2006-01-02"))
	if model != "" {
		fmt.Fprintf(&sb, "Model: %s\n", model)
	}
	sb.WriteString("</environment>")
	return sb.String()
}

// portingNoteFiles are read from each project root when present.
var portingNoteFiles = []string{"AGENTS.md", "PORTING.md"}

// DiscoverPortingNotes loads instruction files from the given project
// roots, capped at 32KB in total.
func DiscoverPortingNotes(roots ...string) string {
	var docs []string
	totalBytes := 0

	for _, dir := range roots {
		for _, fileName := range portingNoteFiles {
			content, err := os.ReadFile(filepath.Join(dir, fileName))
			if err != nil {
				continue
			}

			remaining := maxNotesBytes - totalBytes
			if remaining <= 0 {
				docs = append(docs, "[Porting notes truncated at 32KB]")
				return strings.Join(docs, "\n\n---\n\n")
			}

			text := string(content)
			if len(text) > remaining {
				text = text[:remaining] + "\n[Porting notes truncated at 32KB]"
			}

			header := fmt.Sprintf("## %s (from %s)", fileName, dir)
			docs = append(docs, header+"\n\n"+text)
			totalBytes += len(text)
		}
	}
	return strings.Join(docs, "\n\n---\n\n")
}

func getGitBranch(dir string) string {
	cmd := exec.Command("git", "rev-parse", "--abbrev-ref", "HEAD")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
