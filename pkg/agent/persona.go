// Package agent executes pipeline stages against a language model, acting
// as a persona with an attached tool set.
package agent

import (
	"fmt"
	"sort"
	"strings"
)

// Persona describes who the model plays for a stage.
type Persona struct {
	Name      string
	Role      string
	Goal      string
	Backstory string
}

var personas = map[string]Persona{
	"resume_analyzer": {
		Name:      "resume_analyzer",
		Role:      "Resume Analyzer",
		Goal:      "Extract detailed information such as skills, work experience, and education from a candidate's resume text.",
		Backstory: "You are a senior HR professional with years of experience in resume analysis and candidate profiling.",
	},
	"job_finder": {
		Name:      "job_finder",
		Role:      "Job Finder",
		Goal:      "Identify relevant job opportunities that match the candidate's skills and background extracted from the resume.",
		Backstory: "You are a career consultant with deep knowledge of various industries and job markets. You specialize in matching candidate profiles to ideal job listings.",
	},
	"ats_scorer": {
		Name:      "ats_scorer",
		Role:      "ATS Reviewer",
		Goal:      "Estimate how well a resume passes applicant tracking systems for a set of target roles and explain what is missing.",
		Backstory: "You have configured and audited applicant tracking systems for large recruiting teams and know which keywords and layouts they reward.",
	},
	"resume_writer": {
		Name:      "resume_writer",
		Role:      "Resume Writer",
		Goal:      "Rewrite a resume so it is concise, keyword complete and truthful to the candidate's real experience.",
		Backstory: "You are a professional resume writer who has helped thousands of candidates land interviews without ever inventing experience.",
	},
	"cover_letter_writer": {
		Name:      "cover_letter_writer",
		Role:      "Cover Letter Writer",
		Goal:      "Write a specific, persuasive cover letter that ties the candidate's achievements to one target role.",
		Backstory: "You are a former hiring manager who reads cover letters daily and knows which ones get a reply.",
	},
	"interview_coach": {
		Name:      "interview_coach",
		Role:      "Interview Coach",
		Goal:      "Prepare the candidate for interviews with likely questions and strong, honest answers.",
		Backstory: "You run mock interviews for engineers and managers and know what interviewers probe for in each kind of role.",
	},
}

// defaultPersona serves stages that name no agent.
var defaultPersona = Persona{
	Name:      "assistant",
	Role:      "Career Assistant",
	Goal:      "Complete the task exactly as instructed.",
	Backstory: "You help job seekers with precise, well-structured answers.",
}

// Lookup returns the persona registered under name. An empty name yields
// the default persona.
func Lookup(name string) (Persona, error) {
	if name == "" {
		return defaultPersona, nil
	}
	p, ok := personas[name]
	if !ok {
		return Persona{}, fmt.Errorf("unknown agent %q", name)
	}
	return p, nil
}

// Names lists the registered personas.
func Names() []string {
	names := make([]string, 0, len(personas))
	for name := range personas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SystemPrompt renders the persona as a system instruction.
func (p Persona) SystemPrompt() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are %s.\n", p.Role)
	fmt.Fprintf(&sb, "Your goal: %s\n", p.Goal)
	sb.WriteString(p.Backstory)
	sb.WriteString("\nFollow the output format the task asks for exactly.")
	return sb.String()
}
