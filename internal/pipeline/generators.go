package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"reverie/internal/lifecycle"
	"reverie/internal/services/llm"
	"reverie/internal/services/videogen"
	"reverie/internal/store"
)

// Question is one interpretation question stored in the questions artifact.
type Question struct {
	Question string   `json:"question"`
	Choices  []string `json:"choices"`
}

// ParseQuestions decodes a questions stage artifact.
func ParseQuestions(artifact string) ([]Question, error) {
	artifact = strings.TrimSpace(artifact)
	if artifact == "" {
		return nil, nil
	}
	var questions []Question
	if err := json.Unmarshal([]byte(artifact), &questions); err != nil {
		return nil, fmt.Errorf("decode questions: %w", err)
	}
	return questions, nil
}

type generation struct {
	Artifact string
	Title    string
	Metadata map[string]any
}

func (g generation) metadataJSON() string {
	if len(g.Metadata) == 0 {
		return ""
	}
	data, err := json.Marshal(g.Metadata)
	if err != nil {
		return ""
	}
	return string(data)
}

var errNoCompleter = errors.New("llm client not configured")

func (p *Pipeline) generate(ctx context.Context, stage store.Stage, dream *store.Dream) (generation, error) {
	if stage != store.StageImage && stage != store.StageVideo && p.llm == nil {
		return generation{}, errNoCompleter
	}
	switch stage {
	case store.StageSummary:
		return p.generateSummary(ctx, dream)
	case store.StageAnalysis:
		return p.generateAnalysis(ctx, dream)
	case store.StageExpandedAnalysis:
		return p.generateExpandedAnalysis(ctx, dream)
	case store.StageQuestions:
		return p.generateQuestions(ctx, dream)
	case store.StageImage:
		return p.generateImage(ctx, dream)
	case store.StageVideo:
		return p.generateVideo(ctx, dream)
	default:
		return generation{}, fmt.Errorf("unknown stage %q", stage)
	}
}

func (p *Pipeline) generateSummary(ctx context.Context, dream *store.Dream) (generation, error) {
	raw, err := p.llm.CompleteJSON(ctx, summarySystemPrompt, fmt.Sprintf(summaryUserTemplate, dream.Transcript))
	if err != nil {
		return generation{}, err
	}
	var parsed struct {
		Title   string `json:"title"`
		Summary string `json:"summary"`
	}
	if err := llm.DecodeLLMJSON(raw, &parsed); err != nil {
		return generation{}, err
	}
	summary := strings.TrimSpace(parsed.Summary)
	if summary == "" {
		return generation{}, errors.New("summary response was empty")
	}
	title := titleCase(parsed.Title)
	return generation{
		Artifact: summary,
		Title:    title,
		Metadata: map[string]any{"title": title, "model": p.llm.Model()},
	}, nil
}

func (p *Pipeline) generateAnalysis(ctx context.Context, dream *store.Dream) (generation, error) {
	answers, err := p.answerContext(ctx, dream.ID)
	if err != nil {
		return generation{}, err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Dream transcript:\n%s\n", dream.Transcript)
	if info := strings.TrimSpace(dream.AdditionalInfo); info != "" {
		fmt.Fprintf(&b, "\nContext from the dreamer:\n%s\n", info)
	}
	if answers != "" {
		fmt.Fprintf(&b, "\nThe dreamer's answers to interpretation questions:\n%s", answers)
	}
	text, err := p.llm.CompleteText(ctx, analysisSystemPrompt, b.String())
	if err != nil {
		return generation{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return generation{}, errors.New("analysis response was empty")
	}
	return generation{
		Artifact: text,
		Metadata: map[string]any{
			"model":                p.llm.Model(),
			"used_answers":         answers != "",
			"used_additional_info": strings.TrimSpace(dream.AdditionalInfo) != "",
		},
	}, nil
}

func (p *Pipeline) generateExpandedAnalysis(ctx context.Context, dream *store.Dream) (generation, error) {
	prior, err := p.store.GetStage(ctx, dream.ID, store.StageAnalysis)
	if err != nil {
		return generation{}, err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Dream transcript:\n%s\n", dream.Transcript)
	if info := strings.TrimSpace(dream.AdditionalInfo); info != "" {
		fmt.Fprintf(&b, "\nContext from the dreamer:\n%s\n", info)
	}
	usedPrior := prior != nil && prior.Status == lifecycle.StatusCompleted && strings.TrimSpace(prior.Artifact) != ""
	if usedPrior {
		fmt.Fprintf(&b, "\nEarlier analysis:\n%s\n", prior.Artifact)
	}
	text, err := p.llm.CompleteText(ctx, expandedAnalysisSystemPrompt, b.String())
	if err != nil {
		return generation{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return generation{}, errors.New("expanded analysis response was empty")
	}
	return generation{
		Artifact: text,
		Metadata: map[string]any{"model": p.llm.Model(), "used_prior_analysis": usedPrior},
	}, nil
}

func (p *Pipeline) generateQuestions(ctx context.Context, dream *store.Dream) (generation, error) {
	raw, err := p.llm.CompleteJSON(ctx, questionsSystemPrompt,
		fmt.Sprintf(questionsUserTemplate, defaultQuestionCount, dream.Transcript))
	if err != nil {
		return generation{}, err
	}
	var parsed struct {
		Questions []Question `json:"questions"`
	}
	if err := llm.DecodeLLMJSON(raw, &parsed); err != nil {
		return generation{}, err
	}
	questions := make([]Question, 0, len(parsed.Questions))
	for _, q := range parsed.Questions {
		text := strings.TrimSpace(q.Question)
		if text == "" {
			continue
		}
		choices := make([]string, 0, len(q.Choices))
		for _, choice := range q.Choices {
			if choice = strings.TrimSpace(choice); choice != "" {
				choices = append(choices, choice)
			}
		}
		questions = append(questions, Question{Question: text, Choices: choices})
	}
	if len(questions) == 0 {
		return generation{}, errors.New("questions response contained no questions")
	}
	data, err := json.Marshal(questions)
	if err != nil {
		return generation{}, fmt.Errorf("encode questions: %w", err)
	}
	return generation{
		Artifact: string(data),
		Metadata: map[string]any{"model": p.llm.Model(), "count": len(questions)},
	}, nil
}

// generateImage prompts from the completed summary, or from visual elements
// extracted from the transcript when no summary exists yet.
func (p *Pipeline) generateImage(ctx context.Context, dream *store.Dream) (generation, error) {
	if p.images == nil || !p.cfg.Image.Enabled {
		return generation{}, errors.New("image generation disabled")
	}
	source := "summary"
	basis := ""
	summary, err := p.store.GetStage(ctx, dream.ID, store.StageSummary)
	if err != nil {
		return generation{}, err
	}
	if summary != nil && summary.Status == lifecycle.StatusCompleted {
		basis = strings.TrimSpace(summary.Artifact)
	}
	if basis == "" {
		if p.llm == nil {
			return generation{}, errNoCompleter
		}
		source = "visual_elements"
		basis, err = p.visualElements(ctx, dream.Transcript)
		if err != nil {
			return generation{}, err
		}
	}

	img, err := p.images.Generate(ctx, fmt.Sprintf(imagePromptTemplate, basis))
	if err != nil {
		return generation{}, err
	}
	meta := map[string]any{
		"prompt":        img.Prompt,
		"prompt_source": source,
		"model":         img.Model,
		"size":          img.Size,
	}
	if img.RevisedPrompt != "" {
		meta["revised_prompt"] = img.RevisedPrompt
	}
	return generation{Artifact: img.URL, Metadata: meta}, nil
}

// generateVideo hands the transcript and the completed segments to the
// rendering service and waits for the job. The stage heartbeat keeps the
// claim alive while the job runs.
func (p *Pipeline) generateVideo(ctx context.Context, dream *store.Dream) (generation, error) {
	if p.videos == nil || !p.cfg.Video.Enabled {
		return generation{}, errors.New("video generation disabled")
	}
	segments, err := p.store.ListSegments(ctx, dream.ID)
	if err != nil {
		return generation{}, err
	}
	job := videogen.Job{DreamID: dream.ID, Transcript: dream.Transcript}
	for _, seg := range segments {
		if seg.Status != lifecycle.StatusCompleted || strings.TrimSpace(seg.Transcript) == "" {
			continue
		}
		job.Segments = append(job.Segments, videogen.Segment{
			Order:      seg.Order,
			Transcript: seg.Transcript,
			ContentRef: seg.ContentRef,
		})
	}

	result, err := p.videos.Render(ctx, job)
	if err != nil {
		return generation{}, err
	}
	return generation{
		Artifact: result.URL,
		Metadata: map[string]any{
			"job_id":   result.JobID,
			"segments": len(job.Segments),
			"polls":    result.Polls,
			"seconds":  int(result.Duration.Seconds()),
		},
	}, nil
}

func (p *Pipeline) visualElements(ctx context.Context, transcript string) (string, error) {
	raw, err := p.llm.CompleteJSON(ctx, visualElementsSystemPrompt, fmt.Sprintf(visualElementsUserTemplate, transcript))
	if err != nil {
		return "", err
	}
	var parsed struct {
		Elements []string `json:"elements"`
	}
	if err := llm.DecodeLLMJSON(raw, &parsed); err != nil {
		return "", err
	}
	elements := make([]string, 0, len(parsed.Elements))
	for _, el := range parsed.Elements {
		if el = strings.TrimSpace(el); el != "" {
			elements = append(elements, el)
		}
	}
	if len(elements) == 0 {
		return "", errors.New("no visual elements found in transcript")
	}
	return strings.Join(elements, ", "), nil
}

// answerContext renders recorded answers next to their questions.
func (p *Pipeline) answerContext(ctx context.Context, dreamID string) (string, error) {
	answers, err := p.store.ListAnswers(ctx, dreamID)
	if err != nil || len(answers) == 0 {
		return "", err
	}
	var questions []Question
	if state, err := p.store.GetStage(ctx, dreamID, store.StageQuestions); err != nil {
		return "", err
	} else if state != nil && state.Status == lifecycle.StatusCompleted {
		// A malformed artifact only costs the question text.
		questions, _ = ParseQuestions(state.Artifact)
	}

	var b strings.Builder
	for _, ans := range answers {
		question := fmt.Sprintf("Question %d", ans.QuestionIndex+1)
		var choices []string
		if ans.QuestionIndex >= 0 && ans.QuestionIndex < len(questions) {
			question = questions[ans.QuestionIndex].Question
			choices = questions[ans.QuestionIndex].Choices
		}
		reply := strings.TrimSpace(ans.CustomAnswer)
		if ans.ChoiceIndex != nil {
			idx := *ans.ChoiceIndex
			if idx >= 0 && idx < len(choices) {
				reply = choices[idx]
			} else if reply == "" {
				reply = fmt.Sprintf("choice %d", idx+1)
			}
		}
		fmt.Fprintf(&b, "- %s: %s\n", question, reply)
	}
	return b.String(), nil
}

func titleCase(value string) string {
	value = strings.Join(strings.Fields(value), " ")
	if value == "" {
		return ""
	}
	return cases.Title(language.English).String(value)
}
