package biz

import (
	"context"
	"strings"

	"RelayLane/internal/model"
)

// subjectPlaceholder is replaced by the analysis subject in prompt templates.
const subjectPlaceholder = "{subject}"

// PromptTaskResult is the output of a task built by NewPromptTask.
type PromptTaskResult struct {
	Text string `json:"text"`
}

// RenderPrompt substitutes the subject into template.
func RenderPrompt(template, subject string) string {
	return strings.ReplaceAll(template, subjectPlaceholder, subject)
}

// NewPromptTask returns a task that renders template for the analysis
// subject and generates a completion through d.
func NewPromptTask(d *Dispatcher, name, template string, opts ...DispatchOption) Task {
	return Task{
		Name: name,
		Run: func(ctx context.Context, subject string) (any, error) {
			res, err := d.Generate(ctx, &model.GenerateRequest{Prompt: RenderPrompt(template, subject)}, opts...)
			if err != nil {
				return nil, err
			}
			return PromptTaskResult{Text: res.Generation.Text}, nil
		},
	}
}
