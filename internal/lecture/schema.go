package lecture

import "github.com/deepestlearning/lectern/internal/llm"

// stepSchema constrains slide-narration responses.
var stepSchema = &llm.Schema{
	Name:        "lecture-step",
	Description: "Spoken narration for one slide plus an optional comprehension question",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"script": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "Spoken narration for this slide, plain prose without markup",
			},
			"ask_question": map[string]any{
				"type":        "boolean",
				"description": "Whether to pose a comprehension question after this slide",
			},
			"question": map[string]any{
				"type":        "string",
				"description": "The comprehension question, empty when ask_question is false",
			},
			"hypothesis_use": map[string]any{
				"type":        "string",
				"description": "How the understanding hypothesis shaped tone and depth of this narration",
			},
		},
		"required":             []any{"script", "ask_question", "question", "hypothesis_use"},
		"additionalProperties": false,
	},
}

// feedbackSchema constrains graded-answer responses.
var feedbackSchema = &llm.Schema{
	Name:        "answer-feedback",
	Description: "Grading of a student's answer with a rewritten understanding hypothesis",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"correct": map[string]any{
				"type":        "boolean",
				"description": "Whether the answer is substantively correct",
			},
			"feedback": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "Summary addressed to the student on what they did well and what to improve",
			},
			"hypothesis": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "Full replacement for the previous understanding hypothesis",
			},
		},
		"required":             []any{"correct", "feedback", "hypothesis"},
		"additionalProperties": false,
	},
}

// freeQuestionSchema constrains student-initiated question responses.
var freeQuestionSchema = &llm.Schema{
	Name:        "free-question",
	Description: "Answer to a student-initiated question with a lightly adjusted hypothesis",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"answer": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "Answer to the student's question grounded in the lecture so far",
			},
			"hypothesis": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "Full replacement for the previous understanding hypothesis, adjusted only slightly",
			},
			"hypothesis_use": map[string]any{
				"type":        "string",
				"description": "How the understanding hypothesis shaped the answer",
			},
		},
		"required":             []any{"answer", "hypothesis", "hypothesis_use"},
		"additionalProperties": false,
	},
}

// Structured-output payloads decoded from generator responses.

type stepPayload struct {
	Script        string `json:"script"`
	AskQuestion   bool   `json:"ask_question"`
	Question      string `json:"question"`
	HypothesisUse string `json:"hypothesis_use"`
}

type feedbackPayload struct {
	Correct    bool   `json:"correct"`
	Feedback   string `json:"feedback"`
	Hypothesis string `json:"hypothesis"`
}

type freeQuestionPayload struct {
	Answer        string `json:"answer"`
	Hypothesis    string `json:"hypothesis"`
	HypothesisUse string `json:"hypothesis_use"`
}
