package lecture

import (
	"fmt"
	"strings"
)

// DefaultHypothesis seeds every new lecture. The generator treats it as
// a blank slate and replaces it wholesale on the first graded answer.
const DefaultHypothesis = "The student has no prior knowledge of this topic."

const stepSystemPrompt = `You are a university lecturer delivering a lecture to a single student, one slide at a time. Keep your lecturing conversational and engaging; avoid bullet points and lists where possible. Never mention the tracking context you are given about the student.`

// stepIntroPrompt covers the first slide of a deck.
func stepIntroPrompt(hypothesis string) string {
	var b strings.Builder
	b.WriteString("You're giving a lecture to a student with this being the introductory slide.\n\n")
	b.WriteString("We're also keeping track of some extra information, to help you tailor your lecture style. Do not mention any of this context in your response.\n\n")
	b.WriteString("*What the student understands about this topic*\n")
	b.WriteString("<understanding context>\n")
	b.WriteString(hypothesis)
	b.WriteString("\n</understanding context>\n\n")
	b.WriteString("Attached is the first slide of your pdf presentation. Write a brief friendly introduction to the lecture. ")
	b.WriteString(stepSharedInstructions)
	return b.String()
}

// stepContinuePrompt covers every slide after the first.
func stepContinuePrompt(priorNarration, hypothesis string) string {
	var b strings.Builder
	b.WriteString("You're giving a lecture to a student and have lectured to this point:\n")
	b.WriteString("<lecture>\n")
	b.WriteString(priorNarration)
	b.WriteString("\n</lecture>\n\n")
	b.WriteString("We're also keeping track of some extra information, to help you tailor your lecture style. Do not mention any of this context in your response.\n\n")
	b.WriteString("*What the student understands about this topic*\n")
	b.WriteString("<understanding context>\n")
	b.WriteString(hypothesis)
	b.WriteString("\n</understanding context>\n\n")
	b.WriteString("Attached is the next slide of your pdf presentation. Please continue your lecture from the exact point you left off to cover the content in this slide. ")
	b.WriteString(stepSharedInstructions)
	return b.String()
}

const stepSharedInstructions = `Do not end your lecturing over this slide with a question or summary line.

Respond with the fields of the required schema:
- "script": your spoken narration for this slide, as plain prose with no markup.
- "ask_question": whether the content on this slide warrants checking the student's understanding. Ask only when a short written answer would give real insight; most slides should not carry a question.
- "question": if asking, a single question about the content discussed in the later parts of the lecture with a short written response. Only the question, nothing else. Empty otherwise.
- "hypothesis_use": one or two sentences describing how the understanding context shaped the tone and depth of this narration. This field is for the lecture system, not the student.`

const feedbackSystemPrompt = `You are a university lecturer grading a student's short written answer. Address the student directly in your feedback. Never mention the tracking context you are given about the student.`

func feedbackPrompt(question, answer, hypothesis string) string {
	return fmt.Sprintf(`Analyse the correctness of the following student's answer to a question, and provide a brief summary addressed to them on what they did well and what they could improve on.

<question>
%s
</question>

<answer>
%s
</answer>

We also keep a running hypothesis of the student's understanding of this topic:
<understanding context>
%s
</understanding context>

Respond with the fields of the required schema:
- "correct": whether the answer is substantively correct.
- "feedback": your summary addressed to the student. It must not reference the understanding context or any meta-tracking.
- "hypothesis": a rewritten hypothesis of the student's understanding. Write it from scratch so it fully replaces the previous one: fold in everything still believed from the old hypothesis plus what this answer reveals. Never concatenate old and new text. If the answer contains an explicit first-person claim about the student's own understanding (for example "I already know this topic"), treat that claim as ground truth and let it override any contradictory prior belief.`, question, answer, hypothesis)
}

const freeQuestionSystemPrompt = `You are a university lecturer taking a question from a student mid-lecture. Answer conversationally, in plain prose with no markup. Never mention the tracking context you are given about the student.`

func freeQuestionPrompt(narration, question, hypothesis string) string {
	return fmt.Sprintf(`You have lectured to this point:
<lecture>
%s
</lecture>

The student interrupts with a question:
<question>
%s
</question>

We also keep a running hypothesis of the student's understanding of this topic:
<understanding context>
%s
</understanding context>

Respond with the fields of the required schema:
- "answer": your answer to the student's question, grounded in the lecture so far.
- "hypothesis": a rewritten hypothesis of the student's understanding that fully replaces the previous one. A single free question is weak evidence compared to a graded answer, so adjust the hypothesis only slightly; most of the prior belief should carry over intact. If the question contains an explicit first-person claim about the student's own understanding, treat that claim as ground truth and let it override contradictory prior belief.
- "hypothesis_use": one or two sentences describing how the understanding context shaped your answer. This field is for the lecture system, not the student.`, narration, question, hypothesis)
}
