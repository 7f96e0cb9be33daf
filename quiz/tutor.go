// Package quiz holds the tutor's call sites: chat replies, idiomatic answer
// checks, question generation and correctness evaluation.
//
// Information Hiding:
// - Prompt wording and callable shapes hidden behind typed operations
// - OCR of textbook pages hidden behind QuestionsFromImage
// - Free-text model replies coerced into the same typed results
package quiz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/richinex/tutor/gateway"
	"github.com/richinex/tutor/ocr"
	"github.com/richinex/tutor/prompt"
)

var (
	// ErrNoRecognizer means image questions were requested without OCR.
	ErrNoRecognizer = errors.New("no text recognizer configured")

	// ErrMissingInput is returned when a required field is blank.
	ErrMissingInput = errors.New("missing input")
)

// Tutor runs quiz operations through a gateway.
type Tutor struct {
	gw     *gateway.Gateway
	ocr    ocr.Recognizer
	logger *slog.Logger
}

// New creates a Tutor. rec may be nil when image questions are not needed.
func New(gw *gateway.Gateway, rec ocr.Recognizer, logger *slog.Logger) *Tutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tutor{gw: gw, ocr: rec, logger: logger}
}

// Reply answers a chat message. A nil conversation makes it one-shot;
// otherwise the exchange is appended to conv on a live call.
func (t *Tutor) Reply(ctx context.Context, message string, conv *gateway.Conversation) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", fmt.Errorf("%w: message", ErrMissingInput)
	}

	shape := ReplyShape()
	result, err := t.gw.Resolve(ctx, gateway.Request{
		Prompt:       message,
		Shapes:       []gateway.Shape{shape},
		Handlers:     gateway.Handlers{shape.Name: gateway.Typed(reply)},
		Conversation: conv,
	})
	if err != nil {
		return "", err
	}
	return asText(result)
}

// CheckAnswer asks whether answer is an idiomatic reply to question. The
// feedback deliberately withholds the corrected sentence.
func (t *Tutor) CheckAnswer(ctx context.Context, question, answer string) (string, error) {
	if strings.TrimSpace(question) == "" {
		return "", fmt.Errorf("%w: question", ErrMissingInput)
	}
	if strings.TrimSpace(answer) == "" {
		return "", fmt.Errorf("%w: answer", ErrMissingInput)
	}

	shape := ReplyShape()
	result, err := t.gw.Resolve(ctx, gateway.Request{
		Prompt:   prompt.CheckIdiomaticChinese(question, answer),
		Shapes:   []gateway.Shape{shape},
		Handlers: gateway.Handlers{shape.Name: gateway.Typed(reply)},
	})
	if err != nil {
		return "", err
	}
	return asText(result)
}

// GenerateQuestions builds questions that teach the page's vocabulary,
// themed on the learner's subject.
func (t *Tutor) GenerateQuestions(ctx context.Context, in prompt.TextbookInput) ([]string, error) {
	if strings.TrimSpace(in.OCRText) == "" {
		return nil, fmt.Errorf("%w: textbook text", ErrMissingInput)
	}
	return t.askQuestions(ctx, prompt.QuestionsFromTextbook(in))
}

// QuestionsFromImage recognizes the page text, then generates questions from
// it. An OCR failure returns before the model is consulted.
func (t *Tutor) QuestionsFromImage(ctx context.Context, image []byte, knownWords []string, subject string) ([]string, error) {
	if t.ocr == nil {
		return nil, ErrNoRecognizer
	}

	ann, err := t.ocr.Recognize(ctx, image)
	if err != nil {
		return nil, fmt.Errorf("failed to read textbook page: %w", err)
	}
	t.logger.Debug("textbook page recognized", "chars", len([]rune(ann.Text)), "locale", ann.Locale)

	return t.GenerateQuestions(ctx, prompt.TextbookInput{
		OCRText:       ann.Text,
		KnownWords:    knownWords,
		TargetSubject: subject,
	})
}

// QuestionsForVocab builds Journey to the West questions that use each word.
func (t *Tutor) QuestionsForVocab(ctx context.Context, vocab []string) ([]string, error) {
	if len(vocab) == 0 {
		return nil, fmt.Errorf("%w: vocabulary", ErrMissingInput)
	}
	return t.askQuestions(ctx, prompt.QuestionsWithNewVocab(vocab))
}

// Evaluate judges whether response fulfils criteria.
func (t *Tutor) Evaluate(ctx context.Context, criteria, response string) (Evaluation, error) {
	if strings.TrimSpace(criteria) == "" {
		return Evaluation{}, fmt.Errorf("%w: criteria", ErrMissingInput)
	}
	return gateway.AskShape(ctx, t.gw, prompt.EvaluateCorrectness(criteria, response), EvaluateShape(), evaluate)
}

func (t *Tutor) askQuestions(ctx context.Context, p string) ([]string, error) {
	shape := QuestionsShape()
	result, err := t.gw.Resolve(ctx, gateway.Request{
		Prompt:   p,
		Shapes:   []gateway.Shape{shape},
		Handlers: gateway.Handlers{shape.Name: gateway.Typed(questions)},
	})
	if err != nil {
		return nil, err
	}

	// the model may ignore the shape and answer with a numbered list
	if result.Kind == gateway.KindText {
		return SplitQuestions(result.Text), nil
	}
	var out []string
	if err := result.Decode(&out); err != nil {
		return nil, fmt.Errorf("%s: %w", shape.Name, err)
	}
	return out, nil
}

func asText(r gateway.Result) (string, error) {
	if r.Kind == gateway.KindText {
		return r.Text, nil
	}
	var args replyArgs
	if err := r.Decode(&args); err != nil || args.ReplyText == "" {
		return r.String(), nil
	}
	return args.ReplyText, nil
}

var listMarker = regexp.MustCompile(`^\s*(?:\d+[.)、:：]|[-*•])\s*`)

// SplitQuestions turns a free-text list into one question per non-blank
// line, dropping numbering and bullets.
func SplitQuestions(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(listMarker.ReplaceAllString(line, ""))
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
