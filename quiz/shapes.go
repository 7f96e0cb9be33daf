package quiz

import (
	"context"

	"github.com/richinex/tutor/gateway"
)

// Shape names the model may call.
const (
	ReplyFunction     = "reply"
	EvaluateFunction  = "evaluateCorrectness"
	QuestionsFunction = "generateQuestions"
)

// ReplyShape asks the model for a single reply string.
func ReplyShape() gateway.Shape {
	return gateway.Shape{
		Name:        ReplyFunction,
		Description: "Replies to the message",
		Parameters: gateway.Object([]string{"replyText"},
			gateway.Prop("replyText", "string", "The reply to the message"),
		),
	}
}

// EvaluateShape asks for a boolean verdict with a reason.
func EvaluateShape() gateway.Shape {
	return gateway.Shape{
		Name:        EvaluateFunction,
		Description: "Evaluate the correctness of an operation and provide a reason",
		Parameters: gateway.Object([]string{"correct", "reason"},
			gateway.Prop("correct", "boolean", "Indicates whether the operation is correct"),
			gateway.Prop("reason", "string", "Explains why the operation is correct or incorrect"),
		),
	}
}

// QuestionsShape asks for a list of quiz questions.
func QuestionsShape() gateway.Shape {
	list := gateway.Prop("questions", "array", "The questions, one per entry")
	list.Schema.Items = &gateway.Schema{Type: "string"}
	return gateway.Shape{
		Name:        QuestionsFunction,
		Description: "Generates a list of quiz questions",
		Parameters:  gateway.Object([]string{"questions"}, list),
	}
}

type replyArgs struct {
	ReplyText string `json:"replyText"`
}

type questionsArgs struct {
	Questions []string `json:"questions"`
}

// Evaluation is the model's verdict on a response.
type Evaluation struct {
	Correct bool   `json:"correct"`
	Reason  string `json:"reason"`
}

func reply(_ context.Context, args replyArgs) (string, error) {
	return args.ReplyText, nil
}

func questions(_ context.Context, args questionsArgs) ([]string, error) {
	return args.Questions, nil
}

func evaluate(_ context.Context, args Evaluation) (Evaluation, error) {
	return args, nil
}
