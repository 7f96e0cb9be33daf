// Package prompt renders the instruction strings sent to the language model.
//
// The wording is part of the response cache key: changing a single byte
// (including the indentation of continuation lines) invalidates every entry
// recorded for that template.
package prompt

import "strings"

const listSeparator = ", "

// TextbookInput is the material for generating questions from a textbook page.
type TextbookInput struct {
	OCRText       string
	KnownWords    []string
	TargetSubject string
}

// QuestionsWithNewVocab asks for questions themed on Journey to the West that
// force the learner to use each new vocabulary word.
func QuestionsWithNewVocab(newVocab []string) string {
	return "The following are a list of Chinese words I need to learn. \n" +
		"  Can you ask me a set of questions in which i have to use them to answer. \n" +
		"  The theme of the questions is the classic story Journey to the West. \n" +
		"  Try to have all the non new vocab words be HSK3, or at most HSK4.\n" +
		"  New Vocabulary: " + strings.Join(newVocab, listSeparator)
}

// QuestionsFromTextbook asks for questions that teach the same vocabulary and
// grammar as the OCR'd page, reframed around the learner's subject.
func QuestionsFromTextbook(in TextbookInput) string {
	return "The following text is the result of running OCR on a textbook page: " + in.OCRText + "\n" +
		"  I know the following words: " + strings.Join(in.KnownWords, listSeparator) + "\n" +
		"  Can you generate a list of questions from the textbook's text that teach me the same vocabulary/grammar, " +
		"but make the questions about the " + in.TargetSubject + "? This subject is more interesting to me."
}

// CheckIdiomaticChinese asks whether an answer to a quiz question is idiomatic,
// without giving the corrected sentence away.
func CheckIdiomaticChinese(question, answer string) string {
	return "The following is question from a quiz.  \n" +
		"  I need to answer it in idiomatic Chinese, but I should only try to use HSK3 and HSK4 terms in my answer, \n" +
		"  unless the specific term I need is higher level.\n" +
		"  Can you tell me if it's fully idiomatic and correct, or if there's anything I can improve?\n" +
		"  Don't tell me exactly what i should say, so that I have the opportunity to try to correct my sentence\n" +
		"  Question: " + question + "\n" +
		"  Answer: " + answer
}

// EvaluateCorrectness asks whether a response fulfils a completion criteria.
func EvaluateCorrectness(criteria, response string) string {
	return "The following is a criteria for completion of a request: \"" + criteria + "\".\n" +
		"    Does the following response to the request fulfill the criteria?\n" +
		"    " + response + "\n" +
		"    "
}
