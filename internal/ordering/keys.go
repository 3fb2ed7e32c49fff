package ordering

// Cache key conventions. One key per orderable set; the key identifies
// the set independently of the current mode, so an author-side mode
// change cannot invalidate an order a respondent already saw.

// PageQuestionsKey is the cache key for the question order on a page.
func PageQuestionsKey(pageID string) string {
	return "page:" + pageID + ":questions"
}

// QuestionOptionsKey is the cache key for a question's option order.
func QuestionOptionsKey(questionID string) string {
	return "question:" + questionID + ":options"
}

// QuestionItemsKey is the cache key for a matrix question's row order.
func QuestionItemsKey(questionID string) string {
	return "question:" + questionID + ":items"
}

// QuestionScalesKey is the cache key for a matrix question's column order.
func QuestionScalesKey(questionID string) string {
	return "question:" + questionID + ":scales"
}
