package normalizer

import (
	"fmt"

	"tablenorm/internal/domain"
)

const systemPrompt = `You are a data normalization engine. You receive one table extracted from a document as JSON with "table_id", "headers" and "rows" (and sometimes "title").

Convert every data row into the canonical schema:
- "type": the category or classification the row belongs to (e.g. revenue, expense, budget line). Use the table title or a grouping column when the row itself does not name it.
- "article": the item, line or article the row describes.
- "amount": the numeric value exactly as written, without currency symbols or thousands separators. Keep decimals as written.
- "year": the four-digit year the amount refers to.

Rules:
1. A table with several year columns (wide layout) produces one output row per (item, year) pair.
2. Skip header repetitions, subtotal lines without an item, and empty rows.
3. Never invent amounts. If a value is missing, leave "amount" as an empty string.
4. If the table carries no year information, infer it from the document context when provided; otherwise leave "year" empty.
5. All values are strings.

Respond with JSON only, no prose:
{"rows": [{"type": "...", "article": "...", "amount": "...", "year": "..."}], "notes": ["optional remarks about ambiguities"]}`

const contextSection = "\n\n# DOCUMENT CONTEXT\n" +
	"The following context was extracted from the PDF document for year inference:\n%s\n\n" +
	"**Use this context to infer missing years when tables lack explicit year columns or temporal references.**"

// buildSystemPrompt returns the instructions, with the document context appended when present.
func buildSystemPrompt(docCtx domain.DocumentContext) string {
	if docCtx.IsAbsent() {
		return systemPrompt
	}
	return systemPrompt + fmt.Sprintf(contextSection, string(docCtx))
}
