package llm

import "fmt"

const textSystemPrompt = `You extract product lines from delivery slips. Reply with a single JSON object and nothing else.`

// textUserPrompt builds the text-mode instruction set around cleaned page text
func textUserPrompt(text string) string {
	return fmt.Sprintf(`Extract every product line from the delivery slip text below.

Return JSON of the form {"products": [ ... ]} where each product has exactly these keys:
- "ProductID": the line number on the slip, 1 to 3 digits
- "SKU": the article number, exactly 5 digits
- "Article Description Batch": the product description including batch text
- "Expiry Date": the best-before date formatted DD.MM.YYYY
- "EAN Serial No": the 13 or 14 digit barcode, or "" if none
- "Remark": any remark on the line, or ""
- "Order QTY": ordered quantity as written
- "Ship QTY": shipped quantity as written
- "UOM": unit of measure as written

Rules:
- Use "" for values that are missing. Never invent values.
- Convert dates like 2030-12-31 or 31/12/30 to 31.12.2030.
- Do not include headers, totals or addresses as products.
- If the page has no product lines return {"products": []}.

Text:
%s`, text)
}

const visionPrompt = `This photo shows a list of products with expiry dates.

Return only JSON of the form {"products": [{"product_name": "...", "expiry_date": "DD.MM.YYYY"}]}.

Rules:
- One entry per product line you can read.
- Write every date as DD.MM.YYYY with a four digit year.
- Skip lines where the product name or the date cannot be read.
- If no products are visible return {"products": []}.`
