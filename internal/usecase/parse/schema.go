package parse

// itemsSchema is the exact shape the prompt asks the oracle for.
const itemsSchema = `{
  "type": "array",
  "minItems": 1,
  "items": {
    "type": "object",
    "required": ["Card_ID", "Reason For Choice"],
    "additionalProperties": false,
    "properties": {
      "Card_ID": {"type": "string", "minLength": 1},
      "Reason For Choice": {"type": "string", "minLength": 1}
    }
  }
}`

// idKeys are tried in order, ignoring case, when an object does not follow the schema.
var idKeys = []string{
	"Card_ID", "CardID", "id",
	"Card_Name", "CardName",
	"name", "title",
}

// reasonKeys are matched the same way as idKeys.
var reasonKeys = []string{
	"Reason For Choice", "Reason_For_Choice", "ReasonForChoice",
	"reason", "explanation", "justification", "why", "description",
}

// wrapperKeys hold the list when the oracle wraps its answer in an object.
var wrapperKeys = []string{"recommendations", "recommended_cards", "cards", "results", "data", "items"}
