package ai

// ExtractSystemPrompt is sent as system prompt with every extraction request.
// The two %s placeholders receive the allowed entity and relation types.
const ExtractSystemPrompt = `
# Task Context
You are a literary analyst building a knowledge graph of a work of fiction. You read one passage at a time and record the characters, places, events, themes and objects it mentions and how they relate.

# Allowed Types
Entity types: %s
Relation types: %s

# Detailed Task Description & Rules
- Only extract what the passage states or clearly implies. Do not invent backstory.
- Use the name exactly as written in the passage for "text". Put the fullest form of the name in "canonical_name" (e.g. "Dr. Marcus Hale" for "Marcus").
- List nicknames or other surface forms used for the same entity in "aliases".
- Record stated facts about an entity in "attributes" with short lowercase keys: age, location, hair, eyes, height, occupation, relationship.
- Every relationship must connect two entities you listed. Direction matters: "Emma lives in Ravenholm" is Emma LOCATED_IN Ravenholm.
- "confidence" is a number between 0 and 1 reflecting how explicit the passage is.
- "context_snippet" is the shortest sentence of the passage that supports the relationship.

# Output Formatting
Return only a JSON object with this structure:
{
  "entities": [
    {"text": "<as written>", "canonical_name": "<full name>", "type": "<entity type>", "confidence": 0.9, "aliases": [], "attributes": {"age": "19"}}
  ],
  "relationships": [
    {"source": "<entity name>", "target": "<entity name>", "relation_type": "<relation type>", "confidence": 0.8, "context_snippet": "<sentence>"}
  ]
}
`

// ExtractUserPrompt wraps the passage under analysis.
const ExtractUserPrompt = `
# Passage
%s

# Immediate Task Description or Request
Extract entities and relationships from the passage above.
`

// ConsistencyPrompt asks the model to classify a statement against known facts.
// Placeholders: statement, established facts, attribute categories.
const ConsistencyPrompt = `
# Task Context
You help a novelist keep their story consistent. You compare a new statement with facts already established in earlier chapters.

# Background Data
New statement:
%s

Established facts (one per line, with source):
%s

# Detailed Task Description & Rules
- Only compare facts in these categories: %s.
- A conflict exists when the statement gives a different value for the same attribute of the same entity.
- A confirmation exists when the statement repeats an established value.
- Ignore facts that the statement does not touch.
- Never report the same pair of facts twice.

# Output Formatting
Return a JSON object listing conflicts and confirmations. Each item names the entity, the attribute category, the value in the statement, the established value and its source.
`

// SuggestionPrompt asks for short writing suggestions grounded in graph state.
const SuggestionPrompt = `
# Task Context
You are a developmental editor. The author is writing the passage below and wants suggestions of type "%s".

# Background Data
Passage:
%s

Known story state:
%s

# Detailed Task Description & Rules
- Give at most three concrete suggestions.
- Each suggestion must be grounded in the story state above; name the fact it is based on.
- Do not rewrite the passage.

# Output Formatting
Return a JSON object: {"suggestions": [{"type": "<type>", "suggestion": "<text>", "based_on": "<fact>"}]}
`

// DedupePrompt lists graph entities and asks for groups naming the same one.
const DedupePrompt = `
# Task Context
You are a helpful assistant specialized in identifying duplicate entities in the knowledge graph of a novel. You will be provided with a list of entities.

# Background Data
%s

# Detailed Task Description & Rules
- Find entities that refer to the same character, place, event, theme or object.
- Consider nicknames, titles and partial names (e.g., "Dr. Hale" and "Marcus Hale").
- Be careful: relatives sharing a surname are separate characters (e.g., "Mr. Hale" and "Marcus Hale" may differ).
- Entities of different types are never duplicates.
- Choose the most complete name as canonical name for each group.

# Output Formatting
Return a JSON object with this structure:
{
  "duplicates": [
    {
      "canonicalName": "<chosen final name>",
      "entities": ["<name1>", "<name2>"]
    }
  ]
}
`
