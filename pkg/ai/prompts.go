package ai

const ExtractPromptText = `
# Task Context
You are tasked with extracting **structured entity and relationship information** from the provided text segment. The segment is part of a larger document; extract **all details explicitly present in the segment**, without omission.

# Background Data
- **Graph_goal:** [%s]
- **Entity_types:** [%s]
- **Relation_types:** [%s]

The graph goal describes what kind of knowledge graph is being built. Prefer entities and relationships that serve this goal, but never invent information that is not in the text.

# Detailed Task Description & Rules

## Entity Extraction
1. Identify all entities of the specified types [%s].
2. For each entity, extract:
   - **entity_name:** The surface form of the entity exactly as it appears in the text (keep titles and abbreviations, e.g. "Dr. Jane Smith", "J. Smith").
   - **entity_type:** One of the provided types [%s]. Never invent a new type.
   - **entity_description:** A comprehensive description of all attributes, roles, activities, events, timelines, or other explicit details in the text.
   - **attributes:** Key-value facts explicitly stated for the entity (e.g. key "birth_date", value "1912-06-23"). Use lowercase snake_case keys. Omit when none are stated.
   - **confidence:** A numeric score (0.0-1.0) expressing how certain the text is about the entity (explicit naming = high, vague mention = low).
   - **source_quote:** A short verbatim quote from the segment that supports the entity. Copy it exactly, character for character.

## Relationship Extraction
1. From the identified entities, determine all clear relationships between pairs of entities.
2. For each relationship, extract:
   - **source_entity:** name of the source entity, exactly as listed in "entities".
   - **target_entity:** name of the target entity, exactly as listed in "entities".
   - **relation_type:** One of the provided types [%s]. Never invent a new type.
   - **relationship_description:** detailed explanation of how and why the entities are related, based strictly on the text.
   - **confidence:** a numeric score (0.0-1.0) indicating how explicitly the text states the relationship (higher = more explicit).
   - **source_quote:** A short verbatim quote from the segment that supports the relationship.
3. Both endpoints of every relationship must appear in the "entities" array. Relationships with unlisted endpoints are discarded.
4. If the segment names no relationships, return an **empty array** for "relations".

# Examples
**Entity_types:** PERSON, ORGANIZATION
**Relation_types:** WORKS_AT, LEADS
**Text:**
Dr. Jane Smith joined Acme Robotics in 2019. Smith now leads the perception team.

**Output:**
{
  "entities": [
    {
      "entity_name": "Dr. Jane Smith",
      "entity_type": "PERSON",
      "entity_description": "Dr. Jane Smith is a person who joined Acme Robotics in 2019 and now leads the perception team.",
      "attributes": [{"key": "joined", "value": "2019"}],
      "confidence": 0.95,
      "source_quote": "Dr. Jane Smith joined Acme Robotics in 2019."
    },
    {
      "entity_name": "Acme Robotics",
      "entity_type": "ORGANIZATION",
      "entity_description": "Acme Robotics is an organization that Dr. Jane Smith joined in 2019; it has a perception team.",
      "attributes": [],
      "confidence": 0.95,
      "source_quote": "joined Acme Robotics in 2019"
    }
  ],
  "relations": [
    {
      "source_entity": "Dr. Jane Smith",
      "target_entity": "Acme Robotics",
      "relation_type": "WORKS_AT",
      "relationship_description": "Dr. Jane Smith joined Acme Robotics in 2019 and works there on the perception team.",
      "confidence": 0.9,
      "source_quote": "Dr. Jane Smith joined Acme Robotics in 2019."
    }
  ]
}

# Thinking Step by Step
Think step-by-step and extract all entities and relationships as specified.

# Output Formatting
The output must be a single valid JSON object in this structure:
{
  "entities": [
    {
      "entity_name": "string",
      "entity_type": "string",
      "entity_description": "string",
      "attributes": [{"key": "string", "value": "string"}],
      "confidence": "float",
      "source_quote": "string"
    }
  ],
  "relations": [
    {
      "source_entity": "string",
      "target_entity": "string",
      "relation_type": "string",
      "relationship_description": "string",
      "confidence": "float",
      "source_quote": "string"
    }
  ]
}
Do not include any commentary, explanations, or text outside of the JSON.
Always return valid JSON, even if no entities or relationships are found (use empty arrays in that case).
Make sure to follow the rules and output format carefully.
`

const ExtractPromptRecord = `
# Task Context
You are tasked with extracting **structured entity and relationship information** from one record of a structured dataset. The record is given together with its header so every column is labeled.

# Background Data
- **Graph_goal:** [%s]
- **Entity_types:** [%s]
- **Relation_types:** [%s]

# Instructions for Record Data
- Decide whether the record describes **a single entity** with many attributes, or **multiple distinct entities** (e.g., separate columns naming different parties).
- If a single entity is appropriate, extract ONE entity and include every column value as an attribute or in the description.
- If columns reference other entities (names, owners, employers, locations), extract those as entities too and connect them with relationships of the provided types.
- Never invent values that are not in the record.

## Entity Extraction
1. Identify all entities of the specified types [%s].
2. For each entity, extract:
   - **entity_name:** The surface form from the record.
   - **entity_type:** One of the provided types [%s].
   - **entity_description:** A comprehensive description of all column values belonging to the entity.
   - **attributes:** One key-value pair per informative column (lowercase snake_case keys).
   - **confidence:** A numeric score (0.0-1.0).
   - **source_quote:** The column value(s) supporting the entity, copied verbatim.

## Relationship Extraction
1. Determine all clear relationships between pairs of extracted entities.
2. For each relationship, extract **source_entity**, **target_entity**, **relation_type** (one of [%s]), **relationship_description**, **confidence** (0.0-1.0), and **source_quote**.
3. Both endpoints must appear in the "entities" array.
4. If the record implies a single entity, return an **empty array** for "relations".

# Output Formatting
The output must be a single valid JSON object in this structure:
{
  "entities": [
    {
      "entity_name": "string",
      "entity_type": "string",
      "entity_description": "string",
      "attributes": [{"key": "string", "value": "string"}],
      "confidence": "float",
      "source_quote": "string"
    }
  ],
  "relations": [
    {
      "source_entity": "string",
      "target_entity": "string",
      "relation_type": "string",
      "relationship_description": "string",
      "confidence": "float",
      "source_quote": "string"
    }
  ]
}
Do not include any commentary, explanations, or text outside of the JSON.
Always return valid JSON, even if no entities or relationships are found (use empty arrays in that case).
Make sure to follow the rules and output format carefully.
`

// ReformatInstruction is appended to an extraction prompt after a parse or
// schema failure. Each retry restates the contract more strictly.
const ReformatInstruction = `

# Formatting Reminder (attempt %d)
Your previous response could not be parsed as JSON matching the required structure.
- Return ONE JSON object and nothing else: no prose, no markdown fences, no comments.
- Use exactly the field names shown in "Output Formatting". Do not add, rename, or omit fields.
- "confidence" must be a plain number between 0.0 and 1.0, not a string.
- "entities" and "relations" must be arrays; use [] when empty.
- Every string must use double quotes and escape embedded double quotes.
`

const AttributeConsultPrompt = `
# Task Context
You are reviewing two values recorded for the same single-valued attribute of one entity in a knowledge graph. The attribute can only hold one true value, so the graph must know whether the values actually disagree.

# Background Data
- **Entity_name:** [%s]
- **Attribute_key:** [%s]
- **Value_a:** [%s]
- **Value_b:** [%s]

# Detailed Task Description & Rules
- Judge ONLY the two values as assertions about the attribute. Do not use outside knowledge about the entity.
- The verdict is **"contradictory"** when both values cannot be true at the same time (e.g. birth_date "1912-06-23" vs "1915-01-02").
- The verdict is **"complementary"** when the values state the same fact at different precision or formatting (e.g. "June 1912" vs "1912-06-23", "Berlin" vs "Berlin, Germany").
- When in doubt, answer "contradictory". A false conflict only triggers a re-check; a missed conflict corrupts the graph.

# Examples
- birth_date: "1912" vs "1912-06-23" → complementary
- birth_date: "1912-06-23" vs "1913-06-23" → contradictory
- founded: "circa 1890" vs "1891" → complementary
- founded: "1890" vs "1920" → contradictory

# Output Formatting
Return a JSON object with this structure:
{
  "verdict": "contradictory" | "complementary",
  "reason": "string"
}
Do not include any commentary, explanations, or text outside of the JSON.
`

const VocabProposePrompt = `
# Task Context
You design the type vocabulary for a knowledge graph before extraction begins. A good vocabulary is small, unambiguous, and covers everything the graph goal needs.

# Background Data
- **Kind_of_graph:** [%s]
- **Goal_description:** [%s]
- **Corpus_sample:**
%s

# Detailed Task Description & Rules
- Propose between 4 and 12 **entity types**: ALL CAPITAL LETTERS, singular nouns (e.g. PERSON, ORGANIZATION, LOCATION, EVENT, CONCEPT).
- Propose between 4 and 16 **relation types**: ALL_CAPS_SNAKE_CASE verb phrases (e.g. WORKS_AT, LOCATED_IN, PART_OF, FOUNDED_BY).
- Every type must be justified by the goal or the corpus sample; do not pad with generic types the corpus cannot instantiate.
- Types must not overlap in meaning (no COMPANY alongside ORGANIZATION).
- Prefer types that many segments of the corpus will instantiate over one-off types.

# Output Formatting
Return a JSON object with this structure:
{
  "entity_types": ["string"],
  "relation_types": ["string"]
}
Do not include any commentary, explanations, or text outside of the JSON.
`

const VocabCritiquePrompt = `
# Task Context
You are reviewing a proposed type vocabulary for a knowledge graph. Your review decides whether extraction starts with this vocabulary or a revised one.

# Background Data
- **Kind_of_graph:** [%s]
- **Goal_description:** [%s]
- **Proposed_entity_types:** [%s]
- **Proposed_relation_types:** [%s]

# Detailed Task Description & Rules
- Approve the vocabulary only when every type is unambiguous, non-overlapping, and useful for the stated goal.
- If you revise, return the COMPLETE corrected lists, not a diff. Keep the naming conventions (entity types: ALL CAPS singular nouns, relation types: ALL_CAPS_SNAKE_CASE).
- Remove types that overlap or that the goal cannot use; add types only when the goal clearly needs them.
- Keep entity types between 4 and 12 and relation types between 4 and 16.

# Output Formatting
Return a JSON object with this structure:
{
  "approved": "bool",
  "entity_types": ["string"],
  "relation_types": ["string"],
  "reason": "string"
}
When approved is true, repeat the proposed lists unchanged.
Do not include any commentary, explanations, or text outside of the JSON.
`

const DescPrompt = `
# Task Context
You are a highly detail-oriented assistant responsible for creating a complete and comprehensive summary based only on the information provided below.

# Background Data
-- Data --
entity_name: %s
entity_descriptions:
%s

# Detailed Task Description & Rules
- The input consists of multiple descriptive segments related to the same entity or its relationships.
- Your task is to merge these into one unified description that includes every relevant detail from the segments, without omitting anything important.
- Do not leave out any specific detail, especially about actions, events, quantities, frequencies, or timelines.
- If the descriptions contain overlapping information, merge them into a single coherent narrative.
- If there are contradictions, include both versions clearly.
- Use third person at all times and explicitly include entity names to preserve full context.
- The description must be short and compact: at most 100 words, preferably one to four clear sentences.
- Only use the information given in the segments. Do not infer, assume, or add external knowledge.

# Output Formatting
- Return plain text only. Do not use markdown, lists, bullet points, or meta-comments.
- Do not add introductions, explanations, or closing remarks. Output only the final comprehensive description.
`

const DescUpdatePrompt = `
# Task Context
You are a highly detail-oriented assistant responsible for updating an existing summary with new information.

# Background Data
-- Data --
entity_name: %s
current_description: %s
new_entity_descriptions:
%s

# Detailed Task Description & Rules
- You are given an existing description and new descriptive segments for the same entity.
- Merge the new information into the existing description, creating one unified description.
- Give equal weight to existing and new information - revise as needed based on new details.
- Do not leave out any specific detail from either the existing description or new segments.
- If there are contradictions, include both versions clearly.
- Use third person at all times and explicitly include entity names to preserve full context.
- The description must be short and compact: at most 100 words, preferably one to four clear sentences.
- Only use the information given. Do not infer, assume, or add external knowledge.

# Output Formatting
- Return plain text only. Do not use markdown, lists, bullet points, or meta-comments.
- Do not add introductions, explanations, or closing remarks. Output only the final comprehensive description.
`
