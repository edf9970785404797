package ai

import (
	"context"
	"fmt"
	"strings"

	gUtil "github.com/OFFIS-RIT/quill/internal/util"
)

const DedupeBatchSize = 300

// DedupeCandidate is one graph entity offered for duplicate detection.
type DedupeCandidate struct {
	Name string
	Type string
}

// DuplicateGroup represents a group of duplicate entities with a canonical name
type DuplicateGroup struct {
	Name     string   `json:"canonicalName" jsonschema_description:"The final name for the deduplicated entities."`
	Entities []string `json:"entities" jsonschema_description:"List of entity names that are considered duplicates."`
}

// DuplicatesResponse is the response from the AI dedupe call
type DuplicatesResponse struct {
	Duplicates []DuplicateGroup `json:"duplicates" jsonschema_description:"List of groups of duplicate entities."`
}

// CallDedupeAI asks the model which candidates name the same entity.
// Batches larger than DedupeBatchSize are rejected; callers split them.
func CallDedupeAI(
	ctx context.Context,
	candidates []DedupeCandidate,
	aiClient GraphAIClient,
	maxRetries int,
) (*DuplicatesResponse, error) {
	if maxRetries < 1 {
		maxRetries = 1
	}
	if aiClient == nil {
		return nil, fmt.Errorf("ai client is nil")
	}

	cleaned := make([]DedupeCandidate, 0, len(candidates))
	for _, c := range candidates {
		name := NormalizeDedupeValue(c.Name)
		typeName := NormalizeDedupeValue(c.Type)
		if name == "" || typeName == "" {
			continue
		}
		cleaned = append(cleaned, DedupeCandidate{Name: name, Type: typeName})
	}
	if len(cleaned) < 2 {
		return &DuplicatesResponse{Duplicates: []DuplicateGroup{}}, nil
	}
	if len(cleaned) > DedupeBatchSize {
		return nil, fmt.Errorf("dedupe batch size exceeded: %d > %d", len(cleaned), DedupeBatchSize)
	}

	var entityData strings.Builder
	entityData.WriteString("Entities:\n")
	for _, e := range cleaned {
		fmt.Fprintf(&entityData, "- Name: %s, Type: %s\n", e.Name, e.Type)
	}
	prompt := fmt.Sprintf(DedupePrompt, entityData.String())

	var res DuplicatesResponse
	err := gUtil.RetryErrWithContext(ctx, maxRetries, func(ctx context.Context) error {
		return aiClient.GenerateCompletionWithFormat(
			ctx, "dedupe_entities", "Deduplicate similar entities.", prompt, &res,
			WithTemperature(0.1),
		)
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// NormalizeDedupeValue collapses whitespace for dedupe comparisons.
func NormalizeDedupeValue(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	return strings.Join(strings.Fields(value), " ")
}
